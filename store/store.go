package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jacentio/coursetree/internal/backend"
	"github.com/jacentio/coursetree/internal/backend/dynamo"
	"github.com/jacentio/coursetree/internal/backend/sqlite"
	"github.com/jacentio/coursetree/stream"
)

// Store is an open coursetree database: the storage engine, the snapshot
// topics and one repository per collection.
type Store struct {
	config   Config
	logger   *slog.Logger
	registry *Registry
	streams  *stream.Registry

	mu      sync.RWMutex
	backend backend.Backend
	closed  bool

	nodes   map[Collection]node
	cascade *cascade

	users   UserRepository
	courses CourseRepository
	lessons LessonRepository
}

// Option configures Open.
type Option func(*Store)

// WithLogger sets the logger. A nil logger means slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithBackend uses b instead of opening the engine named by Config.Backend.
// The store takes ownership of b and closes it on Close.
func WithBackend(b backend.Backend) Option {
	return func(s *Store) {
		s.backend = b
	}
}

// WithRegistry replaces the default Users → Courses → Lessons relationships
// used by cascade deletes.
func WithRegistry(registry *Registry) Option {
	return func(s *Store) {
		s.registry = registry
	}
}

// Open opens the configured backend, creates any missing collections and
// loads every collection once so that each topic holds an initial snapshot.
// Any failure is reported as ErrStoreUnavailable.
func Open(ctx context.Context, config Config, opts ...Option) (*Store, error) {
	config.validate()

	s := &Store{config: config}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.registry == nil {
		s.registry = DefaultRegistry()
	}

	if s.backend == nil {
		b, err := openBackend(ctx, config)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
		}
		s.backend = b
	}

	if err := ensureSchema(ctx, s.backend); err != nil {
		_ = s.backend.Close()
		return nil, err
	}

	if err := s.init(); err != nil {
		_ = s.backend.Close()
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	s.loadAll(ctx)

	s.logger.Info("store opened",
		"backend", config.Backend,
		"cascadePolicy", string(config.CascadePolicy),
	)
	return s, nil
}

func openBackend(ctx context.Context, config Config) (backend.Backend, error) {
	switch config.Backend {
	case BackendSQLite:
		return sqlite.Open(config.SQLitePath)
	case BackendDynamoDB:
		return dynamo.Open(ctx, dynamo.Config{
			Region:           config.DynamoDBRegion,
			Endpoint:         config.DynamoDBEndpoint,
			TablePrefix:      config.TablePrefix,
			TableWaitTimeout: config.TableWaitTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", config.Backend)
	}
}

func (s *Store) init() error {
	s.streams = stream.NewRegistry(s.config.SubscriberBuffer, s.logger)

	users, err := newRepository[User](s, Users)
	if err != nil {
		return err
	}
	courses, err := newRepository[Course](s, Courses)
	if err != nil {
		return err
	}
	lessons, err := newRepository[Lesson](s, Lessons)
	if err != nil {
		return err
	}

	s.users = UserRepository{users}
	s.courses = CourseRepository{courses}
	s.lessons = LessonRepository{lessons}
	s.nodes = map[Collection]node{
		Users:   users,
		Courses: courses,
		Lessons: lessons,
	}
	s.cascade = &cascade{
		registry: s.registry,
		nodes:    s.nodes,
		policy:   s.config.CascadePolicy,
		limit:    s.config.CascadeConcurrency,
		logger:   s.logger,
	}
	return nil
}

// loadAll publishes the initial snapshot of every collection. A collection
// that cannot be read keeps no snapshot until its next successful read.
func (s *Store) loadAll(ctx context.Context) {
	s.users.GetAll(ctx)
	s.courses.GetAll(ctx)
	s.lessons.GetAll(ctx)
}

// acquire returns the backend if the store is open. The caller must call
// release when its transaction is finished; Close waits for every release.
// Transactions must not acquire again while holding the store.
func (s *Store) acquire() (b backend.Backend, release func(), err error) {
	if s == nil {
		return nil, nil, ErrStoreUnavailable
	}
	s.mu.RLock()
	if s.closed || s.backend == nil {
		s.mu.RUnlock()
		return nil, nil, ErrStoreUnavailable
	}
	return s.backend, s.mu.RUnlock, nil
}

// Close waits for in-flight transactions, ends every subscription and closes
// the backend. Operations on a closed store fail with ErrStoreUnavailable.
// Close is idempotent.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.streams.Close()
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	s.logger.Info("store closed")
	return nil
}

// Users returns the user repository.
func (s *Store) Users() UserRepository { return s.users }

// Courses returns the course repository.
func (s *Store) Courses() CourseRepository { return s.courses }

// Lessons returns the lesson repository.
func (s *Store) Lessons() LessonRepository { return s.lessons }

// Registry returns the relationship registry used for cascades.
func (s *Store) Registry() *Registry { return s.registry }

// Config returns the effective configuration after defaults were applied.
func (s *Store) Config() Config { return s.config }

// DeleteCascade deletes the record at (collection, id) and all of its
// descendants, returning the full outcome. The error is a *CascadeError
// when any record could not be deleted, including the root not existing.
func (s *Store) DeleteCascade(ctx context.Context, collection Collection, id int64) (CascadeReport, error) {
	root := Ref{Collection: collection, ID: id}
	_, release, err := s.acquire()
	if err != nil {
		return CascadeReport{Root: root}, err
	}
	release()
	if _, ok := s.nodes[collection]; !ok {
		return CascadeReport{Root: root}, fmt.Errorf("unknown collection %q", collection)
	}
	report := s.cascade.run(ctx, root)
	return report, report.Err()
}
