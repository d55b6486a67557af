// Package coursectl implements the coursetree operator command: open a store,
// seed it, list it, delete from it or watch its snapshots.
package coursectl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-json"

	"github.com/jacentio/coursetree/seed"
	"github.com/jacentio/coursetree/store"
	"github.com/jacentio/coursetree/stream"
)

// Config holds coursectl configuration.
type Config struct {
	Backend          string        `env:"COURSETREE_BACKEND" envDefault:"sqlite"`
	DBPath           string        `env:"COURSETREE_DB_PATH" envDefault:"coursetree.db"`
	DynamoDBEndpoint string        `env:"COURSETREE_DYNAMODB_ENDPOINT"`
	DynamoDBRegion   string        `env:"COURSETREE_DYNAMODB_REGION" envDefault:"us-east-1"`
	TablePrefix      string        `env:"COURSETREE_TABLE_PREFIX" envDefault:"coursetree_"`
	CascadePolicy    string        `env:"COURSETREE_CASCADE_POLICY" envDefault:"best-effort"`
	Timeout          time.Duration `env:"COURSETREE_TIMEOUT" envDefault:"30s"`
	LogLevel         string        `env:"COURSETREE_LOG_LEVEL" envDefault:"warn"`

	Seed         bool
	List         bool
	DeleteUser   int64
	DeleteCourse int64
	DeleteLesson int64
	Watch        string
}

// ParseConfig layers flags over COURSETREE_* environment variables.
// A nil environ reads the process environment.
func ParseConfig(fs *flag.FlagSet, args []string, environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "storage backend (sqlite|dynamodb)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "path to the sqlite database, or :memory:")
	fs.StringVar(&cfg.DynamoDBEndpoint, "dynamodb-endpoint", cfg.DynamoDBEndpoint, "DynamoDB endpoint override, e.g. http://localhost:8000")
	fs.StringVar(&cfg.DynamoDBRegion, "dynamodb-region", cfg.DynamoDBRegion, "DynamoDB region")
	fs.StringVar(&cfg.TablePrefix, "table-prefix", cfg.TablePrefix, "DynamoDB table name prefix")
	fs.StringVar(&cfg.CascadePolicy, "cascade-policy", cfg.CascadePolicy, "cascade delete policy (best-effort|strict)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	fs.BoolVar(&cfg.Seed, "seed", false, "load the baseline data set into an empty store")
	fs.BoolVar(&cfg.List, "list", false, "print every collection as JSON")
	fs.Int64Var(&cfg.DeleteUser, "delete-user", 0, "delete a user with its courses and lessons")
	fs.Int64Var(&cfg.DeleteCourse, "delete-course", 0, "delete a course with its lessons")
	fs.Int64Var(&cfg.DeleteLesson, "delete-lesson", 0, "delete a lesson")
	fs.StringVar(&cfg.Watch, "watch", "", "print snapshots of a collection (users|courses|lessons) until interrupted")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout, ignored with -watch")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// StoreConfig converts the command configuration to a store configuration.
func (c Config) StoreConfig() store.Config {
	cfg := store.DefaultConfig()
	cfg.Backend = c.Backend
	cfg.SQLitePath = c.DBPath
	cfg.DynamoDBEndpoint = c.DynamoDBEndpoint
	cfg.DynamoDBRegion = c.DynamoDBRegion
	cfg.TablePrefix = c.TablePrefix
	cfg.CascadePolicy = store.CascadePolicy(c.CascadePolicy)
	return cfg
}

func (c Config) validate() error {
	switch c.Backend {
	case store.BackendSQLite, store.BackendDynamoDB:
	default:
		return fmt.Errorf("unknown -backend %q", c.Backend)
	}
	switch store.CascadePolicy(c.CascadePolicy) {
	case store.CascadeBestEffort, store.CascadeStrict:
	default:
		return fmt.Errorf("unknown -cascade-policy %q", c.CascadePolicy)
	}

	deletes := 0
	for _, id := range []int64{c.DeleteUser, c.DeleteCourse, c.DeleteLesson} {
		if id < 0 {
			return errors.New("delete ids must be > 0")
		}
		if id > 0 {
			deletes++
		}
	}
	if deletes > 1 {
		return errors.New("only one of -delete-user, -delete-course, -delete-lesson may be set")
	}

	switch store.Collection(c.Watch) {
	case "", store.Users, store.Courses, store.Lessons:
	default:
		return fmt.Errorf("unknown -watch collection %q", c.Watch)
	}
	return nil
}

// Run executes the command. Logs go to errOut, results to out as JSON.
// Without an action flag it lists every collection.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return fmt.Errorf("parse -log-level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(errOut, &slog.HandlerOptions{Level: level}))

	s, err := store.Open(ctx, cfg.StoreConfig(), store.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("close store", "error", err)
		}
	}()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	acted := false

	if cfg.Seed {
		acted = true
		loaded := seed.LoadWithLogger(ctx, logger, s.Users(), s.Courses(), s.Lessons())
		if err := enc.Encode(map[string]bool{"seeded": loaded}); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}

	if ref, ok := cfg.deleteRef(); ok {
		acted = true
		report, err := s.DeleteCascade(ctx, ref.Collection, ref.ID)
		if encErr := enc.Encode(newReportOutput(report)); encErr != nil {
			return fmt.Errorf("write output: %w", encErr)
		}
		if err != nil {
			return err
		}
	}

	if cfg.List || !acted && cfg.Watch == "" {
		if err := enc.Encode(listOutput{
			Users:   s.Users().GetAll(ctx),
			Courses: s.Courses().GetAll(ctx),
			Lessons: s.Lessons().GetAll(ctx),
		}); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
	}

	switch store.Collection(cfg.Watch) {
	case store.Users:
		return watch(ctx, s.Users().Subscribe(ctx), out)
	case store.Courses:
		return watch(ctx, s.Courses().Subscribe(ctx), out)
	case store.Lessons:
		return watch(ctx, s.Lessons().Subscribe(ctx), out)
	}
	return nil
}

func (c Config) deleteRef() (store.Ref, bool) {
	switch {
	case c.DeleteUser > 0:
		return store.Ref{Collection: store.Users, ID: c.DeleteUser}, true
	case c.DeleteCourse > 0:
		return store.Ref{Collection: store.Courses, ID: c.DeleteCourse}, true
	case c.DeleteLesson > 0:
		return store.Ref{Collection: store.Lessons, ID: c.DeleteLesson}, true
	}
	return store.Ref{}, false
}

// watch writes one compact JSON line per snapshot until ctx is done or the
// subscription ends.
func watch[T any](ctx context.Context, sub *stream.Subscription[T], out io.Writer) error {
	defer sub.Close()

	enc := json.NewEncoder(out)
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := enc.Encode(snap); err != nil {
				return fmt.Errorf("write snapshot: %w", err)
			}
		}
	}
}

type listOutput struct {
	Users   []store.User   `json:"users"`
	Courses []store.Course `json:"courses"`
	Lessons []store.Lesson `json:"lessons"`
}

type failureOutput struct {
	Ref   string `json:"ref"`
	Error string `json:"error"`
}

type reportOutput struct {
	Root        string          `json:"root"`
	RootDeleted bool            `json:"rootDeleted"`
	Deleted     []string        `json:"deleted"`
	Failed      []failureOutput `json:"failed"`
}

func newReportOutput(r store.CascadeReport) reportOutput {
	out := reportOutput{
		Root:        r.Root.String(),
		RootDeleted: r.RootDeleted(),
		Deleted:     make([]string, 0, len(r.Deleted)),
		Failed:      make([]failureOutput, 0, len(r.Failed)),
	}
	for _, ref := range r.Deleted {
		out.Deleted = append(out.Deleted, ref.String())
	}
	for _, f := range r.Failed {
		out.Failed = append(out.Failed, failureOutput{Ref: f.Ref.String(), Error: f.Err.Error()})
	}
	return out
}
