package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jacentio/coursetree/stream"
)

// node is the type-erased view of a repository used by the cascade
// orchestrator and by parent validation.
type node interface {
	childIDs(ctx context.Context, rel Relationship, parentID int64) ([]int64, error)
	deleteOne(ctx context.Context, id int64) error
	exists(ctx context.Context, id int64) (bool, error)
}

// repository implements CRUD for one collection on top of Execute. Exported
// methods follow the sentinel policy: failures are logged and reported as
// an empty result, false or FailedID.
type repository[E Entity] struct {
	store      *Store
	collection Collection
	topic      *stream.Topic[E]
	logger     *slog.Logger

	// publishMu orders read-then-publish so the last snapshot published is
	// never older than the last one read.
	publishMu sync.Mutex
}

func newRepository[E Entity](s *Store, collection Collection) (*repository[E], error) {
	topic, err := stream.TopicFor[E](s.streams, string(collection))
	if err != nil {
		return nil, err
	}
	return &repository[E]{
		store:      s,
		collection: collection,
		topic:      topic,
		logger:     s.logger.With("collection", string(collection)),
	}, nil
}

// GetAll returns every record ordered by id and publishes them as the new
// snapshot. On failure it returns an empty slice and publishes nothing.
func (r *repository[E]) GetAll(ctx context.Context) []E {
	all, err := r.getAll(ctx)
	if err != nil {
		r.logger.Error("get all failed", "error", err)
		return []E{}
	}
	return all
}

func (r *repository[E]) getAll(ctx context.Context) ([]E, error) {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	all, err := Execute(ctx, r.store, r.collection, ReadOnly, func(ctx context.Context, h Handle) ([]E, error) {
		var out []E
		if err := h.GetAll(ctx, &out); err != nil {
			return nil, err
		}
		if out == nil {
			out = []E{}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	r.topic.Publish(all)
	return all, nil
}

// GetByID returns the record with id. It never publishes.
func (r *repository[E]) GetByID(ctx context.Context, id int64) (E, bool) {
	e, found, err := r.getByID(ctx, id)
	if err != nil {
		r.logger.Error("get by id failed", "id", id, "error", err)
	}
	return e, found
}

type lookup[E any] struct {
	entity E
	found  bool
}

func (r *repository[E]) getByID(ctx context.Context, id int64) (E, bool, error) {
	res, err := Execute(ctx, r.store, r.collection, ReadOnly, func(ctx context.Context, h Handle) (lookup[E], error) {
		var l lookup[E]
		found, err := h.Get(ctx, id, &l.entity)
		l.found = found
		return l, err
	})
	if err != nil {
		var zero E
		return zero, false, err
	}
	return res.entity, res.found, nil
}

// filter is GetAll followed by an in-memory predicate.
func (r *repository[E]) filter(ctx context.Context, keep func(E) bool) []E {
	all := r.GetAll(ctx)
	matched := make([]E, 0, len(all))
	for _, e := range all {
		if keep(e) {
			matched = append(matched, e)
		}
	}
	return matched
}

// Add stores a record whose id is unset and returns the generated id.
// The collection snapshot is refreshed afterwards. Returns FailedID on failure.
func (r *repository[E]) Add(ctx context.Context, e E) int64 {
	id, err := r.add(ctx, e)
	if err != nil {
		r.logger.Error("add failed", "error", err)
		return FailedID
	}
	return id
}

func (r *repository[E]) add(ctx context.Context, e E) (int64, error) {
	if e.GetID() != 0 {
		return FailedID, fmt.Errorf("%w: id must be unset on add, got %d", ErrInvalidRecord, e.GetID())
	}
	if err := r.check(ctx, e); err != nil {
		return FailedID, err
	}

	id, err := Execute(ctx, r.store, r.collection, ReadWrite, func(ctx context.Context, h Handle) (int64, error) {
		return h.Add(ctx, e)
	})
	if err != nil {
		return FailedID, err
	}
	r.logger.Debug("added", "id", id)
	r.refresh(ctx)
	return id, nil
}

// Update replaces the stored record with the same id. Unknown ids fail with
// ErrNotFound rather than inserting.
func (r *repository[E]) Update(ctx context.Context, e E) bool {
	if err := r.update(ctx, e); err != nil {
		r.logError("update failed", e.GetID(), err)
		return false
	}
	return true
}

func (r *repository[E]) update(ctx context.Context, e E) error {
	id := e.GetID()
	if id <= 0 {
		return fmt.Errorf("%w: id is required on update", ErrInvalidRecord)
	}
	if err := r.check(ctx, e); err != nil {
		return err
	}

	_, err := Execute(ctx, r.store, r.collection, ReadWrite, func(ctx context.Context, h Handle) (struct{}, error) {
		return struct{}{}, h.Put(ctx, id, e)
	})
	if err != nil {
		return err
	}
	r.logger.Debug("updated", "id", id)
	r.refresh(ctx)
	return nil
}

// Delete removes the record with id. For collections with children the
// cascade orchestrator deletes descendants first. Returns false when the
// record itself was not deleted, including when it did not exist.
func (r *repository[E]) Delete(ctx context.Context, id int64) bool {
	report := r.store.cascade.run(ctx, Ref{Collection: r.collection, ID: id})
	return report.RootDeleted()
}

// Subscribe opens a replay-one stream of full collection snapshots.
func (r *repository[E]) Subscribe(ctx context.Context) *stream.Subscription[E] {
	return r.topic.Subscribe(ctx)
}

// Snapshot returns the most recently published snapshot without reading
// storage.
func (r *repository[E]) Snapshot() ([]E, bool) {
	return r.topic.Latest()
}

// check validates fields and the parent reference, if any.
func (r *repository[E]) check(ctx context.Context, e E) error {
	if err := e.Validate(); err != nil {
		return err
	}
	pr, ok := any(e).(ParentReferrer)
	if !ok {
		return nil
	}
	parent := pr.ParentRef()
	n, ok := r.store.nodes[parent.Collection]
	if !ok {
		return fmt.Errorf("%w: unknown collection %s", ErrParentNotFound, parent.Collection)
	}
	found, err := n.exists(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("check parent %s: %w", parent, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrParentNotFound, parent)
	}
	return nil
}

// refresh re-reads the collection and publishes it. A failed refresh does not
// undo the mutation that triggered it.
func (r *repository[E]) refresh(ctx context.Context) {
	if _, err := r.getAll(ctx); err != nil {
		r.logger.Warn("snapshot refresh failed", "error", err)
	}
}

func (r *repository[E]) logError(msg string, id int64, err error) {
	if errors.Is(err, ErrNotFound) {
		r.logger.Info(msg, "id", id, "error", err)
		return
	}
	r.logger.Error(msg, "id", id, "error", err)
}

// childIDs returns the ids of records whose rel.ForeignKey attribute equals
// parentID. Records that don't expose that attribute never match.
func (r *repository[E]) childIDs(ctx context.Context, rel Relationship, parentID int64) ([]int64, error) {
	all, err := r.getAll(ctx)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, e := range all {
		fk, ok := any(e).(ForeignKeyer)
		if !ok {
			continue
		}
		if v, ok := fk.ForeignKey(rel.ForeignKey); ok && v == parentID {
			ids = append(ids, e.GetID())
		}
	}
	return ids, nil
}

func (r *repository[E]) deleteOne(ctx context.Context, id int64) error {
	_, err := Execute(ctx, r.store, r.collection, ReadWrite, func(ctx context.Context, h Handle) (struct{}, error) {
		return struct{}{}, h.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	r.logger.Debug("deleted", "id", id)
	r.refresh(ctx)
	return nil
}

func (r *repository[E]) exists(ctx context.Context, id int64) (bool, error) {
	_, found, err := r.getByID(ctx, id)
	return found, err
}

// UserRepository provides CRUD for users. Deleting a user deletes its
// courses and their lessons first.
type UserRepository struct {
	*repository[User]
}

// CourseRepository provides CRUD for courses. Deleting a course deletes its
// lessons first.
type CourseRepository struct {
	*repository[Course]
}

// GetByUserID returns the courses owned by userID.
func (r CourseRepository) GetByUserID(ctx context.Context, userID int64) []Course {
	return r.filter(ctx, func(c Course) bool { return c.UserID == userID })
}

// GetByCategory returns the courses in category (exact match).
func (r CourseRepository) GetByCategory(ctx context.Context, category string) []Course {
	return r.filter(ctx, func(c Course) bool { return c.Category == category })
}

// LessonRepository provides CRUD for lessons.
type LessonRepository struct {
	*repository[Lesson]
}

// GetByCourseID returns the lessons of courseID.
func (r LessonRepository) GetByCourseID(ctx context.Context, courseID int64) []Lesson {
	return r.filter(ctx, func(l Lesson) bool { return l.CourseID == courseID })
}
