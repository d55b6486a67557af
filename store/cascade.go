package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// CascadeReport is the outcome of a cascade delete.
type CascadeReport struct {
	Root    Ref
	Deleted []Ref
	Failed  []CascadeFailure
}

// RootDeleted reports whether the root record itself was deleted.
func (r CascadeReport) RootDeleted() bool {
	for _, ref := range r.Deleted {
		if ref == r.Root {
			return true
		}
	}
	return false
}

// Err returns a *CascadeError when any node failed, nil otherwise.
func (r CascadeReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	return &CascadeError{Root: r.Root, Succeeded: r.Deleted, Failed: r.Failed}
}

// cascade deletes a record after all of its descendants, following the
// relationship registry depth-first. Siblings are deleted concurrently and
// awaited as a set before their parent is touched.
//
// A cascade is a sequence of independently committed transactions, not one
// atomic unit. Once started it runs to completion even if the caller's
// context is cancelled.
type cascade struct {
	registry *Registry
	nodes    map[Collection]node
	policy   CascadePolicy
	limit    int
	logger   *slog.Logger
}

type cascadeState struct {
	mu      sync.Mutex
	deleted []Ref
	failed  []CascadeFailure
}

func (st *cascadeState) ok(ref Ref) {
	st.mu.Lock()
	st.deleted = append(st.deleted, ref)
	st.mu.Unlock()
}

func (st *cascadeState) fail(ref Ref, err error) {
	st.mu.Lock()
	st.failed = append(st.failed, CascadeFailure{Ref: ref, Err: err})
	st.mu.Unlock()
}

func (c *cascade) run(ctx context.Context, root Ref) CascadeReport {
	ctx = context.WithoutCancel(ctx)
	logger := c.logger.With("cascadeID", uuid.NewString(), "root", root.String())

	if c.registry.HasChildren(root.Collection) {
		logger.Info("cascade delete started", "policy", string(c.policy))
	}

	st := &cascadeState{}
	c.deleteNode(ctx, root, st, logger)

	report := CascadeReport{Root: root, Deleted: st.deleted, Failed: st.failed}
	if len(report.Failed) > 0 {
		logger.Warn("cascade delete incomplete",
			"deleted", len(report.Deleted),
			"failed", len(report.Failed),
			"error", report.Err(),
		)
	} else if c.registry.HasChildren(root.Collection) {
		logger.Info("cascade delete completed", "deleted", len(report.Deleted))
	}
	return report
}

// deleteNode deletes ref's children, waits for all of them, then deletes ref.
// It reports whether ref was deleted.
func (c *cascade) deleteNode(ctx context.Context, ref Ref, st *cascadeState, logger *slog.Logger) bool {
	n, ok := c.nodes[ref.Collection]
	if !ok {
		st.fail(ref, fmt.Errorf("unknown collection %s", ref.Collection))
		return false
	}

	childFailed := false
	for _, rel := range c.registry.ChildrenOf(ref.Collection) {
		child, ok := c.nodes[rel.Child]
		if !ok {
			st.fail(ref, fmt.Errorf("unknown child collection %s", rel.Child))
			childFailed = true
			continue
		}
		ids, err := child.childIDs(ctx, rel, ref.ID)
		if err != nil {
			st.fail(ref, fmt.Errorf("list %s of %s: %w", rel.Child, ref, err))
			childFailed = true
			continue
		}
		if len(ids) == 0 {
			continue
		}

		logger.Debug("deleting children", "parent", ref.String(), "collection", string(rel.Child), "count", len(ids))

		var failed atomic.Bool
		var g errgroup.Group
		g.SetLimit(c.limit)
		for _, id := range ids {
			childRef := Ref{Collection: rel.Child, ID: id}
			g.Go(func() error {
				if !c.deleteNode(ctx, childRef, st, logger) {
					failed.Store(true)
				}
				return nil
			})
		}
		_ = g.Wait()
		if failed.Load() {
			childFailed = true
		}
	}

	if childFailed && c.policy == CascadeStrict {
		st.fail(ref, ErrHasChildren)
		return false
	}

	if err := n.deleteOne(ctx, ref.ID); err != nil {
		st.fail(ref, err)
		return false
	}
	st.ok(ref)
	return true
}
