package store

import (
	"context"
	"time"

	"github.com/jacentio/coursetree/internal/backend"
)

// Mode is the access mode of a transaction.
type Mode = backend.Mode

// Transaction modes.
const (
	ReadOnly  = backend.ReadOnly
	ReadWrite = backend.ReadWrite
)

// Handle is the per-collection view passed to an Execute operation.
type Handle = backend.Handle

// Execute runs op inside exactly one transaction on collection and returns its
// single result. The transaction commits only if op succeeds. Failures are
// returned as *TransactionError; an unopened or closed store yields
// ErrStoreUnavailable.
func Execute[T any](ctx context.Context, s *Store, collection Collection, mode Mode, op func(ctx context.Context, h Handle) (T, error)) (T, error) {
	var zero T

	b, release, err := s.acquire()
	if err != nil {
		return zero, err
	}
	defer release()

	start := time.Now()
	tx, err := b.Begin(ctx, string(collection), mode)
	if err != nil {
		return zero, &TransactionError{Collection: collection, Mode: mode, Err: err}
	}

	var h Handle = tx
	if mode == ReadOnly {
		h = readOnlyHandle{Handle: tx}
	}

	v, err := op(ctx, h)
	if err != nil {
		_ = tx.Rollback()
		return zero, &TransactionError{Collection: collection, Mode: mode, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return zero, &TransactionError{Collection: collection, Mode: mode, Err: err}
	}

	s.logger.Debug("transaction committed",
		"collection", collection,
		"mode", mode.String(),
		"duration", time.Since(start),
	)
	return v, nil
}

// readOnlyHandle rejects mutations regardless of what the engine allows.
type readOnlyHandle struct {
	Handle
}

func (readOnlyHandle) Add(context.Context, any) (int64, error) { return 0, ErrReadOnly }
func (readOnlyHandle) Put(context.Context, int64, any) error  { return ErrReadOnly }
func (readOnlyHandle) Delete(context.Context, int64) error    { return ErrReadOnly }
