package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jacentio/coursetree/internal/backend"
)

var (
	// ErrStoreUnavailable is returned when the store is not open: it failed to
	// initialize, was never opened, or has been closed.
	ErrStoreUnavailable = errors.New("coursetree: store unavailable")

	// ErrTransactionFailed matches every *TransactionError.
	ErrTransactionFailed = errors.New("coursetree: transaction failed")

	// ErrNotFound is returned when a record addressed by id doesn't exist.
	ErrNotFound = backend.ErrNotFound

	// ErrReadOnly is returned when a read-only transaction attempts a mutation.
	ErrReadOnly = errors.New("coursetree: mutation in read-only transaction")

	// ErrInvalidRecord is returned when a record fails field validation.
	ErrInvalidRecord = errors.New("coursetree: invalid record")

	// ErrParentNotFound is returned when a record references a missing parent.
	ErrParentNotFound = errors.New("coursetree: parent entity not found")

	// ErrHasChildren is returned by a strict cascade when a parent was kept
	// because some of its children could not be deleted.
	ErrHasChildren = errors.New("coursetree: entity has undeleted children")

	// ErrCascadeFailed matches every *CascadeError.
	ErrCascadeFailed = errors.New("coursetree: cascade delete failed")
)

// TransactionError reports a rejected transaction. It matches
// ErrTransactionFailed and unwraps to the underlying cause.
type TransactionError struct {
	Collection Collection
	Mode       Mode
	Err        error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("coursetree: %s transaction on %s failed: %v", e.Mode, e.Collection, e.Err)
}

func (e *TransactionError) Is(target error) bool { return target == ErrTransactionFailed }

func (e *TransactionError) Unwrap() error { return e.Err }

// CascadeFailure is one node of a cascade that could not be deleted.
type CascadeFailure struct {
	Ref Ref
	Err error
}

// CascadeError reports a cascade delete that did not fully succeed.
// It matches ErrCascadeFailed.
type CascadeError struct {
	Root      Ref
	Succeeded []Ref
	Failed    []CascadeFailure
}

func (e *CascadeError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Ref, f.Err))
	}
	return fmt.Sprintf("coursetree: cascade delete of %s: %d deleted, %d failed [%s]",
		e.Root, len(e.Succeeded), len(e.Failed), strings.Join(parts, "; "))
}

func (e *CascadeError) Is(target error) bool { return target == ErrCascadeFailed }

// Unwrap exposes the individual failures to errors.Is and errors.As.
func (e *CascadeError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}
