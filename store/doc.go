// Package store is a local embedded persistence layer for a three-level
// hierarchy: users own courses, courses own lessons.
//
// A [Store] is opened with [Open]. It creates any missing collections on the
// configured engine (SQLite by default, DynamoDB optionally), then exposes one
// repository per collection:
//
//	s, err := store.Open(ctx, store.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	userID := s.Users().Add(ctx, store.User{Name: "Ada"})
//	courseID := s.Courses().Add(ctx, store.Course{Title: "Go", UserID: userID})
//
// # Repositories
//
// Repository methods never return errors. Failures are logged and reported as
// an empty slice, false, or [FailedID]. Code that needs the underlying error
// uses [Execute] or [Store.DeleteCascade] directly.
//
// Every read of a whole collection and every successful mutation publishes the
// full collection as a snapshot. [UserRepository.Subscribe] and friends
// return a subscription that replays the latest snapshot first.
//
// # Cascading deletes
//
// Deleting a user deletes its courses and their lessons first; deleting a
// course deletes its lessons first. Children of one parent are deleted
// concurrently and the parent is deleted once all of them finished. With
// [CascadeBestEffort] the parent is deleted even if a child failed; with
// [CascadeStrict] it is kept and reported with [ErrHasChildren].
//
// A cascade is a series of independent transactions. A failure part way
// through leaves the records deleted so far deleted.
//
// # Errors
//
//   - [ErrStoreUnavailable] - the store failed to open or is closed
//   - [ErrTransactionFailed] - a transaction was rejected (see [TransactionError])
//   - [ErrNotFound] - no record with the given id
//   - [ErrReadOnly] - mutation attempted in a read-only transaction
//   - [ErrInvalidRecord] - field validation failed
//   - [ErrParentNotFound] - the referenced user or course does not exist
//   - [ErrHasChildren] - a strict cascade kept a parent
//   - [ErrCascadeFailed] - a cascade did not fully succeed (see [CascadeError])
package store
