// Package backend defines the contract between the coursetree store and the
// storage engines that persist its collections.
package backend

import (
	"context"
	"errors"
)

// ErrNotFound is returned by a Handle when the addressed record does not exist.
var ErrNotFound = errors.New("coursetree: record not found")

// Mode is the access mode of a transaction.
type Mode int

const (
	// ReadOnly transactions may only read.
	ReadOnly Mode = iota
	// ReadWrite transactions may read and mutate.
	ReadWrite
)

// String returns the mode name used in logs.
func (m Mode) String() string {
	if m == ReadWrite {
		return "readwrite"
	}
	return "readonly"
}

// IndexKind is the scalar type of an indexed attribute.
type IndexKind int

const (
	// IndexString indexes a text attribute.
	IndexString IndexKind = iota
	// IndexNumber indexes an integer attribute.
	IndexNumber
)

// Index declares a non-unique secondary index over one document attribute.
type Index struct {
	// Name is the index name, unique within the collection.
	Name string

	// Field is the document attribute the index covers (e.g. "userId").
	Field string

	// Kind is the attribute type.
	Kind IndexKind
}

// CollectionSchema declares one named collection.
// The primary key is always the auto-generated integer attribute "id".
type CollectionSchema struct {
	Name    string
	Indexes []Index
}

// Handle operates on a single collection inside a transaction.
//
// Values are entity structs (or pointers to them) that carry both `json` and
// `dynamodbav` tags; engines pick the codec they need. Output arguments are
// pointers: a struct pointer for Get, a slice pointer for GetAll.
type Handle interface {
	// GetAll decodes every record of the collection, ordered by id, into out.
	GetAll(ctx context.Context, out any) error

	// Get decodes the record with id into out. It reports false when absent.
	Get(ctx context.Context, id int64, out any) (bool, error)

	// Add stores v under a freshly generated id and returns that id.
	Add(ctx context.Context, v any) (int64, error)

	// Put replaces the existing record with id by v. Returns ErrNotFound
	// when no such record exists.
	Put(ctx context.Context, id int64, v any) error

	// Delete removes the record with id. Returns ErrNotFound when absent.
	Delete(ctx context.Context, id int64) error
}

// Tx is a Handle bound to one backend transaction.
type Tx interface {
	Handle
	Commit() error
	Rollback() error
}

// Backend is a storage engine.
type Backend interface {
	// EnsureSchema creates every missing collection and index. Existing
	// collections are never altered or dropped.
	EnsureSchema(ctx context.Context, schemas []CollectionSchema) error

	// Begin opens a transaction against one collection.
	Begin(ctx context.Context, collection string, mode Mode) (Tx, error)

	// Close releases the engine's resources.
	Close() error
}
