package store

import (
	"context"
	"fmt"

	"github.com/jacentio/coursetree/internal/backend"
)

// Schemas returns the declared collections: primary key "id" (generated) and
// the secondary indexes Users.name, Courses.userId, Courses.category and
// Lessons.courseId.
func Schemas() []backend.CollectionSchema {
	return []backend.CollectionSchema{
		{
			Name: string(Users),
			Indexes: []backend.Index{
				{Name: "name", Field: "name", Kind: backend.IndexString},
			},
		},
		{
			Name: string(Courses),
			Indexes: []backend.Index{
				{Name: "userId", Field: "userId", Kind: backend.IndexNumber},
				{Name: "category", Field: "category", Kind: backend.IndexString},
			},
		},
		{
			Name: string(Lessons),
			Indexes: []backend.Index{
				{Name: "courseId", Field: "courseId", Kind: backend.IndexNumber},
			},
		},
	}
}

// ensureSchema creates any missing collection. It is safe on every open.
func ensureSchema(ctx context.Context, b backend.Backend) error {
	if err := b.EnsureSchema(ctx, Schemas()); err != nil {
		return fmt.Errorf("%w: ensure schema: %w", ErrStoreUnavailable, err)
	}
	return nil
}
