// Package seed inserts a baseline user, course and lesson graph into an
// empty store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/coursetree/store"
)

// Repository is the part of a collection repository the loader uses.
type Repository[E any] interface {
	GetAll(ctx context.Context) []E
	Add(ctx context.Context, e E) int64
}

// Baseline records. Parent ids are filled in while loading: every course
// belongs to the first user and every lesson to the first course.
var (
	BaselineUsers = []store.User{
		{Name: "Carlos Rodríguez", Avatar: "/assets/avatars/user1.jpg"},
	}

	BaselineCourses = []store.Course{
		{
			Title:    "Sitio web Tienda de Barrio",
			Image:    "https://eprendy.com/storage/1687300553_c_html.png",
			Category: "Diseño Web",
		},
		{
			Title:    "Portafolio Presencia",
			Image:    "/assets/images/project2.jpg",
			Category: "Diseño Web",
		},
	}

	BaselineLessons = []store.Lesson{
		{Title: "Introducción al diseño web", Content: "Contenido de la lección...", Duration: 30},
		{Title: "HTML y CSS básicos", Content: "Contenido de la lección...", Duration: 45},
		{Title: "Diseño responsivo", Content: "Contenido de la lección...", Duration: 60},
	}
)

var errAddFailed = errors.New("seed: add failed")

// Load inserts the baseline graph if users is empty and reports whether it
// did. Records of one level are inserted concurrently; a level starts once
// the previous one is stored. Any failed insert stops loading and returns
// false; records stored before the failure are kept.
func Load(ctx context.Context, users Repository[store.User], courses Repository[store.Course], lessons Repository[store.Lesson]) bool {
	return LoadWithLogger(ctx, slog.Default(), users, courses, lessons)
}

// LoadWithLogger is Load with an explicit logger.
func LoadWithLogger(ctx context.Context, logger *slog.Logger, users Repository[store.User], courses Repository[store.Course], lessons Repository[store.Lesson]) bool {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "seed")

	if existing := users.GetAll(ctx); len(existing) > 0 {
		logger.Debug("store not empty, skipping seed", "users", len(existing))
		return false
	}

	userIDs, err := addAll(ctx, users, BaselineUsers)
	if err != nil {
		logger.Error("seed users failed", "error", err)
		return false
	}

	owned := make([]store.Course, len(BaselineCourses))
	for i, c := range BaselineCourses {
		c.UserID = userIDs[0]
		owned[i] = c
	}
	courseIDs, err := addAll(ctx, courses, owned)
	if err != nil {
		logger.Error("seed courses failed", "error", err)
		return false
	}

	attached := make([]store.Lesson, len(BaselineLessons))
	for i, l := range BaselineLessons {
		l.CourseID = courseIDs[0]
		attached[i] = l
	}
	if _, err := addAll(ctx, lessons, attached); err != nil {
		logger.Error("seed lessons failed", "error", err)
		return false
	}

	logger.Info("seed loaded",
		"users", len(userIDs),
		"courses", len(courseIDs),
		"lessons", len(attached),
	)
	return true
}

// addAll inserts records concurrently and returns their ids in input order.
func addAll[E any](ctx context.Context, repo Repository[E], records []E) ([]int64, error) {
	ids := make([]int64, len(records))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range records {
		g.Go(func() error {
			id := repo.Add(gctx, r)
			if id <= 0 {
				return fmt.Errorf("%w: record %d of %d", errAddFailed, i+1, len(records))
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}
