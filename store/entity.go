package store

import (
	"fmt"
	"strconv"
	"strings"
)

// Collection names a stored collection.
type Collection string

// Collections managed by the store.
const (
	Users   Collection = "users"
	Courses Collection = "courses"
	Lessons Collection = "lessons"
)

// FailedID is the id returned by Add when the record was not stored.
const FailedID int64 = -1

// Ref is a type-qualified entity reference (e.g. "courses#3").
type Ref struct {
	Collection Collection
	ID         int64
}

func (r Ref) String() string {
	return string(r.Collection) + "#" + strconv.FormatInt(r.ID, 10)
}

// Entity is the base interface for all storable types.
type Entity interface {
	// Collection returns the collection the entity is stored in.
	Collection() Collection

	// GetID returns the entity id, or 0 when unset.
	GetID() int64

	// Validate reports whether the entity's fields are acceptable for storage.
	Validate() error
}

// ParentReferrer is implemented by entities that belong to a parent.
type ParentReferrer interface {
	// ParentRef returns the reference to the owning parent.
	ParentRef() Ref
}

// ForeignKeyer is implemented by entities that expose foreign key attributes
// by their stored name (e.g. "userId").
type ForeignKeyer interface {
	// ForeignKey returns the value of the named attribute and whether the
	// entity has it.
	ForeignKey(name string) (int64, bool)
}

// User owns zero or more courses.
type User struct {
	ID     int64  `json:"id" dynamodbav:"id"`
	Name   string `json:"name" dynamodbav:"name"`
	Avatar string `json:"avatar" dynamodbav:"avatar"`
}

func (u User) Collection() Collection { return Users }
func (u User) GetID() int64           { return u.ID }

func (u User) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return fmt.Errorf("%w: user name is required", ErrInvalidRecord)
	}
	return nil
}

// Course belongs to a user and owns zero or more lessons.
type Course struct {
	ID       int64  `json:"id" dynamodbav:"id"`
	Title    string `json:"title" dynamodbav:"title"`
	Image    string `json:"image" dynamodbav:"image"`
	Category string `json:"category" dynamodbav:"category,omitempty"`
	UserID   int64  `json:"userId" dynamodbav:"userId"`
}

func (c Course) Collection() Collection { return Courses }
func (c Course) GetID() int64           { return c.ID }
func (c Course) ParentRef() Ref         { return Ref{Collection: Users, ID: c.UserID} }

func (c Course) ForeignKey(name string) (int64, bool) {
	if name == "userId" {
		return c.UserID, true
	}
	return 0, false
}

func (c Course) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("%w: course title is required", ErrInvalidRecord)
	}
	if c.UserID <= 0 {
		return fmt.Errorf("%w: course userId is required", ErrInvalidRecord)
	}
	return nil
}

// Lesson belongs to a course. Duration is in minutes.
type Lesson struct {
	ID       int64  `json:"id" dynamodbav:"id"`
	Title    string `json:"title" dynamodbav:"title"`
	Content  string `json:"content" dynamodbav:"content"`
	Duration int    `json:"duration" dynamodbav:"duration"`
	CourseID int64  `json:"courseId" dynamodbav:"courseId"`
}

func (l Lesson) Collection() Collection { return Lessons }
func (l Lesson) GetID() int64           { return l.ID }
func (l Lesson) ParentRef() Ref         { return Ref{Collection: Courses, ID: l.CourseID} }

func (l Lesson) ForeignKey(name string) (int64, bool) {
	if name == "courseId" {
		return l.CourseID, true
	}
	return 0, false
}

func (l Lesson) Validate() error {
	if strings.TrimSpace(l.Title) == "" {
		return fmt.Errorf("%w: lesson title is required", ErrInvalidRecord)
	}
	if l.Duration <= 0 {
		return fmt.Errorf("%w: lesson duration must be a positive number of minutes", ErrInvalidRecord)
	}
	if l.CourseID <= 0 {
		return fmt.Errorf("%w: lesson courseId is required", ErrInvalidRecord)
	}
	return nil
}
