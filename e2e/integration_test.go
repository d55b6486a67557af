//go:build e2e

// Package e2e contains end-to-end tests against a live DynamoDB endpoint,
// typically DynamoDB Local:
//
//	docker run -p 8000:8000 amazon/dynamodb-local
//	COURSETREE_DYNAMODB_ENDPOINT=http://localhost:8000 go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/google/uuid"

	"github.com/jacentio/coursetree/seed"
	"github.com/jacentio/coursetree/store"
)

const (
	endpointEnv = "COURSETREE_DYNAMODB_ENDPOINT"
	region      = "us-east-1"
)

var (
	tablePrefix string

	ddbClient *dynamodb.Client
	testStore *store.Store
)

// --- Test Setup & Teardown ---

func TestMain(m *testing.M) {
	endpoint := os.Getenv(endpointEnv)
	if endpoint == "" {
		fmt.Printf("%s not set, skipping e2e tests\n", endpointEnv)
		os.Exit(0)
	}

	tablePrefix = fmt.Sprintf("coursetree-e2e-%s-", uuid.New().String()[:8])
	fmt.Printf("Table prefix: %s\n", tablePrefix)

	ctx := context.Background()
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("local", "local", "")),
	)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	cfg := store.DefaultConfig()
	cfg.Backend = store.BackendDynamoDB
	cfg.DynamoDBEndpoint = endpoint
	cfg.DynamoDBRegion = region
	cfg.TablePrefix = tablePrefix
	testStore, err = store.Open(ctx, cfg)
	if err != nil {
		fmt.Printf("Failed to open store: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	_ = testStore.Close()
	deleteTables(ctx)

	os.Exit(code)
}

func deleteTables(ctx context.Context) {
	fmt.Println("Deleting test tables...")

	for _, name := range []string{"users", "courses", "lessons", "counters"} {
		table := tablePrefix + name
		if _, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(table)}); err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", table, err)
		}
	}
}

func addUser(t *testing.T, name string) int64 {
	t.Helper()

	id := testStore.Users().Add(context.Background(), store.User{Name: name, Avatar: "/a.jpg"})
	if id <= 0 {
		t.Fatalf("Add user failed: got %d", id)
	}
	return id
}

func addCourse(t *testing.T, userID int64, category string) int64 {
	t.Helper()

	id := testStore.Courses().Add(context.Background(), store.Course{Title: "Course", Category: category, UserID: userID})
	if id <= 0 {
		t.Fatalf("Add course failed: got %d", id)
	}
	return id
}

func addLesson(t *testing.T, courseID int64, duration int) int64 {
	t.Helper()

	id := testStore.Lessons().Add(context.Background(), store.Lesson{Title: "Lesson", Content: "c", Duration: duration, CourseID: courseID})
	if id <= 0 {
		t.Fatalf("Add lesson failed: got %d", id)
	}
	return id
}

// --- Schema Tests ---

func TestSchema_TablesActive(t *testing.T) {
	ctx := context.Background()

	for _, name := range []string{"users", "courses", "lessons", "counters"} {
		out, err := ddbClient.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tablePrefix + name)})
		if err != nil {
			t.Fatalf("DescribeTable %s failed: %v", name, err)
		}
		if out.Table.TableStatus != "ACTIVE" {
			t.Errorf("expected %s ACTIVE, got %s", name, out.Table.TableStatus)
		}
	}
}

func TestSchema_ReopenIsIdempotent(t *testing.T) {
	ctx := context.Background()

	cfg := testStore.Config()
	s, err := store.Open(ctx, cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	if got := s.Users().GetAll(ctx); got == nil {
		t.Error("expected non-nil users from reopened store")
	}
}

// --- CRUD Tests ---

func TestAdd_RoundTrip(t *testing.T) {
	ctx := context.Background()

	userID := addUser(t, "Round Trip")
	course := store.Course{Title: "T", Image: "i", Category: "Cat", UserID: userID}
	courseID := testStore.Courses().Add(ctx, course)
	if courseID <= 0 {
		t.Fatalf("Add course failed: got %d", courseID)
	}

	got, ok := testStore.Courses().GetByID(ctx, courseID)
	if !ok {
		t.Fatalf("GetByID %d: not found", courseID)
	}
	course.ID = courseID
	if got != course {
		t.Errorf("expected %+v, got %+v", course, got)
	}
}

func TestAdd_IDsIncrease(t *testing.T) {
	first := addUser(t, "first")
	second := addUser(t, "second")
	if second <= first {
		t.Errorf("expected id greater than %d, got %d", first, second)
	}
}

func TestAdd_ParentNotFound(t *testing.T) {
	id := testStore.Lessons().Add(context.Background(), store.Lesson{Title: "L", Duration: 1, CourseID: 987654})
	if id != store.FailedID {
		t.Errorf("expected FailedID, got %d", id)
	}
}

func TestGet_NotFound(t *testing.T) {
	if _, ok := testStore.Users().GetByID(context.Background(), 987654); ok {
		t.Error("expected not found")
	}
}

func TestUpdate_Success(t *testing.T) {
	ctx := context.Background()
	userID := addUser(t, "before")

	if !testStore.Users().Update(ctx, store.User{ID: userID, Name: "after"}) {
		t.Fatal("Update failed")
	}
	got, ok := testStore.Users().GetByID(ctx, userID)
	if !ok {
		t.Fatal("expected user after update")
	}
	if got.Name != "after" || got.Avatar != "" {
		t.Errorf("expected full replace, got %+v", got)
	}
}

func TestUpdate_UnknownID(t *testing.T) {
	if testStore.Users().Update(context.Background(), store.User{ID: 987654, Name: "ghost"}) {
		t.Error("expected update of unknown id to fail")
	}
	if _, ok := testStore.Users().GetByID(context.Background(), 987654); ok {
		t.Error("expected update not to insert")
	}
}

func TestForeignKeyQueries(t *testing.T) {
	ctx := context.Background()
	userID := addUser(t, "fk")
	category := "cat-" + uuid.New().String()[:8]
	c1 := addCourse(t, userID, category)
	addCourse(t, userID, "other")
	addLesson(t, c1, 10)
	addLesson(t, c1, 20)

	if got := testStore.Courses().GetByUserID(ctx, userID); len(got) != 2 {
		t.Errorf("expected 2 courses for user, got %d", len(got))
	}
	if got := testStore.Courses().GetByCategory(ctx, category); len(got) != 1 {
		t.Errorf("expected 1 course in category, got %d", len(got))
	}
	if got := testStore.Lessons().GetByCourseID(ctx, c1); len(got) != 2 {
		t.Errorf("expected 2 lessons for course, got %d", len(got))
	}
}

// --- Delete Tests ---

func TestDelete_LessonNotFound(t *testing.T) {
	if testStore.Lessons().Delete(context.Background(), 987654) {
		t.Error("expected delete of missing lesson to return false")
	}
}

func TestDelete_UserCascades(t *testing.T) {
	ctx := context.Background()
	userID := addUser(t, "cascade")
	var courses []int64
	for i := 0; i < 2; i++ {
		courseID := addCourse(t, userID, "Cat")
		courses = append(courses, courseID)
		for j := 0; j < 3; j++ {
			addLesson(t, courseID, 5)
		}
	}

	report, err := testStore.DeleteCascade(ctx, store.Users, userID)
	if err != nil {
		t.Fatalf("DeleteCascade failed: %v", err)
	}
	if len(report.Deleted) != 9 {
		t.Errorf("expected 9 deleted records, got %d", len(report.Deleted))
	}

	if got := testStore.Courses().GetByUserID(ctx, userID); len(got) != 0 {
		t.Errorf("expected no courses for deleted user, got %d", len(got))
	}
	for _, c := range courses {
		if got := testStore.Lessons().GetByCourseID(ctx, c); len(got) != 0 {
			t.Errorf("expected no lessons for course %d, got %d", c, len(got))
		}
	}
}

func TestDelete_MissingRootReportsNotFound(t *testing.T) {
	_, err := testStore.DeleteCascade(context.Background(), store.Courses, 987654)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Stream Tests ---

func TestSubscribe_SeesMutation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sub := testStore.Users().Subscribe(ctx)
	defer sub.Close()

	userID := addUser(t, "streamed")
	for {
		select {
		case snap, ok := <-sub.C():
			if !ok {
				t.Fatal("subscription closed early")
			}
			for _, u := range snap {
				if u.ID == userID {
					return
				}
			}
		case <-ctx.Done():
			t.Fatalf("user %d never appeared in a snapshot", userID)
		}
	}
}

// --- Seed Tests ---

func TestSeed_SkipsNonEmptyStore(t *testing.T) {
	addUser(t, "present")
	if seed.Load(context.Background(), testStore.Users(), testStore.Courses(), testStore.Lessons()) {
		t.Error("expected seed to skip a non-empty store")
	}
}
