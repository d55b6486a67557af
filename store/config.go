package store

import "time"

// Backend names.
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

// CascadePolicy decides what happens to a parent when one of its children
// could not be deleted.
type CascadePolicy string

const (
	// CascadeBestEffort deletes the parent anyway. Orphans may remain.
	CascadeBestEffort CascadePolicy = "best-effort"

	// CascadeStrict keeps the parent and reports ErrHasChildren for it.
	CascadeStrict CascadePolicy = "strict"
)

// Config holds configuration for the Store.
type Config struct {
	// Backend selects the storage engine: "sqlite" or "dynamodb".
	// Default: "sqlite"
	Backend string

	// SQLitePath is the database file for the sqlite backend, or ":memory:".
	// Default: "coursetree.db"
	SQLitePath string

	// DynamoDBRegion is the AWS region for the dynamodb backend.
	// Default: "us-east-1"
	DynamoDBRegion string

	// DynamoDBEndpoint overrides the DynamoDB endpoint, e.g.
	// "http://localhost:8000" for DynamoDB Local.
	DynamoDBEndpoint string

	// TablePrefix is prepended to DynamoDB table names.
	// Default: "coursetree_"
	TablePrefix string

	// TableWaitTimeout bounds how long opening waits for new DynamoDB tables.
	// Default: 2m
	TableWaitTimeout time.Duration

	// SubscriberBuffer is the number of snapshots queued per subscriber
	// before the oldest is dropped.
	// Default: 16, Max: 1024
	SubscriberBuffer int

	// CascadeConcurrency bounds how many sibling deletes of one parent run
	// at the same time.
	// Default: 8, Max: 64
	CascadeConcurrency int

	// CascadePolicy selects best-effort or strict cascades.
	// Default: CascadeBestEffort
	CascadePolicy CascadePolicy
}

// DefaultConfig returns sensible defaults for a local embedded store.
func DefaultConfig() Config {
	return Config{
		Backend:            BackendSQLite,
		SQLitePath:         "coursetree.db",
		DynamoDBRegion:     "us-east-1",
		TablePrefix:        "coursetree_",
		TableWaitTimeout:   2 * time.Minute,
		SubscriberBuffer:   16,
		CascadeConcurrency: 8,
		CascadePolicy:      CascadeBestEffort,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Backend == "" {
		c.Backend = BackendSQLite
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "coursetree.db"
	}
	if c.DynamoDBRegion == "" {
		c.DynamoDBRegion = "us-east-1"
	}
	if c.TablePrefix == "" {
		c.TablePrefix = "coursetree_"
	}
	if c.TableWaitTimeout <= 0 {
		c.TableWaitTimeout = 2 * time.Minute
	}
	if c.SubscriberBuffer < 1 {
		c.SubscriberBuffer = 16
	}
	if c.SubscriberBuffer > 1024 {
		c.SubscriberBuffer = 1024
	}
	if c.CascadeConcurrency < 1 {
		c.CascadeConcurrency = 8
	}
	if c.CascadeConcurrency > 64 {
		c.CascadeConcurrency = 64
	}
	if c.CascadePolicy != CascadeStrict {
		c.CascadePolicy = CascadeBestEffort
	}
}
