// Package dynamo implements the coursetree storage backend on DynamoDB.
//
// It targets DynamoDB Local for development and works unchanged against AWS.
// Each collection is a table keyed by the numeric attribute "id" with one
// global secondary index per declared index. Ids come from an atomic counter
// item per collection in a separate counters table, so they are never reused.
//
// DynamoDB has no multi-request transactions outside TransactWriteItems, so a
// Tx from this package applies every call immediately; Commit and Rollback
// are no-ops. Every repository operation issues a single mutating request per
// transaction, which keeps per-call atomicity intact.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/coursetree/internal/backend"
)

// API is the subset of the DynamoDB client used by the backend.
type API interface {
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

// Config holds configuration for the DynamoDB backend.
type Config struct {
	// Region is the AWS region. Default: "us-east-1"
	Region string

	// Endpoint overrides the service endpoint, e.g. "http://localhost:8000"
	// for DynamoDB Local. When set, static local credentials are used.
	Endpoint string

	// TablePrefix is prepended to every table name. Default: "coursetree_"
	TablePrefix string

	// TableWaitTimeout bounds how long EnsureSchema waits for new tables to
	// become ACTIVE. Default: 2m
	TableWaitTimeout time.Duration
}

// DefaultConfig returns defaults suitable for DynamoDB Local.
func DefaultConfig() Config {
	return Config{
		Region:           "us-east-1",
		TablePrefix:      "coursetree_",
		TableWaitTimeout: 2 * time.Minute,
	}
}

func (c *Config) validate() {
	if c.Region == "" {
		c.Region = "us-east-1"
	}
	if c.TablePrefix == "" {
		c.TablePrefix = "coursetree_"
	}
	if c.TableWaitTimeout <= 0 {
		c.TableWaitTimeout = 2 * time.Minute
	}
}

const (
	countersTable = "counters"
	counterKey    = "collection"
	counterAttr   = "seq"
)

// Store is a DynamoDB-backed backend.Backend.
type Store struct {
	client API
	config Config

	mu      sync.RWMutex
	schemas map[string]backend.CollectionSchema
}

var _ backend.Backend = (*Store)(nil)

// New creates a Store on an existing client.
func New(client API, config Config) *Store {
	config.validate()
	return &Store{
		client:  client,
		config:  config,
		schemas: make(map[string]backend.CollectionSchema),
	}
}

// Open loads the default AWS configuration and creates a Store.
func Open(ctx context.Context, config Config) (*Store, error) {
	config.validate()

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(config.Region)}
	if config.Endpoint != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(
			aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
				return aws.Credentials{AccessKeyID: "local", SecretAccessKey: "local", Source: "coursetree"}, nil
			}),
		)))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
		}
	})
	return New(client, config), nil
}

// Close is a no-op; the SDK client holds no resources that need releasing.
func (s *Store) Close() error { return nil }

// TableName returns the physical table name of a collection.
func (s *Store) TableName(collection string) string {
	return s.config.TablePrefix + collection
}

// EnsureSchema creates every missing table and waits for it to become active.
func (s *Store) EnsureSchema(ctx context.Context, schemas []backend.CollectionSchema) error {
	if err := s.ensureTable(ctx, counterTableInput(s.TableName(countersTable))); err != nil {
		return err
	}
	for _, schema := range schemas {
		if err := s.ensureTable(ctx, collectionTableInput(s.TableName(schema.Name), schema)); err != nil {
			return err
		}
	}

	s.mu.Lock()
	for _, schema := range schemas {
		s.schemas[schema.Name] = schema
	}
	s.mu.Unlock()
	return nil
}

func (s *Store) ensureTable(ctx context.Context, input *dynamodb.CreateTableInput) error {
	table := aws.ToString(input.TableName)

	_, err := s.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: input.TableName})
	if err == nil {
		return nil
	}
	var notFound *types.ResourceNotFoundException
	if !errors.As(err, &notFound) {
		return fmt.Errorf("describe table %s: %w", table, err)
	}

	if _, err := s.client.CreateTable(ctx, input); err != nil {
		// Another opener created it between describe and create.
		var inUse *types.ResourceInUseException
		if !errors.As(err, &inUse) {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: input.TableName}, s.config.TableWaitTimeout); err != nil {
		return fmt.Errorf("wait for table %s: %w", table, err)
	}
	return nil
}

func counterTableInput(table string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(counterKey), AttributeType: types.ScalarAttributeTypeS},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(counterKey), KeyType: types.KeyTypeHash},
		},
	}
}

func collectionTableInput(table string, schema backend.CollectionSchema) *dynamodb.CreateTableInput {
	input := &dynamodb.CreateTableInput{
		TableName:   aws.String(table),
		BillingMode: types.BillingModePayPerRequest,
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeN},
		},
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
	}
	for _, idx := range schema.Indexes {
		attrType := types.ScalarAttributeTypeS
		if idx.Kind == backend.IndexNumber {
			attrType = types.ScalarAttributeTypeN
		}
		input.AttributeDefinitions = append(input.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(idx.Field),
			AttributeType: attrType,
		})
		input.GlobalSecondaryIndexes = append(input.GlobalSecondaryIndexes, types.GlobalSecondaryIndex{
			IndexName: aws.String(idx.Name),
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(idx.Field), KeyType: types.KeyTypeHash},
			},
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	return input
}

// Begin returns a handle on one collection. See the package comment for
// transaction semantics.
func (s *Store) Begin(ctx context.Context, collection string, mode backend.Mode) (backend.Tx, error) {
	s.mu.RLock()
	schema, ok := s.schemas[collection]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	return &collectionTx{store: s, schema: schema, table: s.TableName(collection)}, nil
}

type collectionTx struct {
	store  *Store
	schema backend.CollectionSchema
	table  string
}

func (t *collectionTx) Commit() error   { return nil }
func (t *collectionTx) Rollback() error { return nil }

func (t *collectionTx) GetAll(ctx context.Context, out any) error {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(t.store.client, &dynamodb.ScanInput{
		TableName:      aws.String(t.table),
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("scan %s: %w", t.table, err)
		}
		items = append(items, page.Items...)
	}

	// Scan order is by hash, not by id.
	sort.SliceStable(items, func(i, j int) bool {
		return itemID(items[i]) < itemID(items[j])
	})

	if err := attributevalue.UnmarshalListOfMaps(items, out); err != nil {
		return fmt.Errorf("decode %s: %w", t.table, err)
	}
	return nil
}

func (t *collectionTx) Get(ctx context.Context, id int64, out any) (bool, error) {
	result, err := t.store.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(t.table),
		Key:            idKey(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return false, fmt.Errorf("get %s %d: %w", t.table, id, err)
	}
	if len(result.Item) == 0 {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(result.Item, out); err != nil {
		return false, fmt.Errorf("decode %s %d: %w", t.table, id, err)
	}
	return true, nil
}

func (t *collectionTx) Add(ctx context.Context, v any) (int64, error) {
	id, err := t.nextID(ctx)
	if err != nil {
		return 0, err
	}

	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", t.table, err)
	}
	item["id"] = numberAttr(id)

	_, err = t.store.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(t.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return 0, fmt.Errorf("insert %s: id %d already taken", t.table, id)
		}
		return 0, fmt.Errorf("insert %s: %w", t.table, err)
	}
	return id, nil
}

// nextID atomically increments the collection's sequence counter.
func (t *collectionTx) nextID(ctx context.Context) (int64, error) {
	result, err := t.store.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(t.store.TableName(countersTable)),
		Key: map[string]types.AttributeValue{
			counterKey: &types.AttributeValueMemberS{Value: t.schema.Name},
		},
		UpdateExpression:          aws.String("ADD #seq :one"),
		ExpressionAttributeNames:  map[string]string{"#seq": counterAttr},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": numberAttr(1)},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", t.schema.Name, err)
	}
	seq, ok := result.Attributes[counterAttr].(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("allocate %s id: counter missing from response", t.schema.Name)
	}
	id, err := strconv.ParseInt(seq.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("allocate %s id: %w", t.schema.Name, err)
	}
	return id, nil
}

func (t *collectionTx) Put(ctx context.Context, id int64, v any) error {
	item, err := attributevalue.MarshalMap(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", t.table, err)
	}
	item["id"] = numberAttr(id)

	_, err = t.store.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(t.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	return mapConditionError(err, t.table, id)
}

func (t *collectionTx) Delete(ctx context.Context, id int64) error {
	_, err := t.store.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(t.table),
		Key:                 idKey(id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	return mapConditionError(err, t.table, id)
}

// mapConditionError maps a failed attribute_exists(id) condition to ErrNotFound.
func mapConditionError(err error, table string, id int64) error {
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%s %d: %w", table, id, backend.ErrNotFound)
	}
	return fmt.Errorf("%s %d: %w", table, id, err)
}

func idKey(id int64) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": numberAttr(id)}
}

func numberAttr(n int64) *types.AttributeValueMemberN {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(n, 10)}
}

// itemID reads the numeric id of a raw item, or 0 when absent or malformed.
func itemID(item map[string]types.AttributeValue) int64 {
	v, ok := item["id"].(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	id, _ := strconv.ParseInt(v.Value, 10, 64)
	return id
}
