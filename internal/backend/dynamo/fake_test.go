package dynamo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory stand-in for the subset of DynamoDB the backend
// uses. It understands attribute_exists/attribute_not_exists conditions on the
// key attribute and "ADD #name :value" updates.
type fakeDynamo struct {
	mu     sync.Mutex
	tables map[string]*fakeTable

	createCalls int
	failScan    error
}

type fakeTable struct {
	input *dynamodb.CreateTableInput
	key   string
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{tables: make(map[string]*fakeTable)}
}

func (f *fakeDynamo) table(name *string) (*fakeTable, error) {
	t, ok := f.tables[aws.ToString(name)]
	if !ok {
		return nil, &types.ResourceNotFoundException{Message: aws.String("table not found: " + aws.ToString(name))}
	}
	return t, nil
}

func (t *fakeTable) keyOf(item map[string]types.AttributeValue) string {
	switch v := item[t.key].(type) {
	case *types.AttributeValueMemberS:
		return "S:" + v.Value
	case *types.AttributeValueMemberN:
		return "N:" + v.Value
	}
	return ""
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
		KeySchema:   t.input.KeySchema,
	}}, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.createCalls++
	name := aws.ToString(in.TableName)
	if _, ok := f.tables[name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists: " + name)}
	}
	f.tables[name] = &fakeTable{
		input: in,
		key:   aws.ToString(in.KeySchema[0].AttributeName),
		items: make(map[string]map[string]types.AttributeValue),
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: t.items[t.keyOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k := t.keyOf(in.Item)
	if err := checkCondition(aws.ToString(in.ConditionExpression), t.items[k] != nil); err != nil {
		return nil, err
	}
	t.items[k] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	expr := aws.ToString(in.UpdateExpression)
	parts := strings.Fields(expr)
	if len(parts) != 3 || parts[0] != "ADD" {
		return nil, fmt.Errorf("fake: unsupported update expression %q", expr)
	}
	attr := in.ExpressionAttributeNames[parts[1]]
	delta, _ := strconv.ParseInt(in.ExpressionAttributeValues[parts[2]].(*types.AttributeValueMemberN).Value, 10, 64)

	k := t.keyOf(in.Key)
	item := t.items[k]
	if item == nil {
		item = make(map[string]types.AttributeValue, len(in.Key)+1)
		for name, v := range in.Key {
			item[name] = v
		}
		t.items[k] = item
	}
	var current int64
	if n, ok := item[attr].(*types.AttributeValueMemberN); ok {
		current, _ = strconv.ParseInt(n.Value, 10, 64)
	}
	updated := &types.AttributeValueMemberN{Value: strconv.FormatInt(current+delta, 10)}
	item[attr] = updated

	return &dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{attr: updated}}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	k := t.keyOf(in.Key)
	if err := checkCondition(aws.ToString(in.ConditionExpression), t.items[k] != nil); err != nil {
		return nil, err
	}
	delete(t.items, k)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failScan != nil {
		return nil, f.failScan
	}
	t, err := f.table(in.TableName)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.ScanOutput{}
	for _, item := range t.items {
		out.Items = append(out.Items, item)
	}
	out.Count = int32(len(out.Items))
	return out, nil
}

func checkCondition(expr string, exists bool) error {
	switch {
	case expr == "":
		return nil
	case strings.HasPrefix(expr, "attribute_not_exists("):
		if exists {
			return &types.ConditionalCheckFailedException{Message: aws.String("exists")}
		}
	case strings.HasPrefix(expr, "attribute_exists("):
		if !exists {
			return &types.ConditionalCheckFailedException{Message: aws.String("missing")}
		}
	}
	return nil
}
