package storage

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeDynamo is an in-memory dynamoAPI keyed by (Namespace, Key). Query
// returns small pages so pagination is exercised.
type fakeDynamo struct {
	mu       sync.Mutex
	items    map[string]map[string]map[string]types.AttributeValue
	pageSize int
	err      error
	queries  int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		items:    make(map[string]map[string]map[string]types.AttributeValue),
		pageSize: 1,
	}
}

func stringAttr(av map[string]types.AttributeValue, name string) string {
	if s, ok := av[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func cloneItem(av map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(av))
	for name, value := range av {
		if b, ok := value.(*types.AttributeValueMemberB); ok {
			out[name] = &types.AttributeValueMemberB{Value: bytes.Clone(b.Value)}
			continue
		}
		out[name] = value
	}
	return out
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	row, ok := f.items[stringAttr(in.Key, AttrNamespace)][stringAttr(in.Key, AttrKey)]
	if !ok {
		return &dynamodb.GetItemOutput{}, nil
	}
	return &dynamodb.GetItemOutput{Item: cloneItem(row)}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	ns, key := stringAttr(in.Item, AttrNamespace), stringAttr(in.Item, AttrKey)
	if ns == "" || key == "" {
		return nil, errors.New("ValidationException: empty key attribute")
	}
	if f.items[ns] == nil {
		f.items[ns] = make(map[string]map[string]types.AttributeValue)
	}
	f.items[ns][key] = cloneItem(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	delete(f.items[stringAttr(in.Key, AttrNamespace)], stringAttr(in.Key, AttrKey))
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return nil, f.err
	}

	ns := stringAttr(in.ExpressionAttributeValues, ":ns")
	keys := make([]string, 0, len(f.items[ns]))
	for key := range f.items[ns] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	start := 0
	if in.ExclusiveStartKey != nil {
		after := stringAttr(in.ExclusiveStartKey, AttrKey)
		start = sort.SearchStrings(keys, after)
		if start < len(keys) && keys[start] == after {
			start++
		}
	}

	end := min(start+f.pageSize, len(keys))
	out := &dynamodb.QueryOutput{}
	for _, key := range keys[start:end] {
		out.Items = append(out.Items, cloneItem(f.items[ns][key]))
	}
	if end < len(keys) {
		out.LastEvaluatedKey = map[string]types.AttributeValue{
			AttrNamespace: &types.AttributeValueMemberS{Value: ns},
			AttrKey:       &types.AttributeValueMemberS{Value: keys[end-1]},
		}
	}
	return out, nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if in.TableName == nil || *in.TableName != TableName {
		return nil, &types.ResourceNotFoundException{}
	}
	return &dynamodb.DescribeTableOutput{}, nil
}
