package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	appconfig "github.com/epw80/muc-history/pkg/config"
)

// dynamoAPI is the subset of the DynamoDB client used by DynamoDBStore
type dynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// itemKey is the primary key of a row in the properties table
type itemKey struct {
	Namespace string `dynamodbav:"Namespace"`
	Key       string `dynamodbav:"Key"`
}

// item is a row in the properties table. Properties use Value, snapshots use Blob.
type item struct {
	Namespace string `dynamodbav:"Namespace"`
	Key       string `dynamodbav:"Key"`
	Value     string `dynamodbav:"Value,omitempty"`
	Blob      []byte `dynamodbav:"Blob,omitempty"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// DynamoDBStore implements Backend using AWS DynamoDB
type DynamoDBStore struct {
	client dynamoAPI
	logger *slog.Logger
	now    func() time.Time
}

var _ Backend = (*DynamoDBStore)(nil)

// NewDynamoDBStore creates a new DynamoDB-backed store
func NewDynamoDBStore(ctx context.Context, cfg *appconfig.Config, logger *slog.Logger) (*DynamoDBStore, error) {
	var awsCfg aws.Config
	var err error

	// If using local DynamoDB endpoint, configure with static credentials
	if cfg.DynamoDBEndpoint != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.DynamoDBRegion),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AWSAccessKey,
				cfg.AWSSecretKey,
				"",
			)),
		)
	} else {
		// Use default AWS credentials chain for production
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.DynamoDBRegion),
		)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})

	store := newDynamoDBStore(client, logger)

	// Verify connection with health check
	if err := store.HealthCheck(ctx); err != nil {
		return nil, err
	}

	logger.Info("DynamoDB store initialized",
		slog.String("region", cfg.DynamoDBRegion),
		slog.String("endpoint", cfg.DynamoDBEndpoint))

	return store, nil
}

func newDynamoDBStore(client dynamoAPI, logger *slog.Logger) *DynamoDBStore {
	return &DynamoDBStore{
		client: client,
		logger: logger,
		now:    time.Now,
	}
}

// Property returns the value stored under key in namespace
func (r *DynamoDBStore) Property(ctx context.Context, namespace, key string) (string, bool, error) {
	row, err := r.getItem(ctx, partition(namespace), key)
	if err != nil {
		r.logger.Error("failed to read property",
			slog.String("error", err.Error()),
			slog.String("namespace", namespace),
			slog.String("key", key))
		return "", false, fmt.Errorf("failed to read property %s: %w", key, err)
	}
	if row == nil {
		return "", false, nil
	}
	return row.Value, true, nil
}

// SetProperty stores a value under key in namespace
func (r *DynamoDBStore) SetProperty(ctx context.Context, namespace, key, value string) error {
	err := r.putItem(ctx, item{
		Namespace: partition(namespace),
		Key:       key,
		Value:     value,
	})
	if err != nil {
		r.logger.Error("failed to write property",
			slog.String("error", err.Error()),
			slog.String("namespace", namespace),
			slog.String("key", key))
		return fmt.Errorf("failed to write property %s: %w", key, err)
	}

	r.logger.Debug("property saved to DynamoDB",
		slog.String("namespace", namespace),
		slog.String("key", key))

	return nil
}

// DeleteProperty removes a property
func (r *DynamoDBStore) DeleteProperty(ctx context.Context, namespace, key string) error {
	if err := r.deleteItem(ctx, partition(namespace), key); err != nil {
		return fmt.Errorf("failed to delete property %s: %w", key, err)
	}
	return nil
}

// Properties returns every property in namespace
func (r *DynamoDBStore) Properties(ctx context.Context, namespace string) (map[string]string, error) {
	rows, err := r.queryPartition(ctx, partition(namespace))
	if err != nil {
		return nil, fmt.Errorf("failed to list properties: %w", err)
	}

	result := make(map[string]string, len(rows))
	for _, row := range rows {
		result[row.Key] = row.Value
	}
	return result, nil
}

// SaveSnapshot stores the snapshot for room
func (r *DynamoDBStore) SaveSnapshot(ctx context.Context, room string, data []byte) error {
	err := r.putItem(ctx, item{
		Namespace: SnapshotNamespace,
		Key:       room,
		Blob:      data,
	})
	if err != nil {
		r.logger.Error("failed to save snapshot to DynamoDB",
			slog.String("error", err.Error()),
			slog.String("room", room))
		return fmt.Errorf("failed to save snapshot for room %s: %w", room, err)
	}

	r.logger.Debug("snapshot saved to DynamoDB",
		slog.String("room", room),
		slog.Int("bytes", len(data)))

	return nil
}

// LoadSnapshot returns the snapshot for room
func (r *DynamoDBStore) LoadSnapshot(ctx context.Context, room string) ([]byte, error) {
	row, err := r.getItem(ctx, SnapshotNamespace, room)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot for room %s: %w", room, err)
	}
	if row == nil {
		return nil, ErrSnapshotNotFound
	}
	return row.Blob, nil
}

// DeleteSnapshot removes the snapshot for room
func (r *DynamoDBStore) DeleteSnapshot(ctx context.Context, room string) error {
	if err := r.deleteItem(ctx, SnapshotNamespace, room); err != nil {
		return fmt.Errorf("failed to delete snapshot for room %s: %w", room, err)
	}
	return nil
}

// ListSnapshots returns the rooms that have a snapshot
func (r *DynamoDBStore) ListSnapshots(ctx context.Context) ([]string, error) {
	rows, err := r.queryPartition(ctx, SnapshotNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	rooms := make([]string, 0, len(rows))
	for _, row := range rows {
		rooms = append(rooms, row.Key)
	}
	return rooms, nil
}

// HealthCheck verifies DynamoDB is accessible
func (r *DynamoDBStore) HealthCheck(ctx context.Context) error {
	input := &dynamodb.DescribeTableInput{
		TableName: aws.String(TableName),
	}

	if _, err := r.client.DescribeTable(ctx, input); err != nil {
		return fmt.Errorf("DynamoDB health check failed: %w", err)
	}

	return nil
}

// Close releases resources (DynamoDB client doesn't need explicit cleanup)
func (r *DynamoDBStore) Close() error {
	r.logger.Info("DynamoDB store closed")
	return nil
}

func (r *DynamoDBStore) marshalKey(namespace, key string) (map[string]types.AttributeValue, error) {
	av, err := attributevalue.MarshalMap(itemKey{Namespace: namespace, Key: key})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal key: %w", err)
	}
	return av, nil
}

func (r *DynamoDBStore) getItem(ctx context.Context, namespace, key string) (*item, error) {
	av, err := r.marshalKey(namespace, key)
	if err != nil {
		return nil, err
	}

	result, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(TableName),
		Key:            av,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if len(result.Item) == 0 {
		return nil, nil
	}

	var row item
	if err := attributevalue.UnmarshalMap(result.Item, &row); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	return &row, nil
}

func (r *DynamoDBStore) putItem(ctx context.Context, row item) error {
	row.UpdatedAt = r.now().UTC().Format(time.RFC3339Nano)

	av, err := attributevalue.MarshalMap(row)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(TableName),
		Item:      av,
	})
	return err
}

func (r *DynamoDBStore) deleteItem(ctx context.Context, namespace, key string) error {
	av, err := r.marshalKey(namespace, key)
	if err != nil {
		return err
	}

	_, err = r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(TableName),
		Key:       av,
	})
	return err
}

// queryPartition reads every row of a partition, following pagination
func (r *DynamoDBStore) queryPartition(ctx context.Context, namespace string) ([]item, error) {
	var rows []item
	var startKey map[string]types.AttributeValue

	for {
		result, err := r.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(TableName),
			KeyConditionExpression: aws.String("#ns = :ns"),
			ExpressionAttributeNames: map[string]string{
				"#ns": AttrNamespace,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":ns": &types.AttributeValueMemberS{Value: namespace},
			},
			ConsistentRead:    aws.Bool(true),
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			r.logger.Error("failed to query partition",
				slog.String("error", err.Error()),
				slog.String("namespace", namespace))
			return nil, err
		}

		for _, raw := range result.Items {
			var row item
			if err := attributevalue.UnmarshalMap(raw, &row); err != nil {
				r.logger.Error("failed to unmarshal item",
					slog.String("error", err.Error()))
				continue
			}
			rows = append(rows, row)
		}

		if len(result.LastEvaluatedKey) == 0 {
			break
		}
		startKey = result.LastEvaluatedKey
	}

	r.logger.Debug("queried partition from DynamoDB",
		slog.String("namespace", namespace),
		slog.Int("count", len(rows)))

	return rows, nil
}
