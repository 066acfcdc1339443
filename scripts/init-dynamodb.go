package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	appconfig "github.com/epw80/muc-history/pkg/config"
	"github.com/epw80/muc-history/pkg/history"
	"github.com/epw80/muc-history/pkg/muc"
	"github.com/epw80/muc-history/pkg/storage"
	"github.com/spf13/pflag"
)

const waitTimeout = 60 * time.Second

func main() {
	flags := pflag.NewFlagSet("init-dynamodb", pflag.ExitOnError)
	configPath := flags.String("config", "", "YAML configuration file")
	recreate := flags.Bool("recreate", false, "Delete and recreate the table if it already exists")
	policyName := flags.String("policy", "", "Seed the service default history policy (none, all or number)")
	bound := flags.Int("bound", -1, "Seed the service default history bound")
	_ = flags.Parse(os.Args[1:])

	ctx := context.Background()

	// Load configuration
	cfg := appconfig.Load()
	if *configPath != "" {
		var err error
		cfg, err = appconfig.LoadFile(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	logger.Info("Initializing DynamoDB property table",
		slog.String("endpoint", cfg.DynamoDBEndpoint),
		slog.String("region", cfg.DynamoDBRegion))

	// Configure AWS SDK
	var awsCfg aws.Config
	var err error

	if cfg.DynamoDBEndpoint != "" {
		// Local DynamoDB
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.DynamoDBRegion),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AWSAccessKey,
				cfg.AWSSecretKey,
				"",
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithRegion(cfg.DynamoDBRegion),
		)
	}
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})

	schema := storage.GetTableSchema()
	describe := &dynamodb.DescribeTableInput{TableName: aws.String(schema.TableName)}

	_, err = client.DescribeTable(ctx, describe)
	exists := err == nil
	var notFound *types.ResourceNotFoundException
	if err != nil && !errors.As(err, &notFound) {
		log.Fatalf("Failed to describe table: %v", err)
	}

	if exists && *recreate {
		logger.Info("Table already exists, deleting and recreating",
			slog.String("table", schema.TableName))

		if _, err := client.DeleteTable(ctx, &dynamodb.DeleteTableInput{
			TableName: aws.String(schema.TableName),
		}); err != nil {
			log.Fatalf("Failed to delete existing table: %v", err)
		}
		if err := dynamodb.NewTableNotExistsWaiter(client).Wait(ctx, describe, waitTimeout); err != nil {
			log.Fatalf("Failed waiting for table deletion: %v", err)
		}
		exists = false
	}

	if exists {
		logger.Info("Table already exists, keeping it", slog.String("table", schema.TableName))
	} else {
		logger.Info("Creating DynamoDB table", slog.String("table", schema.TableName))

		_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(schema.TableName),
			AttributeDefinitions: []types.AttributeDefinition{
				{
					AttributeName: aws.String(schema.PartitionKey),
					AttributeType: types.ScalarAttributeTypeS,
				},
				{
					AttributeName: aws.String(schema.SortKey),
					AttributeType: types.ScalarAttributeTypeS,
				},
			},
			KeySchema: []types.KeySchemaElement{
				{
					AttributeName: aws.String(schema.PartitionKey),
					KeyType:       types.KeyTypeHash,
				},
				{
					AttributeName: aws.String(schema.SortKey),
					KeyType:       types.KeyTypeRange,
				},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		if err != nil {
			log.Fatalf("Failed to create table: %v", err)
		}
		if err := dynamodb.NewTableExistsWaiter(client).Wait(ctx, describe, waitTimeout); err != nil {
			log.Fatalf("Failed waiting for table creation: %v", err)
		}
		logger.Info("Table created successfully", slog.String("table", schema.TableName))
	}

	if *policyName != "" || *bound >= 0 {
		if err := seedDefaults(ctx, cfg, logger, *policyName, *bound); err != nil {
			log.Fatalf("Failed to seed history defaults: %v", err)
		}
	}

	output, err := client.DescribeTable(ctx, describe)
	if err != nil {
		log.Fatalf("Failed to describe table: %v", err)
	}

	fmt.Printf("\nTable: %s\n", *output.Table.TableName)
	fmt.Printf("Status: %s\n", output.Table.TableStatus)
	fmt.Printf("Item Count: %d\n", aws.ToInt64(output.Table.ItemCount))
	fmt.Printf("\nPrimary Key:\n")
	fmt.Printf("  - Partition Key: %s (HASH)\n", schema.PartitionKey)
	fmt.Printf("  - Sort Key: %s (RANGE)\n", schema.SortKey)
}

// seedDefaults writes the service default history settings through a
// bound strategy, so the stored values are the canonical names.
func seedDefaults(ctx context.Context, cfg *appconfig.Config, logger *slog.Logger, policyName string, bound int) error {
	store, err := storage.NewDynamoDBStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	defaults := history.New(nil, history.Deps{Properties: store, Logger: logger})
	if err := defaults.Bind(ctx, cfg.MUCSubdomain, muc.HistoryPrefix); err != nil {
		return err
	}

	if policyName != "" {
		policy, ok := history.LookupPolicy(policyName)
		if !ok {
			return fmt.Errorf("unknown history policy %q", policyName)
		}
		if err := defaults.SetPolicy(ctx, policy); err != nil {
			return err
		}
	}
	if bound >= 0 {
		if err := defaults.SetBound(ctx, bound); err != nil {
			return err
		}
	}

	effective, retain := defaults.EffectivePolicy()
	logger.Info("History defaults seeded",
		slog.String("namespace", cfg.MUCSubdomain),
		slog.String("policy", effective.String()),
		slog.Int("bound", retain))
	return nil
}
