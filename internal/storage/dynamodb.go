package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/cyderes/catalog-sync/internal/config"
)

// dynamoBackend stores each collection as one item keyed by "name". DynamoDB
// caps items at 400 KB, which bounds the collection size on this engine.
type dynamoBackend struct {
	client    *dynamodb.DynamoDB
	tableName string
}

func newDynamoBackend(cfg config.StorageConfig) (*dynamoBackend, error) {
	awsConfig := &aws.Config{
		Region: aws.String(cfg.Region),
	}

	// For local testing with DynamoDB Local
	if cfg.DynamoDBEndpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.DynamoDBEndpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	b := &dynamoBackend{
		client:    dynamodb.New(sess),
		tableName: cfg.DynamoDBTable,
	}
	if err := b.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure table exists: %w", err)
	}
	return b, nil
}

// ensureTable creates the DynamoDB table if it doesn't exist
func (d *dynamoBackend) ensureTable() error {
	_, err := d.client.DescribeTable(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
	if err == nil {
		return nil
	}

	_, err = d.client.CreateTable(&dynamodb.CreateTableInput{
		TableName: aws.String(d.tableName),
		KeySchema: []*dynamodb.KeySchemaElement{
			{
				AttributeName: aws.String("name"),
				KeyType:       aws.String("HASH"),
			},
		},
		AttributeDefinitions: []*dynamodb.AttributeDefinition{
			{
				AttributeName: aws.String("name"),
				AttributeType: aws.String("S"),
			},
		},
		BillingMode: aws.String("PAY_PER_REQUEST"),
	})
	if err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	return d.client.WaitUntilTableExists(&dynamodb.DescribeTableInput{
		TableName: aws.String(d.tableName),
	})
}

func (d *dynamoBackend) load(ctx context.Context, name string) ([]byte, bool, error) {
	result, err := d.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.tableName),
		ConsistentRead: aws.Bool(true),
		Key: map[string]*dynamodb.AttributeValue{
			"name": {S: aws.String(name)},
		},
	})
	if err != nil {
		return nil, false, err
	}
	if result.Item == nil {
		return nil, false, nil
	}
	body, ok := result.Item["body"]
	if !ok || body.S == nil {
		return nil, false, nil
	}
	return []byte(aws.StringValue(body.S)), true, nil
}

func (d *dynamoBackend) save(ctx context.Context, name string, data []byte) error {
	_, err := d.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item: map[string]*dynamodb.AttributeValue{
			"name":       {S: aws.String(name)},
			"body":       {S: aws.String(string(data))},
			"updated_at": {S: aws.String(time.Now().UTC().Format(time.RFC3339))},
		},
	})
	return err
}

// DynamoDB client doesn't need explicit closing
func (d *dynamoBackend) close() error {
	return nil
}
