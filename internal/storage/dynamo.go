package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"tweench/internal/models"
)

// DynamoAPI is the subset of *dynamodb.Client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// batchWriteLimit is the DynamoDB cap on requests per BatchWriteItem call.
const batchWriteLimit = 25

const maxBatchRetries = 5

type Dynamo struct {
	client DynamoAPI
	tables Tables
	log    *slog.Logger
}

var _ Store = (*Dynamo)(nil)

func NewDynamo(client DynamoAPI, tables Tables, log *slog.Logger) *Dynamo {
	if log == nil {
		log = slog.Default()
	}
	return &Dynamo{client: client, tables: tables, log: log.With("component", "dynamodb")}
}

func (s *Dynamo) Close() {}

// EnsureTables creates the three tables if missing and waits until they
// are active.
func (s *Dynamo) EnsureTables(ctx context.Context) error {
	const op = "storage.EnsureTables"

	for table, key := range map[string]string{
		s.tables.Subreddits: "id",
		s.tables.Posts:      "id",
		s.tables.Images:     "path",
	} {
		if err := s.createTable(ctx, table, key); err != nil {
			return fmt.Errorf("%s: %s: %w", op, table, err)
		}
	}
	return nil
}

func (s *Dynamo) createTable(ctx context.Context, table, key string) error {
	_, err := s.client.CreateTable(ctx, &dynamodb.CreateTableInput{
		TableName: aws.String(table),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String(key), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String(key), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	})
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		return err
	}

	s.log.Info("table created, waiting for it to become active", "table", table)
	waiter := dynamodb.NewTableExistsWaiter(s.client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)}, 2*time.Minute)
}

func (s *Dynamo) put(ctx context.Context, table string, item any) error {
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      av,
	})
	return err
}

// get loads the item with the given string key into out. It reports false
// when no such item exists.
func (s *Dynamo) get(ctx context.Context, table, key, value string, out any) (bool, error) {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(table),
		Key: map[string]types.AttributeValue{
			key: &types.AttributeValueMemberS{Value: value},
		},
	})
	if err != nil {
		return false, err
	}
	if res.Item == nil {
		return false, nil
	}
	if err := attributevalue.UnmarshalMap(res.Item, out); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Dynamo) SaveSubreddit(ctx context.Context, sub models.Subreddit) error {
	const op = "storage.SaveSubreddit"

	if err := s.put(ctx, s.tables.Subreddits, sub); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Dynamo) SavePost(ctx context.Context, p models.Post) error {
	const op = "storage.SavePost"

	if err := s.put(ctx, s.tables.Posts, p); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Dynamo) GetPost(ctx context.Context, id string) (*models.Post, error) {
	const op = "storage.GetPost"

	var p models.Post
	ok, err := s.get(ctx, s.tables.Posts, "id", id, &p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *Dynamo) FinalizePost(ctx context.Context, id string, images []models.MediaRecord) error {
	const op = "storage.FinalizePost"

	if images == nil {
		images = []models.MediaRecord{}
	}
	update := expression.Set(expression.Name("images"), expression.Value(images))
	cond := expression.AttributeExists(expression.Name("id"))
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tables.Posts),
		Key: map[string]types.AttributeValue{
			"id": &types.AttributeValueMemberS{Value: id},
		},
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		var condFailed *types.ConditionalCheckFailedException
		if errors.As(err, &condFailed) {
			return fmt.Errorf("%s: post %s: %w", op, id, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Dynamo) GetImage(ctx context.Context, path string) (*models.MediaRecord, error) {
	const op = "storage.GetImage"

	var rec models.MediaRecord
	ok, err := s.get(ctx, s.tables.Images, "path", path, &rec)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *Dynamo) PutImages(ctx context.Context, records []models.MediaRecord) error {
	const op = "storage.PutImages"

	records = storable(records)
	for start := 0; start < len(records); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(records))

		requests := make([]types.WriteRequest, 0, end-start)
		for _, r := range records[start:end] {
			av, err := attributevalue.MarshalMap(r)
			if err != nil {
				return fmt.Errorf("%s: %s: %w", op, r.Path, err)
			}
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: av}})
		}
		if err := s.batchWrite(ctx, requests); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func (s *Dynamo) batchWrite(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{s.tables.Images: requests}

	for attempt := 0; attempt < maxBatchRetries; attempt++ {
		out, err := s.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return err
		}
		if len(out.UnprocessedItems) == 0 {
			return nil
		}
		pending = out.UnprocessedItems
		s.log.Warn("batch write left unprocessed items, retrying",
			"count", len(pending[s.tables.Images]), "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("%d image records left unprocessed", len(pending[s.tables.Images]))
}
