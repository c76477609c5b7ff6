package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tweench/internal/logger"
	"tweench/internal/models"
)

// fakeDynamo keeps items per table keyed by the string value of their hash key.
type fakeDynamo struct {
	mu          sync.Mutex
	keys        map[string]string
	items       map[string]map[string]map[string]types.AttributeValue
	updates     []*dynamodb.UpdateItemInput
	batchCalls  int
	unprocessed int // items to bounce back on the first batch call
	created     []string
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{
		keys:  map[string]string{"subreddits": "id", "posts": "id", "images": "path"},
		items: map[string]map[string]map[string]types.AttributeValue{},
	}
}

func (f *fakeDynamo) store(table string, item map[string]types.AttributeValue) {
	key := item[f.keys[table]].(*types.AttributeValueMemberS).Value
	if f.items[table] == nil {
		f.items[table] = map[string]map[string]types.AttributeValue{}
	}
	f.items[table][key] = item
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	table := aws.ToString(in.TableName)
	key := in.Key[f.keys[table]].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[table][key]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store(aws.ToString(in.TableName), in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	table := aws.ToString(in.TableName)
	key := in.Key["id"].(*types.AttributeValueMemberS).Value
	if _, ok := f.items[table][key]; !ok {
		return nil, &types.ConditionalCheckFailedException{}
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	out := &dynamodb.BatchWriteItemOutput{}
	for table, reqs := range in.RequestItems {
		if f.unprocessed > 0 {
			n := min(f.unprocessed, len(reqs))
			out.UnprocessedItems = map[string][]types.WriteRequest{table: reqs[:n]}
			reqs = reqs[n:]
			f.unprocessed = 0
		}
		for _, r := range reqs {
			f.store(table, r.PutRequest.Item)
		}
	}
	return out, nil
}

func (f *fakeDynamo) CreateTable(_ context.Context, in *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, aws.ToString(in.TableName))
	return nil, &types.ResourceInUseException{}
}

func (f *fakeDynamo) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{
		TableName:   in.TableName,
		TableStatus: types.TableStatusActive,
	}}, nil
}

var testTables = Tables{Schema: "public", Subreddits: "subreddits", Posts: "posts", Images: "images"}

func TestDynamo_ImageRoundTrip(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamo(fake, testTables, logger.Discard())
	ctx := context.Background()

	rec := models.MediaRecord{
		URL:        "http://i.imgur.com/asdf.jpg",
		Path:       "65fdd351248ab761f1f66cf394da65ca/asdf.jpg",
		Dimensions: &models.Dimensions{Height: 10, Width: 20},
		Colors:     []models.Color{{Value: "#ffffff", Prominence: 100}},
	}
	require.NoError(t, s.PutImages(ctx, []models.MediaRecord{rec, {URL: "http://degraded"}}))
	assert.Len(t, fake.items["images"], 1)

	got, err := s.GetImage(ctx, rec.Path)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec, *got)

	missing, err := s.GetImage(ctx, "nope/x.png")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDynamo_PutImagesChunksAndRetries(t *testing.T) {
	fake := newFakeDynamo()
	fake.unprocessed = 3
	s := NewDynamo(fake, testTables, logger.Discard())

	var recs []models.MediaRecord
	for i := 0; i < 30; i++ {
		recs = append(recs, models.MediaRecord{URL: "http://x", Path: fmt.Sprintf("k%02d/x.png", i)})
	}
	require.NoError(t, s.PutImages(context.Background(), recs))
	assert.Len(t, fake.items["images"], 30)
	// 25 + 5 records, plus one retry for the bounced items
	assert.Equal(t, 3, fake.batchCalls)
}

func TestDynamo_PostLifecycle(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamo(fake, testTables, logger.Discard())
	ctx := context.Background()

	created := time.Date(2015, 6, 1, 12, 0, 0, 0, time.UTC)
	post := models.Post{ID: "3abcde", Title: "a cat", URL: "http://i.imgur.com/cat.jpg", Subreddit: "cats", Created: created}
	require.NoError(t, s.SavePost(ctx, post))

	got, err := s.GetPost(ctx, "3abcde")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a cat", got.Title)
	assert.True(t, created.Equal(got.Created))

	images := []models.MediaRecord{{URL: "http://i.imgur.com/cat.jpg", Path: "k/cat.jpg"}}
	require.NoError(t, s.FinalizePost(ctx, "3abcde", images))
	require.Len(t, fake.updates, 1)

	upd := fake.updates[0]
	assert.Contains(t, aws.ToString(upd.UpdateExpression), "SET")
	assert.Contains(t, aws.ToString(upd.ConditionExpression), "attribute_exists")

	var stored []models.MediaRecord
	for _, v := range upd.ExpressionAttributeValues {
		require.NoError(t, attributevalue.Unmarshal(v, &stored))
	}
	assert.Equal(t, images, stored)

	err = s.FinalizePost(ctx, "missing", images)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDynamo_SaveSubreddit(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamo(fake, testTables, logger.Discard())

	require.NoError(t, s.SaveSubreddit(context.Background(), models.Subreddit{ID: "2qh1o", Name: "aww", Title: "A subreddit for cute things"}))
	item := fake.items["subreddits"]["2qh1o"]
	require.NotNil(t, item)
	assert.Equal(t, "aww", item["name"].(*types.AttributeValueMemberS).Value)
}

func TestDynamo_EnsureTablesToleratesExisting(t *testing.T) {
	fake := newFakeDynamo()
	s := NewDynamo(fake, testTables, logger.Discard())

	require.NoError(t, s.EnsureTables(context.Background()))
	assert.ElementsMatch(t, []string{"subreddits", "posts", "images"}, fake.created)
}

func TestLogging_ReadsMiss(t *testing.T) {
	s := NewLogging(logger.Discard())
	ctx := context.Background()

	require.NoError(t, s.PutImages(ctx, []models.MediaRecord{{URL: "u", Path: "p"}}))
	rec, err := s.GetImage(ctx, "p")
	require.NoError(t, err)
	assert.Nil(t, rec)

	post, err := s.GetPost(ctx, "id")
	require.NoError(t, err)
	assert.Nil(t, post)
}
