// Package storage persists archive entities: subreddits, posts and image
// records. Three drivers exist: Postgres, DynamoDB and a log-only one.
package storage

import (
	"context"
	"errors"

	"tweench/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the metadata store used by the archiver, the store gate and the
// HTTP API. Getters return (nil, nil) when the entity is absent.
type Store interface {
	SaveSubreddit(ctx context.Context, s models.Subreddit) error
	SavePost(ctx context.Context, p models.Post) error
	GetPost(ctx context.Context, id string) (*models.Post, error)
	// FinalizePost attaches the processed image records to a saved post.
	FinalizePost(ctx context.Context, id string, images []models.MediaRecord) error
	GetImage(ctx context.Context, path string) (*models.MediaRecord, error)
	// PutImages upserts records keyed by path; records without a path are skipped.
	PutImages(ctx context.Context, records []models.MediaRecord) error
	Close()
}

type Tables struct {
	Schema     string
	Subreddits string
	Posts      string
	Images     string
}

func TablesFromConfig(cfg models.PersistenceConfig) Tables {
	t := Tables{
		Schema:     cfg.Schema,
		Subreddits: cfg.SubredditTable,
		Posts:      cfg.PostTable,
		Images:     cfg.ImageTable,
	}
	if t.Schema == "" {
		t.Schema = "public"
	}
	return t
}

func storable(records []models.MediaRecord) []models.MediaRecord {
	out := make([]models.MediaRecord, 0, len(records))
	for _, r := range records {
		if r.Path != "" {
			out = append(out, r)
		}
	}
	return out
}
