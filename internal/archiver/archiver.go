// Package archiver turns queue messages into stored subreddits, posts and
// media.
package archiver

import (
	"context"
	"fmt"
	"log/slog"

	"tweench/internal/models"
	"tweench/internal/queue"
	"tweench/internal/storage"
)

type Reddit interface {
	Subreddit(ctx context.Context, name string) (models.Subreddit, error)
	Posts(ctx context.Context, subreddit, query string, limit int) ([]models.Post, error)
	Post(ctx context.Context, id string) (models.Post, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, typ, body string) (queue.Message, error)
}

type Pipeline interface {
	Process(ctx context.Context, url string) []models.MediaRecord
}

type Options struct {
	Query     string
	PostLimit int
}

type Archiver struct {
	reddit   Reddit
	store    storage.Store
	queue    Enqueuer
	pipeline Pipeline
	opts     Options
	log      *slog.Logger
}

func New(r Reddit, store storage.Store, q Enqueuer, p Pipeline, opts Options, log *slog.Logger) *Archiver {
	if log == nil {
		log = slog.Default()
	}
	return &Archiver{
		reddit:   r,
		store:    store,
		queue:    q,
		pipeline: p,
		opts:     opts,
		log:      log.With("component", "archiver"),
	}
}

// StoreSubreddit saves the subreddit and enqueues one STORE_POST message per
// listed post. It returns the number of posts enqueued.
func (a *Archiver) StoreSubreddit(ctx context.Context, name string) (int, error) {
	const op = "archiver.StoreSubreddit"

	sub, err := a.reddit.Subreddit(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err := a.store.SaveSubreddit(ctx, sub); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	posts, err := a.reddit.Posts(ctx, name, a.opts.Query, a.opts.PostLimit)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	enqueued := 0
	for _, p := range posts {
		if _, err := a.queue.Enqueue(ctx, queue.TypeStorePost, p.ID); err != nil {
			a.log.Error("failed to enqueue post", "subreddit", name, "post", p.ID, "err", err)
			continue
		}
		enqueued++
	}
	a.log.Info("subreddit stored", "subreddit", name, "posts", len(posts), "enqueued", enqueued)
	return enqueued, nil
}

// StorePost saves the post, archives its media and attaches the resulting
// records to it.
func (a *Archiver) StorePost(ctx context.Context, id string) (models.Post, error) {
	const op = "archiver.StorePost"

	post, err := a.reddit.Post(ctx, id)
	if err != nil {
		return models.Post{}, fmt.Errorf("%s: %w", op, err)
	}
	log := a.log.With("post", post.ID, "url", post.URL)

	if err := a.store.SavePost(ctx, post); err != nil {
		return models.Post{}, fmt.Errorf("%s: %w", op, err)
	}

	records := a.pipeline.Process(ctx, post.URL)
	if err := a.store.PutImages(ctx, records); err != nil {
		return models.Post{}, fmt.Errorf("%s: %w", op, err)
	}
	if err := a.store.FinalizePost(ctx, post.ID, records); err != nil {
		return models.Post{}, fmt.Errorf("%s: %w", op, err)
	}

	post.Images = records
	log.Info("post stored", "images", len(records))
	return post, nil
}

// Handle dispatches a queue message. Unknown types return ErrUnknownType.
func (a *Archiver) Handle(ctx context.Context, m queue.Message) error {
	switch m.Type {
	case queue.TypeStoreSubreddit:
		_, err := a.StoreSubreddit(ctx, m.Body)
		return err
	case queue.TypeStorePost:
		_, err := a.StorePost(ctx, m.Body)
		return err
	default:
		return fmt.Errorf("archiver.Handle: %q: %w", m.Type, queue.ErrUnknownType)
	}
}
