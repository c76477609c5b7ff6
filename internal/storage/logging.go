package storage

import (
	"context"
	"log/slog"

	"tweench/internal/models"
)

// Logging records every write in the log and stores nothing. Reads always
// miss, so every run re-processes all media.
type Logging struct {
	log *slog.Logger
}

var _ Store = (*Logging)(nil)

func NewLogging(log *slog.Logger) *Logging {
	if log == nil {
		log = slog.Default()
	}
	return &Logging{log: log.With("component", "logging-store")}
}

func (s *Logging) Close() {}

func (s *Logging) SaveSubreddit(_ context.Context, sub models.Subreddit) error {
	s.log.Info("persist subreddit", "id", sub.ID, "name", sub.Name, "title", sub.Title)
	return nil
}

func (s *Logging) SavePost(_ context.Context, p models.Post) error {
	s.log.Info("persist post", "id", p.ID, "subreddit", p.Subreddit, "url", p.URL, "nsfw", p.NSFW)
	return nil
}

func (s *Logging) GetPost(context.Context, string) (*models.Post, error) { return nil, nil }

func (s *Logging) FinalizePost(_ context.Context, id string, images []models.MediaRecord) error {
	s.log.Info("finalize post", "id", id, "images", len(images))
	return nil
}

func (s *Logging) GetImage(context.Context, string) (*models.MediaRecord, error) { return nil, nil }

func (s *Logging) PutImages(_ context.Context, records []models.MediaRecord) error {
	for _, r := range storable(records) {
		s.log.Info("persist image", "path", r.Path, "url", r.URL, "colors", len(r.Colors))
	}
	return nil
}
