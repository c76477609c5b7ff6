package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"

	"tweench/internal/models"
)

type Postgres struct {
	pool   *pgxpool.Pool
	tables Tables
	log    *slog.Logger
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, dsn string, tables Tables, log *slog.Logger) (*Postgres, error) {
	const op = "storage.NewPostgres"

	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "postgres")

	if err := runMigrations(ctx, dsn, tables, log); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Postgres{pool: pool, tables: tables, log: log}, nil
}

func (s *Postgres) Close() {
	s.pool.Close()
}

// table returns the quoted, schema-qualified name of a table.
func (s *Postgres) table(name string) string {
	return qualify(s.tables.Schema, name)
}

func qualify(schema, name string) string {
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name)
}

func (s *Postgres) SaveSubreddit(ctx context.Context, sub models.Subreddit) error {
	const op = "storage.SaveSubreddit"

	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, name, title) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, title = EXCLUDED.title, updated_at = NOW()`,
		s.table(s.tables.Subreddits)),
		sub.ID, sub.Name, sub.Title)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Postgres) SavePost(ctx context.Context, p models.Post) error {
	const op = "storage.SavePost"

	_, err := s.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, title, permalink, url, author, subreddit, nsfw, created)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		   title = EXCLUDED.title, permalink = EXCLUDED.permalink, url = EXCLUDED.url,
		   author = EXCLUDED.author, nsfw = EXCLUDED.nsfw`,
		s.table(s.tables.Posts)),
		p.ID, p.Title, p.Permalink, p.URL, p.User, p.Subreddit, p.NSFW, p.Created)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Postgres) GetPost(ctx context.Context, id string) (*models.Post, error) {
	const op = "storage.GetPost"

	var (
		p      models.Post
		images []byte
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT id, title, permalink, url, author, subreddit, nsfw, created, images
		 FROM %s WHERE id = $1`, s.table(s.tables.Posts)), id).
		Scan(&p.ID, &p.Title, &p.Permalink, &p.URL, &p.User, &p.Subreddit, &p.NSFW, &p.Created, &images)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return nil, fmt.Errorf("%s: images: %w", op, err)
		}
	}
	return &p, nil
}

func (s *Postgres) FinalizePost(ctx context.Context, id string, images []models.MediaRecord) error {
	const op = "storage.FinalizePost"

	data, err := encodeJSON(images)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(
		`UPDATE %s SET images = $2, archived_at = NOW() WHERE id = $1`,
		s.table(s.tables.Posts)), id, data)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: post %s: %w", op, id, ErrNotFound)
	}
	return nil
}

func (s *Postgres) GetImage(ctx context.Context, path string) (*models.MediaRecord, error) {
	const op = "storage.GetImage"

	var (
		rec          models.MediaRecord
		dims, colors []byte
	)
	err := s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT url, path, dimensions, colors FROM %s WHERE path = $1`,
		s.table(s.tables.Images)), path).
		Scan(&rec.URL, &rec.Path, &dims, &colors)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := decodeRecord(&rec, dims, colors); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &rec, nil
}

func (s *Postgres) PutImages(ctx context.Context, records []models.MediaRecord) error {
	const op = "storage.PutImages"

	records = storable(records)
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(
		`INSERT INTO %s (path, url, dimensions, colors) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (path) DO UPDATE SET url = EXCLUDED.url,
		   dimensions = EXCLUDED.dimensions, colors = EXCLUDED.colors, updated_at = NOW()`,
		s.table(s.tables.Images))

	batch := &pgx.Batch{}
	for _, r := range records {
		dims, colors, err := encodeRecord(r)
		if err != nil {
			return fmt.Errorf("%s: %s: %w", op, r.Path, err)
		}
		batch.Queue(query, r.Path, r.URL, dims, colors)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for _, r := range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("%s: %s: %w", op, r.Path, err)
		}
	}
	s.log.Debug("image records stored", "count", len(records))
	return nil
}

// encodeJSON returns nil for empty values so they are stored as NULL.
func encodeJSON[T any](v []T) ([]byte, error) {
	if len(v) == 0 {
		return nil, nil
	}
	return json.Marshal(v)
}

func encodeRecord(r models.MediaRecord) (dims, colors []byte, err error) {
	if r.Dimensions != nil {
		if dims, err = json.Marshal(r.Dimensions); err != nil {
			return nil, nil, err
		}
	}
	if colors, err = encodeJSON(r.Colors); err != nil {
		return nil, nil, err
	}
	return dims, colors, nil
}

func decodeRecord(rec *models.MediaRecord, dims, colors []byte) error {
	if len(dims) > 0 {
		rec.Dimensions = &models.Dimensions{}
		if err := json.Unmarshal(dims, rec.Dimensions); err != nil {
			return fmt.Errorf("dimensions: %w", err)
		}
	}
	if len(colors) > 0 {
		if err := json.Unmarshal(colors, &rec.Colors); err != nil {
			return fmt.Errorf("colors: %w", err)
		}
	}
	return nil
}
