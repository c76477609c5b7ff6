package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
)

// migrations returns the schema history. Table names are configurable, so
// the steps are Go functions rather than embedded SQL files.
func migrations(t Tables) []*goose.Migration {
	subreddits := qualify(t.Schema, t.Subreddits)
	posts := qualify(t.Schema, t.Posts)
	images := qualify(t.Schema, t.Images)
	postsIndex := t.Posts + "_subreddit_created_idx"

	return []*goose.Migration{
		goose.NewGoMigration(1,
			execTx(
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					id         TEXT PRIMARY KEY,
					name       TEXT NOT NULL,
					title      TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`, subreddits),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					id          TEXT PRIMARY KEY,
					title       TEXT NOT NULL DEFAULT '',
					permalink   TEXT NOT NULL DEFAULT '',
					url         TEXT NOT NULL DEFAULT '',
					author      TEXT NOT NULL DEFAULT '',
					subreddit   TEXT NOT NULL,
					nsfw        BOOLEAN NOT NULL DEFAULT FALSE,
					created     TIMESTAMPTZ,
					images      JSONB,
					archived_at TIMESTAMPTZ
				)`, posts),
				fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
					path       TEXT PRIMARY KEY,
					url        TEXT NOT NULL,
					dimensions JSONB,
					colors     JSONB,
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				)`, images),
			),
			execTx(
				fmt.Sprintf(`DROP TABLE IF EXISTS %s`, images),
				fmt.Sprintf(`DROP TABLE IF EXISTS %s`, posts),
				fmt.Sprintf(`DROP TABLE IF EXISTS %s`, subreddits),
			),
		),
		goose.NewGoMigration(2,
			execTx(fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (subreddit, created DESC)`,
				pq.QuoteIdentifier(postsIndex), posts)),
			execTx(fmt.Sprintf(`DROP INDEX IF EXISTS %s`,
				qualify(t.Schema, postsIndex))),
		),
	}
}

func execTx(statements ...string) *goose.GoFunc {
	return &goose.GoFunc{
		RunTx: func(ctx context.Context, tx *sql.Tx) error {
			for _, stmt := range statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// runMigrations applies the schema over a lib/pq connection; queries later
// go through the pgx pool.
func runMigrations(ctx context.Context, dsn string, tables Tables, log *slog.Logger) error {
	const op = "storage.migrations"

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, nil,
		goose.WithGoMigrations(migrations(tables)...),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(results) == 0 {
		log.Info("no migrations to apply")
		return nil
	}
	log.Info("database migrations applied", "count", len(results))
	return nil
}
