// Package ingest runs the per-post media pipeline: classify the post URL,
// skip assets that are already archived, fetch the rest, store originals
// and thumbnails, and return one record per asset.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tweench/internal/blob"
	"tweench/internal/fetcher"
	"tweench/internal/gate"
	"tweench/internal/media"
	"tweench/internal/models"
)

type Classifier interface {
	Classify(ctx context.Context, url string) []models.RemoteAsset
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (fetcher.Content, error)
}

type Gate interface {
	BlobExists(ctx context.Context, path string) bool
	Lookup(ctx context.Context, path string) (*models.MediaRecord, bool)
}

type Config struct {
	Buckets       media.Buckets
	ThumbnailSize int
	MediaKind     media.Kind
}

type Pipeline struct {
	classifier Classifier
	fetcher    Fetcher
	gate       Gate
	blobs      blob.Store
	cfg        Config
	log        *slog.Logger
}

func New(c Classifier, f Fetcher, g Gate, blobs blob.Store, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		classifier: c,
		fetcher:    f,
		gate:       g,
		blobs:      blobs,
		cfg:        cfg,
		log:        log.With("component", "pipeline"),
	}
}

// Process archives every asset referenced by url and returns their records
// in classification order. Failed fetches yield URL-only records; motion
// assets whose video or preview cannot be fetched yield nothing.
func (p *Pipeline) Process(ctx context.Context, url string) []models.MediaRecord {
	assets := p.classifier.Classify(ctx, url)
	if len(assets) == 0 {
		return nil
	}

	records := make([]models.MediaRecord, 0, len(assets))
	for _, a := range assets {
		if rec := p.processAsset(ctx, a); rec != nil {
			records = append(records, *rec)
		}
	}
	p.log.Info("post processed", "url", url, "assets", len(assets), "records", len(records))
	return records
}

func (p *Pipeline) processAsset(ctx context.Context, a models.RemoteAsset) (rec *models.MediaRecord) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("asset processing panicked", "url", a.URL, "panic", fmt.Sprint(r))
			rec = &models.MediaRecord{URL: a.URL}
		}
	}()

	path := gate.StoragePath(a.URL)
	log := p.log.With("url", a.URL, "path", path, "kind", a.Kind)

	// Both halves must agree; a blob without a record (or the reverse) is
	// left over from a partial failure and gets rewritten.
	if p.gate.BlobExists(ctx, path) {
		if stored, ok := p.gate.Lookup(ctx, path); ok {
			log.Info("already archived, skipping fetch")
			return stored
		}
	}

	switch a.Kind {
	case models.KindVideoWithPreview:
		return p.motion(ctx, a, path, log)
	default:
		return p.static(ctx, a, path, log)
	}
}

func (p *Pipeline) static(ctx context.Context, a models.RemoteAsset, path string, log *slog.Logger) *models.MediaRecord {
	log.Info("downloading")
	content, err := p.fetcher.Fetch(ctx, a.URL)
	if err != nil {
		logFetchFailure(log, err)
		return &models.MediaRecord{URL: a.URL}
	}

	m := media.New(p.blobs, p.cfg.Buckets, path, content.Data,
		media.WithKind(p.cfg.MediaKind), media.WithLogger(log))
	if !p.store(ctx, m, log) {
		return &models.MediaRecord{URL: a.URL}
	}
	return &models.MediaRecord{
		URL:        a.URL,
		Path:       path,
		Dimensions: m.Dimensions(),
		Colors:     m.Colors(),
	}
}

// motion stores a video together with its host-supplied preview. A video
// without a preview is not worth keeping, so either fetch failing drops
// the asset.
func (p *Pipeline) motion(ctx context.Context, a models.RemoteAsset, path string, log *slog.Logger) *models.MediaRecord {
	video, err := p.fetcher.Fetch(ctx, a.URL)
	if err != nil {
		logFetchFailure(log, err)
		return nil
	}
	preview, err := p.fetcher.Fetch(ctx, a.PreviewURL)
	if err != nil {
		logFetchFailure(log.With("preview_url", a.PreviewURL), err)
		return nil
	}

	m := media.New(p.blobs, p.cfg.Buckets, path, video.Data,
		media.WithThumbnail(preview.Data),
		media.WithContentType(video.ContentType),
		media.WithKind(p.cfg.MediaKind),
		media.WithLogger(log))
	if !p.store(ctx, m, log) {
		return nil
	}
	return &models.MediaRecord{URL: a.URL, Path: path, Dimensions: a.Dimensions}
}

// store uploads the original (unless the media is thumbnail-only) and the
// thumbnail. It reports false when nothing usable was written.
func (p *Pipeline) store(ctx context.Context, m *media.Media, log *slog.Logger) bool {
	size := media.ThumbnailSize{Width: p.cfg.ThumbnailSize}

	switch m.Kind() {
	case media.KindThumbnailOnly:
		if err := m.UploadThumbnail(ctx, size); err != nil {
			log.Error("thumbnail upload failed", "err", err)
			return false
		}
		return true
	default:
		if err := m.Upload(ctx); err != nil {
			log.Error("original upload failed", "err", err)
			return false
		}
		if err := m.UploadThumbnail(ctx, size); err != nil {
			log.Warn("thumbnail upload failed", "err", err)
		}
		return true
	}
}

func logFetchFailure(log *slog.Logger, err error) {
	var fe *fetcher.FetchError
	if errors.As(err, &fe) {
		log.Warn("fetch failed", "reason", fe.Reason, "status", fe.StatusCode, "err", err)
		return
	}
	log.Warn("fetch failed", "err", err)
}
