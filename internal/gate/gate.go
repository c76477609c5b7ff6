// Package gate decides whether a remote asset has already been archived.
//
// An asset's identity is derived from its URL alone: the MD5 of the URL
// string (not of the bytes) joined with the URL's last path segment. The
// same URL therefore always maps to the same storage path, even if the
// remote content changes.
package gate

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"strings"

	"tweench/internal/blob"
	"tweench/internal/models"
)

// RecordStore is the metadata lookup the gate needs.
type RecordStore interface {
	GetImage(ctx context.Context, path string) (*models.MediaRecord, error)
}

// ContentKey returns the hex digest identifying url.
func ContentKey(url string) string {
	sum := md5.Sum([]byte(url))
	return hex.EncodeToString(sum[:])
}

// StoragePath returns "{ContentKey}/{last path segment}".
func StoragePath(url string) string {
	name := url
	if i := strings.LastIndex(url, "/"); i >= 0 {
		name = url[i+1:]
	}
	return ContentKey(url) + "/" + name
}

type Gate struct {
	blobs   blob.Store
	records RecordStore
	bucket  string
	log     *slog.Logger
}

// New builds a gate checking bucket in blobs and records for metadata.
func New(blobs blob.Store, records RecordStore, bucket string, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{blobs: blobs, records: records, bucket: bucket, log: log.With("component", "gate")}
}

// BlobExists reports whether path is present in the gate's bucket. Backend
// errors count as absent.
func (g *Gate) BlobExists(ctx context.Context, path string) bool {
	ok, err := g.blobs.Exists(ctx, g.bucket, path)
	if err != nil {
		g.log.Warn("blob existence check failed", "bucket", g.bucket, "path", path, "err", err)
		return false
	}
	return ok
}

// Lookup returns the stored record for path, if any. Backend errors count as absent.
func (g *Gate) Lookup(ctx context.Context, path string) (*models.MediaRecord, bool) {
	rec, err := g.records.GetImage(ctx, path)
	if err != nil {
		g.log.Warn("metadata lookup failed", "path", path, "err", err)
		return nil, false
	}
	return rec, rec != nil
}
