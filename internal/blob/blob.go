// Package blob holds the object-storage port and its adapters.
package blob

import "context"

// Store is the narrow blob-storage contract the pipeline consumes.
type Store interface {
	Put(ctx context.Context, bucket, path string, data []byte, contentType string) error
	Exists(ctx context.Context, bucket, path string) (bool, error)
}
