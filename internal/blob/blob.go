// Package blob provides path-addressed object storage for the index document
// and its backups.
//
// Backends: in-memory (tests), local filesystem, Amazon S3 and MinIO. Every
// backend supports user-defined per-object metadata, which the index store
// uses to carry the document version without downloading the body.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("blob not found")

// ErrConcurrentModification is returned when a conditional write loses a race.
var ErrConcurrentModification = errors.New("concurrent modification detected")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Path     string
	Size     int64
	ModTime  time.Time
	Metadata map[string]string
}

// Store is path-addressed object storage.
// Paths use forward slashes and are relative to the store root.
type Store interface {
	Exists(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
	// Stat returns size, modification time and metadata without the body.
	Stat(ctx context.Context, path string) (ObjectInfo, error)
	Put(ctx context.Context, path string, data []byte, metadata map[string]string) error
	// Copy duplicates src to dst, including metadata.
	Copy(ctx context.Context, src, dst string) error
	// Delete removes path. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
	// List returns objects under prefix sorted by path. Metadata may be nil.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

func cloneMeta(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
