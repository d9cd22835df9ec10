// Package storage defines the object store abstraction for capture artifacts.
// Implementations exist for Google Cloud Storage, S3-compatible stores, the
// local filesystem and an in-memory store for tests.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by Read/Stat when the key has no object.
// Callers treat it as a data-consistency signal (orphan cleanup), never as
// a crash.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes a stored object without its payload.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// WriteOptions carries per-write metadata.
type WriteOptions struct {
	ContentType string
}

// DeleteResult aggregates the outcome of a batch delete. Partial chunk
// failures are reported here rather than aborting the whole operation.
type DeleteResult struct {
	Deleted int
	Errors  []DeleteError
}

// DeleteError pairs a failed key with its cause.
type DeleteError struct {
	Key string
	Err error
}

// ObjectStore is the durable blob interface used by the capture pipeline.
type ObjectStore interface {
	// Write stores data under key, replacing any existing object.
	Write(ctx context.Context, key string, data []byte, opts WriteOptions) error
	// Read returns the full object payload.
	Read(ctx context.Context, key string) ([]byte, error)
	// ReadStream returns a reader over the object so large artifacts can
	// be piped without full materialization. Callers must Close it.
	ReadStream(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// Stat returns object metadata, or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// Exists reports whether the key has an object.
	Exists(ctx context.Context, key string) (bool, error)
	// DeleteMany removes keys, chunking above the backend batch limit.
	DeleteMany(ctx context.Context, keys []string) (DeleteResult, error)
	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// BatchDeleteLimit is the per-call key cap shared by the cloud backends.
const BatchDeleteLimit = 1000

// ChunkKeys splits keys into slices of at most limit entries.
func ChunkKeys(keys []string, limit int) [][]string {
	if limit <= 0 || len(keys) == 0 {
		return nil
	}
	chunks := make([][]string, 0, (len(keys)+limit-1)/limit)
	for len(keys) > limit {
		chunks = append(chunks, keys[:limit])
		keys = keys[limit:]
	}
	return append(chunks, keys)
}

// DeleteInChunks invokes del once per chunk of at most limit keys and
// merges the outcomes. A failing chunk contributes its per-key errors;
// the remaining chunks still run.
func DeleteInChunks(keys []string, limit int, del func(chunk []string) (int, []DeleteError)) DeleteResult {
	var result DeleteResult
	for _, chunk := range ChunkKeys(keys, limit) {
		deleted, errs := del(chunk)
		result.Deleted += deleted
		result.Errors = append(result.Errors, errs...)
	}
	return result
}
