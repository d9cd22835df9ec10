// Package memory provides an in-memory object store for tests and
// single-process development.
package memory

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pagelens/pagelens/internal/storage"
)

type object struct {
	data        []byte
	contentType string
	etag        string
	modified    time.Time
}

// Store is a concurrency-safe map-backed object store.
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New constructs an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// Write stores a copy of data under key.
func (s *Store) Write(_ context.Context, key string, data []byte, opts storage.WriteOptions) error {
	sum := sha256.Sum256(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{
		data:        bytes.Clone(data),
		contentType: opts.ContentType,
		etag:        hex.EncodeToString(sum[:8]),
		modified:    time.Now().UTC(),
	}
	return nil
}

// Read returns a copy of the payload.
func (s *Store) Read(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("memory object %s: %w", key, storage.ErrObjectNotFound)
	}
	return bytes.Clone(obj.data), nil
}

// ReadStream wraps the payload in a reader.
func (s *Store) ReadStream(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	data, err := s.Read(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return io.NopCloser(bytes.NewReader(data)), info, nil
}

// Stat returns object metadata.
func (s *Store) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return storage.ObjectInfo{}, fmt.Errorf("memory object %s: %w", key, storage.ErrObjectNotFound)
	}
	return storage.ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         obj.etag,
		ContentType:  obj.contentType,
		LastModified: obj.modified,
	}, nil
}

// Exists reports whether key is present.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}

// Delete removes a single key. Used by tests simulating out-of-band blob
// loss.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

// DeleteMany removes keys in chunks, mirroring the cloud backends.
func (s *Store) DeleteMany(_ context.Context, keys []string) (storage.DeleteResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := storage.DeleteInChunks(keys, storage.BatchDeleteLimit, func(chunk []string) (int, []storage.DeleteError) {
		for _, key := range chunk {
			delete(s.objects, key)
		}
		return len(chunk), nil
	})
	return result, nil
}

// HealthCheck always succeeds.
func (s *Store) HealthCheck(_ context.Context) error { return nil }

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
