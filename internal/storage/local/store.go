// Package local implements the object store on the local filesystem,
// intended for development and single-node deployments.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pagelens/pagelens/internal/storage"
)

// Store writes artifacts under a base directory.
type Store struct {
	baseDir string
}

// New validates the base directory is a writable directory, creating it if
// needed.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	info, err := os.Stat(baseDir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(baseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	}

	probe := filepath.Join(baseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("probe"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	full := filepath.Join(s.baseDir, filepath.FromSlash(key))
	cleanBase := filepath.Clean(s.baseDir)
	if !strings.HasPrefix(filepath.Clean(full), cleanBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected for key %q", key)
	}
	return full, nil
}

// Write stores data as a file under the base directory.
func (s *Store) Write(_ context.Context, key string, data []byte, _ storage.WriteOptions) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// Read returns the file contents.
func (s *Store) Read(_ context.Context, key string) ([]byte, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("local object %s: %w", key, storage.ErrObjectNotFound)
		}
		return nil, fmt.Errorf("read file: %w", err)
	}
	return data, nil
}

// ReadStream opens the file for streaming.
func (s *Store) ReadStream(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	full, err := s.resolve(key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, storage.ObjectInfo{}, fmt.Errorf("open file: %w", err)
	}
	return f, info, nil
}

// Stat returns file metadata. The ETag is a content hash so callers get
// the same change-detection semantics as with a cloud backend.
func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	full, err := s.resolve(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	fi, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.ObjectInfo{}, fmt.Errorf("local object %s: %w", key, storage.ErrObjectNotFound)
		}
		return storage.ObjectInfo{}, fmt.Errorf("stat file: %w", err)
	}
	data, err := s.Read(ctx, key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	sum := sha256.Sum256(data)
	return storage.ObjectInfo{
		Key:          key,
		Size:         fi.Size(),
		ETag:         hex.EncodeToString(sum[:8]),
		LastModified: fi.ModTime().UTC(),
	}, nil
}

// Exists reports whether the file exists.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	full, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat file: %w", err)
	}
	return true, nil
}

// DeleteMany removes files, collecting individual failures.
func (s *Store) DeleteMany(_ context.Context, keys []string) (storage.DeleteResult, error) {
	result := storage.DeleteInChunks(keys, storage.BatchDeleteLimit, func(chunk []string) (int, []storage.DeleteError) {
		deleted := 0
		var errs []storage.DeleteError
		for _, key := range chunk {
			full, err := s.resolve(key)
			if err != nil {
				errs = append(errs, storage.DeleteError{Key: key, Err: err})
				continue
			}
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				errs = append(errs, storage.DeleteError{Key: key, Err: err})
				continue
			}
			deleted++
		}
		return deleted, errs
	})
	return result, nil
}

// HealthCheck verifies the base directory is still present.
func (s *Store) HealthCheck(_ context.Context) error {
	info, err := os.Stat(s.baseDir)
	if err != nil {
		return fmt.Errorf("local store health check: %w", err)
	}
	if !info.IsDir() {
		return errors.New("local store base path is not a directory")
	}
	return nil
}
