// Package gcs implements the object store on Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"

	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/storage"
)

// Store implements storage.ObjectStore backed by a GCS bucket.
type Store struct {
	client *gstorage.Client
	bucket string
	retry  storage.RetryConfig
	logger *zap.Logger
}

// New initializes a GCS client and verifies bucket access so startup fails
// fast on misconfiguration. Authentication uses Application Default
// Credentials.
func New(ctx context.Context, bucket string, retry storage.RetryConfig, logger *zap.Logger) (*Store, error) {
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close gcs client after attrs failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("get gcs bucket %q attributes: %w", bucket, err)
	}
	return &Store{client: client, bucket: bucket, retry: retry, logger: logger}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

// Write uploads data under key. The GCS writer finalizes on Close, so both
// the write and close paths are part of one retryable attempt.
func (s *Store) Write(ctx context.Context, key string, data []byte, opts storage.WriteOptions) error {
	return storage.WithRetry(ctx, s.retry, func() error {
		wc := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
		wc.ContentType = opts.ContentType
		if _, err := wc.Write(data); err != nil {
			if closeErr := wc.Close(); closeErr != nil {
				s.logger.Warn("close gcs writer after write failure", zap.String("key", key), zap.Error(closeErr))
			}
			return fmt.Errorf("write gcs object %s: %w", key, err)
		}
		if err := wc.Close(); err != nil {
			return fmt.Errorf("finalize gcs object %s: %w", key, err)
		}
		return nil
	})
}

// Read returns the full object payload.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := storage.WithRetry(ctx, s.retry, func() error {
		rc, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
		if err != nil {
			return mapErr(key, err)
		}
		defer func() {
			if closeErr := rc.Close(); closeErr != nil {
				s.logger.Warn("close gcs reader", zap.String("key", key), zap.Error(closeErr))
			}
		}()
		data, err = io.ReadAll(rc)
		if err != nil {
			return fmt.Errorf("read gcs object %s: %w", key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ReadStream opens a reader over the object without buffering it.
func (s *Store) ReadStream(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	var (
		rc   *gstorage.Reader
		info storage.ObjectInfo
	)
	err := storage.WithRetry(ctx, s.retry, func() error {
		var err error
		rc, err = s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
		if err != nil {
			return mapErr(key, err)
		}
		info = storage.ObjectInfo{
			Key:          key,
			Size:         rc.Attrs.Size,
			ContentType:  rc.Attrs.ContentType,
			LastModified: rc.Attrs.LastModified,
		}
		return nil
	})
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return rc, info, nil
}

// Stat fetches object metadata.
func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	var info storage.ObjectInfo
	err := storage.WithRetry(ctx, s.retry, func() error {
		attrs, err := s.client.Bucket(s.bucket).Object(key).Attrs(ctx)
		if err != nil {
			return mapErr(key, err)
		}
		info = storage.ObjectInfo{
			Key:          key,
			Size:         attrs.Size,
			ETag:         attrs.Etag,
			ContentType:  attrs.ContentType,
			LastModified: attrs.Updated,
		}
		return nil
	})
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	return info, nil
}

// Exists reports whether key has an object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if errors.Is(err, storage.ErrObjectNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DeleteMany removes keys in chunks. GCS has no bulk-delete RPC, so each
// chunk issues per-object deletes; failures are collected per key and the
// remaining chunks still run.
func (s *Store) DeleteMany(ctx context.Context, keys []string) (storage.DeleteResult, error) {
	result := storage.DeleteInChunks(keys, storage.BatchDeleteLimit, func(chunk []string) (int, []storage.DeleteError) {
		deleted := 0
		var errs []storage.DeleteError
		for _, key := range chunk {
			err := storage.WithRetry(ctx, s.retry, func() error {
				if err := s.client.Bucket(s.bucket).Object(key).Delete(ctx); err != nil {
					return mapErr(key, err)
				}
				return nil
			})
			switch {
			case err == nil, errors.Is(err, storage.ErrObjectNotFound):
				deleted++
			default:
				errs = append(errs, storage.DeleteError{Key: key, Err: err})
			}
		}
		return deleted, errs
	})
	return result, nil
}

// HealthCheck verifies bucket reachability.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs health check: %w", err)
	}
	return nil
}

func mapErr(key string, err error) error {
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return fmt.Errorf("gcs object %s: %w", key, storage.ErrObjectNotFound)
	}
	return fmt.Errorf("gcs object %s: %w", key, err)
}
