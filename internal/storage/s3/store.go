// Package s3 implements the object store on any S3-compatible backend via
// the MinIO client.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/pagelens/pagelens/internal/storage"
)

// Config holds connection settings for an S3-compatible endpoint.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// Store implements storage.ObjectStore against MinIO/S3.
type Store struct {
	client *minio.Client
	bucket string
	retry  storage.RetryConfig
}

// New constructs the client and verifies the bucket exists.
func New(ctx context.Context, cfg Config, retry storage.RetryConfig) (*Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, fmt.Errorf("bucket %q does not exist", cfg.Bucket)
	}
	return &Store{client: client, bucket: cfg.Bucket, retry: retry}, nil
}

// Write uploads data under key.
func (s *Store) Write(ctx context.Context, key string, data []byte, opts storage.WriteOptions) error {
	return storage.WithRetry(ctx, s.retry, func() error {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: opts.ContentType})
		if err != nil {
			return fmt.Errorf("put object %s: %w", key, err)
		}
		return nil
	})
}

// Read returns the full object payload.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := storage.WithRetry(ctx, s.retry, func() error {
		obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return mapErr(key, err)
		}
		defer obj.Close()
		data, err = io.ReadAll(obj)
		if err != nil {
			return mapErr(key, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// ReadStream opens a reader over the object.
func (s *Store) ReadStream(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	// Stat first: GetObject is lazy and surfaces missing keys only on
	// first read, which is too late for callers deciding on headers.
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storage.ObjectInfo{}, mapErr(key, err)
	}
	return obj, info, nil
}

// Stat fetches object metadata.
func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	var info storage.ObjectInfo
	err := storage.WithRetry(ctx, s.retry, func() error {
		stat, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
		if err != nil {
			return mapErr(key, err)
		}
		info = storage.ObjectInfo{
			Key:          key,
			Size:         stat.Size,
			ETag:         stat.ETag,
			ContentType:  stat.ContentType,
			LastModified: stat.LastModified,
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

// DeleteMany removes keys in chunks of at most the backend batch limit,
// streaming each chunk through RemoveObjects and aggregating per-object
// failures without aborting later chunks.
func (s *Store) DeleteMany(ctx context.Context, keys []string) (storage.DeleteResult, error) {
	result := storage.DeleteInChunks(keys, storage.BatchDeleteLimit, func(chunk []string) (int, []storage.DeleteError) {
		objects := make(chan minio.ObjectInfo, len(chunk))
		for _, key := range chunk {
			objects <- minio.ObjectInfo{Key: key}
		}
		close(objects)

		failed := make(map[string]error, len(chunk))
		for rmErr := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
			if rmErr.Err != nil {
				failed[rmErr.ObjectName] = rmErr.Err
			}
		}
		deleted := 0
		var errs []storage.DeleteError
		for _, key := range chunk {
			if err, ok := failed[key]; ok {
				errs = append(errs, storage.DeleteError{Key: key, Err: err})
				continue
			}
			deleted++
		}
		return deleted, errs
	})
	return result, nil
}

// HealthCheck verifies bucket reachability.
func (s *Store) HealthCheck(ctx context.Context) error {
	if _, err := s.client.BucketExists(ctx, s.bucket); err != nil {
		return fmt.Errorf("s3 health check: %w", err)
	}
	return nil
}

func mapErr(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" {
		return fmt.Errorf("s3 object %s: %w", key, storage.ErrObjectNotFound)
	}
	return fmt.Errorf("s3 object %s: %w", key, err)
}
