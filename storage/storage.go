// Package storage is the object store used to publish and serve track
// artifacts. Backends: MinIO, S3-compatible services and the local filesystem.
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"TrackHub/config"
	"TrackHub/errs"
)

// ErrObjectNotFound is returned by Stat and GetRange for missing keys.
var ErrObjectNotFound = fmt.Errorf("%w: object does not exist", errs.ErrNotFound)

// ObjectInfo 文件信息
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

// Store defines the object storage operations the pipeline depends on.
// Keys are slash separated and relative to the bucket.
type Store interface {
	// Put uploads an object, overwriting any object at the same key.
	Put(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string) error

	// Stat returns metadata for key or ErrObjectNotFound.
	Stat(ctx context.Context, bucket, key string) (ObjectInfo, error)

	// GetRange opens length bytes starting at offset. A negative length reads
	// to the end of the object. The caller closes the reader.
	GetRange(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error)

	// List returns every object whose key starts with prefix.
	List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)

	// Delete removes the given keys. Missing keys are not an error.
	Delete(ctx context.Context, bucket string, keys ...string) error

	// EnsureBucket creates bucket when it does not exist yet.
	EnsureBucket(ctx context.Context, bucket string) error

	// Type returns the backend identifier.
	Type() string
}

// New creates the store selected by cfg.StorageType.
func New(cfg *config.Config) (Store, error) {
	switch strings.ToLower(cfg.StorageType) {
	case "", "minio":
		return NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioRegion, cfg.MinioUseSSL)
	case "s3":
		return NewS3Store(context.Background(), S3Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PathStyle: cfg.S3PathStyle,
		})
	case "local":
		return NewLocalStore(cfg.LocalStorageDir)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}

// CleanKey validates a caller supplied object key. Absolute keys and keys
// that escape the bucket with ".." are rejected.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errs.Invalid("object key is empty")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return "", errs.Invalid("object key %q must be relative", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", errs.Invalid("object key %q must not contain '..'", key)
		}
	}
	cleaned := path.Clean(key)
	if cleaned == "." {
		return "", errs.Invalid("object key %q is empty", key)
	}
	return cleaned, nil
}
