package storage

import (
	"context"
	"errors"
	"io"
)

var ErrNotFound = errors.New("object not found")

// Storage is the object store published stats snapshots are written to.
type Storage interface {
	// Put stores the object at key, replacing any previous version.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Get returns the object at key or ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// GetURL returns the public URL for key.
	GetURL(key string) string
}

// Config holds S3 / MinIO connection settings and the local fallback.
type Config struct {
	S3Endpoint  string
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string

	LocalDir     string
	LocalBaseURL string
}

// Open returns S3 storage when credentials are set, else local storage.
func Open(ctx context.Context, cfg Config) (Storage, error) {
	if cfg.S3AccessKey != "" && cfg.S3SecretKey != "" {
		return NewS3Storage(ctx, cfg)
	}
	return NewLocalStorage(cfg.LocalDir, cfg.LocalBaseURL)
}
