// Package storage defines the interface for object storage operations.
// Swap implementations by changing the concrete type injected at startup:
// MinioStorage works with any S3-compatible provider, S3Storage talks to AWS
// through the official SDK.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/photojournal/service/internal/config"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage is the interface for uploading, signing, and removing objects.
type Storage interface {
	// Upload streams data to the store under the given key.
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	// Delete removes an object identified by key. Removing a missing object succeeds.
	Delete(ctx context.Context, key string) error
	// PresignPut returns a URL authorizing one PUT to key with exactly the given
	// Content-Type and Content-Length, valid for expiry.
	PresignPut(ctx context.Context, key, contentType string, size int64, expiry time.Duration) (string, error)
	// PresignGet returns a URL authorizing GETs of key until expiry.
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	// List returns all objects whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	// PublicURL constructs the unsigned browser-accessible URL for a given key.
	PublicURL(key string) string
}

// New builds the backend selected by cfg.Driver.
func New(ctx context.Context, cfg config.Storage) (Storage, error) {
	switch cfg.Driver {
	case config.DriverMinio:
		return NewMinioStorage(ctx, cfg)
	case config.DriverS3:
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func publicURL(base, key string) string {
	return base + "/" + key
}
