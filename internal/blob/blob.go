// Package blob stores user uploads in object storage.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"maaspace/internal/config"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidFile = errors.New("invalid file")
)

// Logical buckets used as the first key segment.
const (
	BucketVault     = "private-vault"
	BucketDocuments = "documents"
	BucketProfile   = "profile-photos"
)

// Store is the object storage used for photos and documents.
type Store interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Remove(ctx context.Context, key string) error
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// NewKey builds "<bucket>/<userID>/<unix-millis>-<uuid>.<ext>".
func NewKey(bucket, userID, ext string, now time.Time) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%s/%d-%s.%s", bucket, userID, now.UnixMilli(), uuid.NewString(), ext)
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "s3", "minio":
		return NewS3Store(ctx, cfg)
	case "gcs":
		return NewGCSStore(ctx, cfg)
	case "local", "":
		return NewLocalStore(cfg.LocalDir, cfg.SigningKey, cfg.PublicURL)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}
