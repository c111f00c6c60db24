package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"maaspace/internal/config"
)

// GCSStore keeps blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore uses the configured credentials file, or application default
// credentials when none is set.
func NewGCSStore(ctx context.Context, cfg config.StorageConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage.bucket required for gcs backend")
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket}, nil
}

func (s *GCSStore) Upload(ctx context.Context, key string, r io.Reader, _ int64, contentType string) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("write gcs object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close gcs writer %q: %w", key, err)
	}
	return nil
}

func (s *GCSStore) Remove(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gcs object %q: %w", key, err)
	}
	return nil
}

func (s *GCSStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign gcs url %q: %w", key, err)
	}
	return url, nil
}

func (s *GCSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open gcs object %q: %w", key, err)
	}
	return r, nil
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
