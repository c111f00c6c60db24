package blob

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// LocalRoute is where the API serves signed local downloads.
const LocalRoute = "/api/blobs/"

var ErrInvalidSignature = errors.New("invalid or expired signature")

// LocalStore keeps blobs on disk and signs download links with HMAC-SHA256.
type LocalStore struct {
	dir       string
	key       []byte
	publicURL string
	now       func() time.Time
}

// NewLocalStore roots the store at dir. An empty signingKey gets a random
// key, so links do not survive a restart.
func NewLocalStore(dir, signingKey, publicURL string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("storage.local_dir required for local backend")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	key := []byte(signingKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
	}
	return &LocalStore{
		dir:       dir,
		key:       key,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}, nil
}

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("%w: bad key %q", ErrNotFound, key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return "", fmt.Errorf("%w: bad key %q", ErrNotFound, key)
		}
	}
	return filepath.Join(s.dir, filepath.FromSlash(key)), nil
}

func (s *LocalStore) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create blob dir: %w", err)
	}
	tmp := p + ".part"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create blob %q: %w", key, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write blob %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close blob %q: %w", key, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("commit blob %q: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Remove(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove blob %q: %w", key, err)
	}
	return nil
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open blob %q: %w", key, err)
	}
	return f, nil
}

// SignedURL returns "<public>/api/blobs/<key>?expires=<unix>&sig=<hex>".
func (s *LocalStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := s.path(key); err != nil {
		return "", err
	}
	expires := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	q := url.Values{}
	q.Set("expires", expires)
	q.Set("sig", s.sign(key, expires))
	return s.publicURL + LocalRoute + key + "?" + q.Encode(), nil
}

// Verify checks a signature produced by SignedURL.
func (s *LocalStore) Verify(key, expires, sig string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	if s.now().Unix() > exp {
		return ErrInvalidSignature
	}
	want := s.sign(key, expires)
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrInvalidSignature
	}
	return nil
}

func (s *LocalStore) sign(key, expires string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(key))
	mac.Write([]byte{'\n'})
	mac.Write([]byte(expires))
	return hex.EncodeToString(mac.Sum(nil))
}
