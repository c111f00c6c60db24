package blob

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"maaspace/internal/config"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestNewKeyFormat(t *testing.T) {
	now := time.UnixMilli(1718000000123)
	key := NewKey(BucketVault, "user-1", ".JPG", now)
	re := regexp.MustCompile(`^private-vault/user-1/1718000000123-[0-9a-f-]{36}\.jpg$`)
	assert.Regexp(t, re, key)
	assert.NotEqual(t, key, NewKey(BucketVault, "user-1", "jpg", now))
	assert.True(t, strings.HasSuffix(NewKey(BucketDocuments, "u", "", now), ".bin"))
}

func TestPolicyValidate(t *testing.T) {
	ext, err := VaultPhoto.Validate("image/png", 1024, pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "png", ext)

	_, err = VaultPhoto.Validate("image/png", 11*mb, pngHeader)
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = ProfilePhoto.Validate("image/png", 6*mb, pngHeader)
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = VaultPhoto.Validate("application/pdf", 10, []byte("%PDF-1.4"))
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = VaultPhoto.Validate("image/jpeg", 10, pngHeader)
	assert.ErrorIs(t, err, ErrInvalidFile, "declared jpeg but content is png")

	ext, err = Document.Validate("application/pdf", 2048, []byte("%PDF-1.4"))
	require.NoError(t, err)
	assert.Equal(t, "pdf", ext)

	ext, err = Document.Validate("application/vnd.openxmlformats-officedocument.wordprocessingml.document", 100, nil)
	require.NoError(t, err)
	assert.Equal(t, "docx", ext)

	_, err = Document.Validate("image/gif", 100, nil)
	assert.ErrorIs(t, err, ErrInvalidFile)

	_, err = Document.Validate("application/pdf", 0, nil)
	assert.ErrorIs(t, err, ErrInvalidFile)

	ext, err = VaultPhoto.Validate("image/jpg; charset=binary", 10, nil)
	require.NoError(t, err)
	assert.Equal(t, "jpg", ext)
}

func TestLocalStoreRoundTripAndSignature(t *testing.T) {
	ctx := context.Background()
	store, err := NewLocalStore(t.TempDir(), "secret", "http://localhost:8090")
	require.NoError(t, err)

	key := NewKey(BucketDocuments, "u1", "pdf", time.Now())
	require.NoError(t, store.Upload(ctx, key, bytes.NewReader([]byte("hello")), 5, "application/pdf"))

	rc, err := store.Open(ctx, key)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "hello", string(data))

	signed, err := store.SignedURL(ctx, key, time.Hour)
	require.NoError(t, err)
	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, LocalRoute+key, u.Path)
	q := u.Query()
	require.NoError(t, store.Verify(key, q.Get("expires"), q.Get("sig")))
	assert.ErrorIs(t, store.Verify("other/key", q.Get("expires"), q.Get("sig")), ErrInvalidSignature)

	store.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.ErrorIs(t, store.Verify(key, q.Get("expires"), q.Get("sig")), ErrInvalidSignature)

	require.NoError(t, store.Remove(ctx, key))
	require.NoError(t, store.Remove(ctx, key), "removing twice is fine")
	_, err = store.Open(ctx, key)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "", "")
	require.NoError(t, err)
	_, err = store.Open(context.Background(), "../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
	err = store.Upload(context.Background(), "a/../../b", strings.NewReader("x"), 1, "text/plain")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.Upload(ctx, "k", strings.NewReader("v"), 1, "text/plain"))
	assert.True(t, m.Has("k"))
	_, err := m.SignedURL(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = m.SignedURL(ctx, "missing", time.Minute)
	assert.ErrorIs(t, err, ErrNotFound)

	m.SetRemoveErr(io.ErrClosedPipe)
	assert.ErrorIs(t, m.Remove(ctx, "k"), io.ErrClosedPipe)
	assert.Equal(t, 1, m.Len())
	m.SetRemoveErr(nil)
	require.NoError(t, m.Remove(ctx, "k"))
	assert.Equal(t, 0, m.Len())
}

func TestNewSelectsBackend(t *testing.T) {
	s, err := New(context.Background(), config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = New(context.Background(), config.StorageConfig{Backend: "local", LocalDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, s)

	_, err = New(context.Background(), config.StorageConfig{Backend: "s3"})
	assert.Error(t, err, "bucket is required")

	_, err = New(context.Background(), config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
}
