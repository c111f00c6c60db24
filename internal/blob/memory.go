package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// MemoryStore keeps blobs in a map. RemoveErr, when set, is returned by
// Remove without deleting anything.
type MemoryStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	UploadErr error
	RemoveErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Upload(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UploadErr != nil {
		return m.UploadErr
	}
	m.objects[key] = data
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.RemoveErr != nil {
		return m.RemoveErr
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return "", ErrNotFound
	}
	return fmt.Sprintf("memory://%s?expires=%d", key, time.Now().Add(ttl).Unix()), nil
}

func (m *MemoryStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// SetRemoveErr swaps the injected Remove failure.
func (m *MemoryStore) SetRemoveErr(err error) {
	m.mu.Lock()
	m.RemoveErr = err
	m.mu.Unlock()
}

// Has reports whether key is stored.
func (m *MemoryStore) Has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

// Len reports the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
