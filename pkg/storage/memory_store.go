package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps objects in-process. It backs local development and
// tests and honours the same no-overwrite contract as the remote stores.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

// NewMemoryStore returns an empty store whose URLs are rooted at baseURL.
func NewMemoryStore(baseURL string) *MemoryStore {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		baseURL = "http://localhost/objects"
	}
	return &MemoryStore{baseURL: baseURL, objects: make(map[string]memoryObject)}
}

// Put implements ObjectStore.
func (m *MemoryStore) Put(_ context.Context, key string, r io.Reader, _ int64, contentType string, noOverwrite bool) (Object, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Object{}, fmt.Errorf("read object body: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.objects[key]; exists && noOverwrite {
		return Object{}, fmt.Errorf("%w: %s", ErrObjectExists, key)
	}
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	return Object{Key: key, URL: objectURL(m.baseURL, key)}, nil
}

// PresignGet implements ObjectStore. The URL carries the expiry as a query
// parameter but is not actually signed.
func (m *MemoryStore) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("presign get: no object %s", key)
	}
	return fmt.Sprintf("%s?expires=%d", objectURL(m.baseURL, key), int64(expiry.Seconds())), nil
}

// Delete implements ObjectStore. Deleting a missing key is not an error.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Get returns a copy of the stored bytes.
func (m *MemoryStore) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Len reports how many objects are stored.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
