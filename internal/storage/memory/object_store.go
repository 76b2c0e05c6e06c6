package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"xrpl-nft-archiver/internal/storage"
)

// ObjectStore is an in-memory implementation of storage.ObjectStore.
type ObjectStore struct {
	mu           sync.RWMutex
	data         map[string][]byte
	contentTypes map[string]string
}

// NewObjectStore creates a new in-memory object store.
func NewObjectStore() *ObjectStore {
	return &ObjectStore{
		data:         make(map[string][]byte),
		contentTypes: make(map[string]string),
	}
}

var _ storage.ObjectStore = (*ObjectStore)(nil)

// Put writes body under key.
func (s *ObjectStore) Put(_ context.Context, key string, body []byte, contentType string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to prevent external mutation
	s.data[key] = append([]byte(nil), body...)
	s.contentTypes[key] = contentType
	return nil
}

// Get reads the object under key. Returns ErrNotFound if not exists.
func (s *ObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	body, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), body...), nil
}

// Exists reports whether key exists.
func (s *ObjectStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.data[key]
	return ok, nil
}

// Delete removes key.
func (s *ObjectStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	delete(s.contentTypes, key)
	return nil
}

// List returns keys with prefix in lexical order.
func (s *ObjectStore) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// ContentType returns the content type recorded for key.
func (s *ObjectStore) ContentType(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.contentTypes[key]
}

// Len returns the number of stored objects.
func (s *ObjectStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.data)
}
