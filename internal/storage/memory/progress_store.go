package memory

import (
	"context"
	"sync"

	"xrpl-nft-archiver/internal/storage"
)

// ProgressStore is an in-memory implementation of storage.ProgressStore.
type ProgressStore struct {
	mu       sync.RWMutex
	progress *storage.IngestProgress
}

// NewProgressStore creates a new in-memory progress store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{}
}

var _ storage.ProgressStore = (*ProgressStore)(nil)

// GetLastProcessed returns the last processed position.
func (s *ProgressStore) GetLastProcessed(_ context.Context) (*storage.IngestProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.progress == nil {
		return nil, storage.ErrNotFound
	}

	p := *s.progress
	return &p, nil
}

// SetLastProcessed saves the position unless a newer one is stored.
func (s *ProgressStore) SetLastProcessed(_ context.Context, progress *storage.IngestProgress) error {
	if progress == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.progress != nil && s.progress.LedgerIndex > progress.LedgerIndex {
		return nil
	}
	p := *progress
	s.progress = &p
	return nil
}
