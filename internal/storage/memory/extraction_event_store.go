package memory

import (
	"context"
	"sort"
	"sync"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/storage"
)

// ExtractionEventStore is an in-memory implementation of storage.ExtractionEventStore.
type ExtractionEventStore struct {
	mu     sync.RWMutex
	events []*domain.ExtractionEvent
}

// NewExtractionEventStore creates a new in-memory extraction event store.
func NewExtractionEventStore() *ExtractionEventStore {
	return &ExtractionEventStore{}
}

var _ storage.ExtractionEventStore = (*ExtractionEventStore)(nil)

// InsertBulk appends events.
func (s *ExtractionEventStore) InsertBulk(_ context.Context, events []*domain.ExtractionEvent) error {
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range events {
		eventCopy := *e
		s.events = append(s.events, &eventCopy)
	}
	return nil
}

// GetByToken retrieves all events of a token, ordered by occurred_at ASC.
func (s *ExtractionEventStore) GetByToken(_ context.Context, tokenID string) ([]*domain.ExtractionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ExtractionEvent
	for _, e := range s.events {
		if e.TokenID == tokenID {
			eventCopy := *e
			result = append(result, &eventCopy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}

// Len returns the number of stored events.
func (s *ExtractionEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.events)
}
