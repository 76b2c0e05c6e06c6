package memory

import (
	"context"
	"sort"
	"sync"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/storage"
)

// AssetIndex is an in-memory implementation of storage.AssetIndex.
type AssetIndex struct {
	mu   sync.RWMutex
	data map[string]*domain.AssetRecord // keyed by object key
}

// NewAssetIndex creates a new in-memory asset index.
func NewAssetIndex() *AssetIndex {
	return &AssetIndex{
		data: make(map[string]*domain.AssetRecord),
	}
}

var _ storage.AssetIndex = (*AssetIndex)(nil)

// Upsert inserts or replaces the record for rec.Key.
func (s *AssetIndex) Upsert(_ context.Context, rec *domain.AssetRecord) error {
	if rec == nil || rec.Key == "" || rec.TokenID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recCopy := *rec
	s.data[rec.Key] = &recCopy
	return nil
}

// GetByToken retrieves all records of a token, ordered by key ASC.
func (s *AssetIndex) GetByToken(_ context.Context, tokenID string) ([]*domain.AssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AssetRecord
	for _, r := range s.data {
		if r.TokenID == tokenID {
			recCopy := *r
			result = append(result, &recCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result, nil
}

// List retrieves a page of records of a category after afterTokenID.
func (s *AssetIndex) List(_ context.Context, category domain.Category, afterTokenID string, limit int) ([]*domain.AssetRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AssetRecord
	for _, r := range s.data {
		if r.Category == category && r.TokenID > afterTokenID {
			recCopy := *r
			result = append(result, &recCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TokenID != result[j].TokenID {
			return result[i].TokenID < result[j].TokenID
		}
		return result[i].Key < result[j].Key
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
