package storage

import (
	"context"

	"xrpl-nft-archiver/internal/domain"
)

// ObjectStore is a flat key/value object store (archive and failure buckets).
// Keys are case-sensitive and forward-slash separated.
type ObjectStore interface {
	// Put writes body under key, replacing any existing object.
	Put(ctx context.Context, key string, body []byte, contentType string) error

	// Get reads the object under key. Returns ErrNotFound if not exists.
	Get(ctx context.Context, key string) ([]byte, error)

	// Exists reports whether an object exists under key.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes the object under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
}

// AssetIndex records which archive objects exist per token.
type AssetIndex interface {
	// Upsert inserts or replaces the record for rec.Key.
	Upsert(ctx context.Context, rec *domain.AssetRecord) error

	// GetByToken retrieves all records of a token, ordered by key ASC.
	GetByToken(ctx context.Context, tokenID string) ([]*domain.AssetRecord, error)

	// List retrieves up to limit records of a category with token id greater
	// than afterTokenID, ordered by (token_id, key) ASC.
	List(ctx context.Context, category domain.Category, afterTokenID string, limit int) ([]*domain.AssetRecord, error)
}

// ExtractionEventStore is an append-only sink for pipeline run outcomes.
type ExtractionEventStore interface {
	// InsertBulk appends events.
	InsertBulk(ctx context.Context, events []*domain.ExtractionEvent) error

	// GetByToken retrieves all events of a token, ordered by occurred_at ASC.
	GetByToken(ctx context.Context, tokenID string) ([]*domain.ExtractionEvent, error)
}
