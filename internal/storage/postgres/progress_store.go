package postgres

import (
	"context"
	"fmt"

	"xrpl-nft-archiver/internal/storage"
)

// ProgressStore implements storage.ProgressStore using PostgreSQL.
type ProgressStore struct {
	pool *Pool
}

// NewProgressStore creates a new ProgressStore.
func NewProgressStore(pool *Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ProgressStore = (*ProgressStore)(nil)

// GetLastProcessed returns the last processed position.
func (s *ProgressStore) GetLastProcessed(ctx context.Context) (*storage.IngestProgress, error) {
	query := `SELECT ledger_index, tx_hash FROM ingest_progress WHERE id = 1`

	var p storage.IngestProgress
	if err := s.pool.QueryRow(ctx, query).Scan(&p.LedgerIndex, &p.TxHash); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get ingest progress: %w", err)
	}
	return &p, nil
}

// SetLastProcessed saves the position unless a newer one is stored.
func (s *ProgressStore) SetLastProcessed(ctx context.Context, progress *storage.IngestProgress) error {
	if progress == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO ingest_progress (id, ledger_index, tx_hash, updated_at)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id) DO UPDATE SET
			ledger_index = EXCLUDED.ledger_index,
			tx_hash = EXCLUDED.tx_hash,
			updated_at = EXCLUDED.updated_at
		WHERE ingest_progress.ledger_index <= EXCLUDED.ledger_index
	`

	if _, err := s.pool.Exec(ctx, query, progress.LedgerIndex, progress.TxHash); err != nil {
		return fmt.Errorf("set ingest progress: %w", err)
	}
	return nil
}
