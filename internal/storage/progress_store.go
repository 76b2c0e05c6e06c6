package storage

import "context"

// IngestProgress is the last ledger position handled by the live runner.
type IngestProgress struct {
	LedgerIndex int64
	TxHash      string
}

// ProgressStore persists ingestion progress so a restart can report (and an
// operator can replay) the gap since the last processed ledger.
type ProgressStore interface {
	// GetLastProcessed returns the last processed position.
	// Returns ErrNotFound if no progress has been saved yet.
	GetLastProcessed(ctx context.Context) (*IngestProgress, error)

	// SetLastProcessed saves the position. Older ledger indexes never
	// overwrite newer ones.
	SetLastProcessed(ctx context.Context, progress *IngestProgress) error
}
