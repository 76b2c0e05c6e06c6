package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-nft-archiver/internal/storage"
)

func TestProgressStore_GetLastProcessed_NotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewProgressStore(pool)

	_, err := store.GetLastProcessed(context.Background())
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestProgressStore_SetLastProcessed_Monotonic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewProgressStore(pool)
	ctx := context.Background()

	require.NoError(t, store.SetLastProcessed(ctx, &storage.IngestProgress{LedgerIndex: 100, TxHash: "AA"}))
	require.NoError(t, store.SetLastProcessed(ctx, &storage.IngestProgress{LedgerIndex: 120, TxHash: "BB"}))
	require.NoError(t, store.SetLastProcessed(ctx, &storage.IngestProgress{LedgerIndex: 110, TxHash: "CC"}))

	got, err := store.GetLastProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(120), got.LedgerIndex)
	assert.Equal(t, "BB", got.TxHash)

	assert.ErrorIs(t, store.SetLastProcessed(ctx, nil), storage.ErrInvalidInput)
}
