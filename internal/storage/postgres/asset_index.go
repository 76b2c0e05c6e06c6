package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/storage"
)

// AssetIndex implements storage.AssetIndex using PostgreSQL.
type AssetIndex struct {
	pool *Pool
}

// NewAssetIndex creates a new AssetIndex.
func NewAssetIndex(pool *Pool) *AssetIndex {
	return &AssetIndex{pool: pool}
}

// Compile-time interface check.
var _ storage.AssetIndex = (*AssetIndex)(nil)

const assetColumns = `object_key, token_id, category, variant, content_type, size_bytes, sha256, source, archived_at`

// Upsert inserts or replaces the record for rec.Key.
func (s *AssetIndex) Upsert(ctx context.Context, rec *domain.AssetRecord) error {
	if rec == nil || rec.Key == "" || rec.TokenID == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO archived_assets (` + assetColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (object_key) DO UPDATE SET
			token_id = EXCLUDED.token_id,
			category = EXCLUDED.category,
			variant = EXCLUDED.variant,
			content_type = EXCLUDED.content_type,
			size_bytes = EXCLUDED.size_bytes,
			sha256 = EXCLUDED.sha256,
			source = EXCLUDED.source,
			archived_at = EXCLUDED.archived_at
	`

	_, err := s.pool.Exec(ctx, query,
		rec.Key,
		rec.TokenID,
		string(rec.Category),
		rec.Variant,
		rec.ContentType,
		rec.Size,
		rec.SHA256,
		rec.Source,
		rec.ArchivedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert asset: %w", err)
	}
	return nil
}

// GetByToken retrieves all records of a token, ordered by key ASC.
func (s *AssetIndex) GetByToken(ctx context.Context, tokenID string) ([]*domain.AssetRecord, error) {
	query := `
		SELECT ` + assetColumns + `
		FROM archived_assets
		WHERE token_id = $1
		ORDER BY object_key ASC
	`

	rows, err := s.pool.Query(ctx, query, tokenID)
	if err != nil {
		return nil, fmt.Errorf("query assets by token: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

// List retrieves up to limit records of a category after afterTokenID.
func (s *AssetIndex) List(ctx context.Context, category domain.Category, afterTokenID string, limit int) ([]*domain.AssetRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT ` + assetColumns + `
		FROM archived_assets
		WHERE category = $1 AND token_id > $2
		ORDER BY token_id ASC, object_key ASC
		LIMIT $3
	`

	rows, err := s.pool.Query(ctx, query, string(category), afterTokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

func scanAssets(rows pgx.Rows) ([]*domain.AssetRecord, error) {
	var result []*domain.AssetRecord
	for rows.Next() {
		var r domain.AssetRecord
		var category string
		if err := rows.Scan(
			&r.Key,
			&r.TokenID,
			&category,
			&r.Variant,
			&r.ContentType,
			&r.Size,
			&r.SHA256,
			&r.Source,
			&r.ArchivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		r.Category = domain.Category(category)
		result = append(result, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return result, nil
}
