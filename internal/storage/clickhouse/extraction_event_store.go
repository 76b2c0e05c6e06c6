package clickhouse

import (
	"context"
	"fmt"
	"time"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/storage"
)

// ExtractionEventStore implements storage.ExtractionEventStore using ClickHouse.
type ExtractionEventStore struct {
	conn *Conn
}

// NewExtractionEventStore creates a new ExtractionEventStore.
func NewExtractionEventStore(conn *Conn) *ExtractionEventStore {
	return &ExtractionEventStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ExtractionEventStore = (*ExtractionEventStore)(nil)

// InsertBulk appends events in a single batch. Rows sharing an event id
// collapse on merge.
func (s *ExtractionEventStore) InsertBulk(ctx context.Context, events []*domain.ExtractionEvent) error {
	if len(events) == 0 {
		return nil
	}
	for _, e := range events {
		if e == nil || e.EventID == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO extraction_events (
			event_id, token_id, pointer, strategy, outcome, content_type,
			artifacts, secondary_errors, error, duration_ms, occurred_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, e := range events {
		err = batch.Append(
			e.EventID, e.TokenID, e.Pointer, e.Strategy, string(e.Outcome), e.ContentType,
			uint32(e.Artifacts), uint32(e.SecondaryErrors), e.Error, e.DurationMs,
			e.OccurredAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByToken retrieves all events of a token, ordered by occurred_at ASC.
func (s *ExtractionEventStore) GetByToken(ctx context.Context, tokenID string) ([]*domain.ExtractionEvent, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT event_id, token_id, pointer, strategy, outcome, content_type,
			artifacts, secondary_errors, error, duration_ms, occurred_at
		FROM extraction_events FINAL
		WHERE token_id = ?
		ORDER BY occurred_at ASC, event_id ASC
	`, tokenID)
	if err != nil {
		return nil, fmt.Errorf("query extraction events: %w", err)
	}
	defer rows.Close()

	var result []*domain.ExtractionEvent
	for rows.Next() {
		var (
			e               domain.ExtractionEvent
			outcome         string
			artifacts       uint32
			secondaryErrors uint32
			occurredAt      time.Time
		)
		if err := rows.Scan(
			&e.EventID, &e.TokenID, &e.Pointer, &e.Strategy, &outcome, &e.ContentType,
			&artifacts, &secondaryErrors, &e.Error, &e.DurationMs, &occurredAt,
		); err != nil {
			return nil, fmt.Errorf("scan extraction event: %w", err)
		}
		e.Outcome = domain.ExtractionOutcome(outcome)
		e.Artifacts = int(artifacts)
		e.SecondaryErrors = int(secondaryErrors)
		e.OccurredAt = occurredAt.UTC()
		result = append(result, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate extraction events: %w", err)
	}
	return result, nil
}
