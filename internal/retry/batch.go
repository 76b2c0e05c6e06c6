package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/logging"
)

// BatchResult counts the outcomes of a batch replay.
type BatchResult struct {
	Total  int
	Done   int
	Failed int
	// Skipped counts error/ records at the attempt cap.
	Skipped int
	// Errors counts replays that could not be recorded at all.
	Errors int
}

// ReplayBatch replays keys in chunks of Config.ChunkSize: replays within a
// chunk run concurrently, chunks run one after another. Duplicate keys are
// replayed once. One bad key never stops the batch.
func (c *Coordinator) ReplayBatch(ctx context.Context, keys []string) (BatchResult, error) {
	keys = dedupe(keys)
	result := BatchResult{Total: len(keys)}
	log := logging.FromContext(ctx)

	var mu sync.Mutex
	for start := 0; start < len(keys); start += c.config.ChunkSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(start+c.config.ChunkSize, len(keys))

		var g errgroup.Group
		for _, key := range keys[start:end] {
			g.Go(func() error {
				rec, err := c.Replay(ctx, key)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case errors.Is(err, ErrAttemptsExhausted):
					result.Skipped++
				case err != nil:
					result.Errors++
					log.Error("replay not recorded", zap.String("key", key), zap.Error(err))
				case rec.State == domain.StateDone:
					result.Done++
				default:
					result.Failed++
				}
				return nil
			})
		}
		_ = g.Wait()

		log.Info("replay chunk finished",
			zap.Int("from", start),
			zap.Int("to", end),
			zap.Int("total", len(keys)),
		)
	}
	return result, nil
}

// ReplayPartition replays every record of a pipeline partition.
func (c *Coordinator) ReplayPartition(ctx context.Context, state domain.FailureState) (BatchResult, error) {
	if state != domain.StatePending && state != domain.StateFailed {
		return BatchResult{}, fmt.Errorf("%w: partition %q is not replayable", ErrInvalidKey, state)
	}
	keys, err := c.store.List(ctx, Prefix(domain.OriginPipeline, state))
	if err != nil {
		return BatchResult{}, fmt.Errorf("list %s: %w", state, err)
	}
	return c.ReplayBatch(ctx, keys)
}

// ReplayPending replays every notfound/ record.
func (c *Coordinator) ReplayPending(ctx context.Context) (BatchResult, error) {
	return c.ReplayPartition(ctx, domain.StatePending)
}

// Purge deletes every record of a partition and returns how many were
// removed.
func (c *Coordinator) Purge(ctx context.Context, origin domain.ReplayOrigin, state domain.FailureState) (int, error) {
	if !state.Valid() {
		return 0, fmt.Errorf("%w: partition %q", ErrInvalidKey, state)
	}
	prefix := Prefix(origin, state)
	keys, err := c.store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", prefix, err)
	}

	deleted := 0
	for _, key := range keys {
		// Objects that are not records are left alone.
		if _, _, _, err := ParseKey(key); err != nil {
			continue
		}
		if err := c.store.Delete(ctx, key); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", key, err)
		}
		deleted++
	}
	logging.FromContext(ctx).Info("partition purged", zap.String("prefix", prefix), zap.Int("records", deleted))
	return deleted, nil
}

// TrackedToken is one entry of a tracked-token list.
type TrackedToken struct {
	TokenID string `json:"nft_token_id"`
	URI     string `json:"uri"`
	Issuer  string `json:"issuer"`
}

// LoadTrackedTokens decodes a JSON array of tracked tokens.
func LoadTrackedTokens(r io.Reader) ([]TrackedToken, error) {
	var tokens []TrackedToken
	if err := json.NewDecoder(r).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decode tracked tokens: %w", err)
	}
	return tokens, nil
}

// EnqueueResult counts the outcomes of EnqueueMissing.
type EnqueueResult struct {
	Checked  int
	Archived int
	Pending  int
	Enqueued int
	Errors   int
}

// EnqueueMissing probes the archive for each token's metadata and writes a
// notfound/ record for every token lacking it, unless one is pending.
func (c *Coordinator) EnqueueMissing(ctx context.Context, tokens []TrackedToken) (EnqueueResult, error) {
	if c.prober == nil {
		return EnqueueResult{}, fmt.Errorf("metadata prober not configured")
	}
	log := logging.FromContext(ctx)

	var result EnqueueResult
	var mu sync.Mutex
	count := func(f func(*EnqueueResult)) {
		mu.Lock()
		defer mu.Unlock()
		f(&result)
	}

	for start := 0; start < len(tokens); start += c.config.ChunkSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(start+c.config.ChunkSize, len(tokens))

		var g errgroup.Group
		for _, tok := range tokens[start:end] {
			g.Go(func() error {
				outcome, err := c.enqueueOne(ctx, tok)
				if err != nil {
					log.Warn("metadata check failed", zap.String("token_id", tok.TokenID), zap.Error(err))
				}
				count(func(r *EnqueueResult) {
					r.Checked++
					switch {
					case err != nil:
						r.Errors++
					case outcome == enqueueArchived:
						r.Archived++
					case outcome == enqueuePending:
						r.Pending++
					default:
						r.Enqueued++
					}
				})
				return nil
			})
		}
		_ = g.Wait()
	}
	return result, nil
}

type enqueueOutcome int

const (
	enqueueArchived enqueueOutcome = iota
	enqueuePending
	enqueueWritten
)

func (c *Coordinator) enqueueOne(ctx context.Context, tok TrackedToken) (enqueueOutcome, error) {
	if tok.TokenID == "" {
		return 0, fmt.Errorf("tracked token without id")
	}
	ok, err := c.prober.HasMetadata(ctx, tok.TokenID)
	if err != nil {
		return 0, err
	}
	if ok {
		return enqueueArchived, nil
	}

	key := Key(domain.OriginPipeline, domain.StatePending, tok.TokenID)
	exists, err := c.store.Exists(ctx, key)
	if err != nil {
		return 0, err
	}
	if exists {
		return enqueuePending, nil
	}

	payload, err := json.Marshal(domain.LedgerEvent{
		NFTokenID: tok.TokenID,
		URI:       tok.URI,
		Issuer:    tok.Issuer,
	})
	if err != nil {
		return 0, err
	}
	rec, err := domain.FailureRecord{Origin: domain.OriginPipeline, TokenID: tok.TokenID}.
		Transition(domain.StatePending, c.clock())
	if err != nil {
		return 0, err
	}
	rec.Error = "metadata missing from archive"
	rec.Payload = payload
	if err := c.save(ctx, key, &rec); err != nil {
		return 0, err
	}
	return enqueueWritten, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
