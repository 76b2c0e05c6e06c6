// Package ingestion forwards validated mint transactions from the ledger
// stream to the mint pipeline.
package ingestion

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/logging"
	"xrpl-nft-archiver/internal/observability"
	"xrpl-nft-archiver/internal/pipeline"
	"xrpl-nft-archiver/internal/storage"
	"xrpl-nft-archiver/internal/xrpl"
)

// ErrStreamClosed is returned by Run when the stream ends before the context.
var ErrStreamClosed = errors.New("transaction stream closed")

// MintHandler runs one mint event. Implemented by retry.Coordinator.
type MintHandler interface {
	HandleMint(ctx context.Context, ev *domain.LedgerEvent) (*pipeline.Result, error)
}

// Runner subscribes to the stream and dispatches mints to a worker pool.
type Runner struct {
	stream    xrpl.StreamClient
	handler   MintHandler
	progress  storage.ProgressStore
	metrics   *observability.Metrics
	workers   int
	queueSize int
	logger    *zap.Logger

	received atomic.Int64
	handled  atomic.Int64
	failed   atomic.Int64
	lastSeen atomic.Int64
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Stream  xrpl.StreamClient
	Handler MintHandler
	// Progress is optional; when set the last handled ledger is saved.
	Progress storage.ProgressStore
	Metrics  *observability.Metrics
	// Workers defaults to 1.
	Workers int
	// QueueSize is the dispatch buffer between the stream and the workers.
	QueueSize int
	Logger    *zap.Logger
}

// RunnerStats is a snapshot of runner counters.
type RunnerStats struct {
	MintsReceived int64     `json:"mints_received"`
	MintsHandled  int64     `json:"mints_handled"`
	MintsFailed   int64     `json:"mints_failed"`
	LastEventAt   time.Time `json:"last_event_at,omitempty"`
}

// NewRunner creates a new ingestion runner.
func NewRunner(opts RunnerOptions) *Runner {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	queueSize := max(opts.QueueSize, 0)

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		stream:    opts.Stream,
		handler:   opts.Handler,
		progress:  opts.Progress,
		metrics:   opts.Metrics,
		workers:   workers,
		queueSize: queueSize,
		logger:    logger,
	}
}

// IsMint reports whether ev is a validated NFTokenMint transaction.
func IsMint(ev *domain.LedgerEvent) bool {
	return ev != nil && ev.Validated && ev.TransactionType == domain.TxTypeNFTokenMint
}

// Run subscribes and dispatches until ctx is cancelled or the stream closes.
// Queued events not yet picked up by a worker are dropped on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	if r.progress != nil {
		if p, err := r.progress.GetLastProcessed(ctx); err == nil {
			r.logger.Info("resuming after ledger", zap.Int64("ledger_index", p.LedgerIndex), zap.String("tx_hash", p.TxHash))
		} else if !errors.Is(err, storage.ErrNotFound) {
			r.logger.Warn("read ingest progress", zap.Error(err))
		}
	}

	events, err := r.stream.SubscribeTransactions(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("subscribed to transaction stream", zap.Int("workers", r.workers))

	jobs := make(chan *domain.LedgerEvent, r.queueSize)
	g, gctx := errgroup.WithContext(ctx)
	for range r.workers {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case ev, ok := <-jobs:
					if !ok {
						return nil
					}
					r.handle(gctx, ev)
				}
			}
		})
	}

	runErr := r.dispatch(ctx, events, jobs)
	close(jobs)
	if dropped := len(jobs); dropped > 0 && ctx.Err() != nil {
		r.logger.Warn("dropping queued mints on shutdown", zap.Int("count", dropped))
	}
	_ = g.Wait()

	r.logger.Info("runner stopped", zap.Int64("handled", r.handled.Load()), zap.Int64("failed", r.failed.Load()))
	return runErr
}

func (r *Runner) dispatch(ctx context.Context, events <-chan *domain.LedgerEvent, jobs chan<- *domain.LedgerEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				r.logger.Warn("transaction stream closed")
				return ErrStreamClosed
			}
			if !IsMint(ev) {
				continue
			}
			r.received.Add(1)
			r.lastSeen.Store(time.Now().UnixMilli())
			r.metrics.EventReceived("stream")

			select {
			case jobs <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (r *Runner) handle(ctx context.Context, ev *domain.LedgerEvent) {
	ctx = logging.WithLogger(ctx, r.logger.With(
		zap.String("tx_hash", ev.Hash),
		zap.Int64("ledger_index", ev.LedgerIndex),
	))

	res, err := r.handler.HandleMint(ctx, ev)
	r.handled.Add(1)
	if err != nil {
		r.failed.Add(1)
		logging.FromContext(ctx).Error("mint not recorded", zap.String("token_id", res.TokenID()), zap.Error(err))
		return
	}

	if r.progress == nil || ev.LedgerIndex == 0 {
		return
	}
	err = r.progress.SetLastProcessed(ctx, &storage.IngestProgress{LedgerIndex: ev.LedgerIndex, TxHash: ev.Hash})
	if err != nil {
		logging.FromContext(ctx).Warn("save ingest progress", zap.Error(err))
	}
}

// Stats returns current runner statistics.
func (r *Runner) Stats() RunnerStats {
	s := RunnerStats{
		MintsReceived: r.received.Load(),
		MintsHandled:  r.handled.Load(),
		MintsFailed:   r.failed.Load(),
	}
	if ms := r.lastSeen.Load(); ms > 0 {
		s.LastEventAt = time.UnixMilli(ms).UTC()
	}
	return s
}
