// Package analytics ships extraction outcomes to an event store without
// ever blocking the pipeline.
package analytics

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/observability"
	"xrpl-nft-archiver/internal/storage"
)

// Config configures an Emitter.
type Config struct {
	BufferSize    int           `yaml:"buffer_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultConfig returns the default emitter configuration.
func DefaultConfig() Config {
	return Config{
		BufferSize:    1024,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
	}
}

// Emitter buffers events and writes them in batches from one goroutine.
// A nil *Emitter drops everything.
type Emitter struct {
	store   storage.ExtractionEventStore
	config  Config
	logger  *zap.Logger
	metrics *observability.Metrics

	events chan *domain.ExtractionEvent
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewEmitter creates an Emitter and starts its writer.
func NewEmitter(store storage.ExtractionEventStore, config Config, logger *zap.Logger, metrics *observability.Metrics) *Emitter {
	defaults := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = defaults.BufferSize
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Emitter{
		store:   store,
		config:  config,
		logger:  logger,
		metrics: metrics,
		events:  make(chan *domain.ExtractionEvent, config.BufferSize),
		done:    make(chan struct{}),
	}
	go e.run()
	return e
}

// Emit queues ev. When the buffer is full or the emitter is closed the
// event is dropped and counted.
func (e *Emitter) Emit(ev *domain.ExtractionEvent) {
	if e == nil || ev == nil {
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.metrics.AnalyticsDrop()
		return
	}

	select {
	case e.events <- ev:
	default:
		e.metrics.AnalyticsDrop()
	}
}

// Close stops accepting events and flushes what is buffered.
func (e *Emitter) Close() {
	if e == nil {
		return
	}

	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
	e.mu.Unlock()

	<-e.done
}

func (e *Emitter) run() {
	defer close(e.done)

	ticker := time.NewTicker(e.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*domain.ExtractionEvent, 0, e.config.BatchSize)
	for {
		select {
		case ev, ok := <-e.events:
			if !ok {
				e.flush(batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= e.config.BatchSize {
				e.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				e.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

func (e *Emitter) flush(batch []*domain.ExtractionEvent) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := e.store.InsertBulk(ctx, batch); err != nil {
		e.logger.Warn("write extraction events failed",
			zap.Int("events", len(batch)),
			zap.Error(err),
		)
	}
}
