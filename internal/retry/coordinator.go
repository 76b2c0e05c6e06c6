// Package retry records failed extractions in a failure store and replays
// them. Records move between the notfound, done and error partitions
// through domain.FailureRecord.Transition.
package retry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/identity"
	"xrpl-nft-archiver/internal/logging"
	"xrpl-nft-archiver/internal/observability"
	"xrpl-nft-archiver/internal/pipeline"
	"xrpl-nft-archiver/internal/storage"
)

// Runner runs one pipeline job.
type Runner interface {
	Run(ctx context.Context, job pipeline.Job) (*pipeline.Result, error)
}

// MetadataProber reports whether a token's metadata is archived.
type MetadataProber interface {
	HasMetadata(ctx context.Context, tokenID string) (bool, error)
}

// ErrAttemptsExhausted is returned by Replay for an error/ record that has
// already been attempted Config.MaxAttempts times. The record is left as is.
var ErrAttemptsExhausted = errors.New("replay attempts exhausted")

// Config configures the coordinator.
type Config struct {
	// ChunkSize bounds how many replays run concurrently.
	ChunkSize int `yaml:"chunk_size"`
	// MaxAttempts caps the attempts of an error/ record. Zero disables the cap.
	MaxAttempts int `yaml:"max_attempts"`
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{ChunkSize: 100, MaxAttempts: 5}
}

// Coordinator owns the failure store.
type Coordinator struct {
	store   storage.ObjectStore
	runner  Runner
	prober  MetadataProber
	config  Config
	metrics *observability.Metrics
	clock   func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetadataProber enables EnqueueMissing.
func WithMetadataProber(p MetadataProber) Option {
	return func(c *Coordinator) {
		c.prober = p
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock sets the record timestamp clock.
func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// NewCoordinator creates a Coordinator over the failure store.
func NewCoordinator(store storage.ObjectStore, runner Runner, config Config, opts ...Option) *Coordinator {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultConfig().ChunkSize
	}
	c := &Coordinator{
		store:  store,
		runner: runner,
		config: config,
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HandleMint runs a ledger event through the pipeline. Failures after a
// token id is known are recorded under notfound/; terminal identity
// outcomes are not. The returned error reports a record that could not be
// written.
func (c *Coordinator) HandleMint(ctx context.Context, ev *domain.LedgerEvent) (*pipeline.Result, error) {
	if ev == nil {
		return nil, storage.ErrInvalidInput
	}
	res, stack, runErr := c.run(ctx, pipeline.Job{Strategy: identity.FromEvent, Event: ev})
	if runErr == nil || identity.IsTerminal(runErr) {
		return res, nil
	}

	tokenID := res.TokenID()
	if tokenID == "" {
		tokenID = ev.NFTokenID
	}
	log := logging.FromContext(ctx).With(
		zap.String("token_id", tokenID),
		zap.String("pointer", res.Pointer()),
	)
	if tokenID == "" {
		log.Error("mint failed before token id was known", zap.String("tx_hash", ev.Hash), zap.Error(runErr))
		return res, runErr
	}

	// The record must land even when the caller is shutting down.
	ctx = context.WithoutCancel(ctx)

	key := Key(domain.OriginPipeline, domain.StatePending, tokenID)
	prev, err := c.load(ctx, key, domain.OriginPipeline, domain.StatePending, tokenID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return res, err
	}
	if prev == nil {
		prev = &domain.FailureRecord{Origin: domain.OriginPipeline, TokenID: tokenID}
	}

	next, err := prev.Transition(domain.StatePending, c.clock())
	if err != nil {
		return res, err
	}
	next.URI = res.Pointer()
	next.Error = runErr.Error()
	next.Stack = stack
	next.Payload = payloadOf(ev.Payload())

	if err := c.save(ctx, key, &next); err != nil {
		log.Error("write failure record failed", zap.Error(err), zap.NamedError("run_error", runErr))
		return res, err
	}
	log.Warn("mint failed, recorded for retry", zap.String("key", key), zap.Error(runErr))
	return res, nil
}

// Replay re-runs the record stored at a notfound/ or error/ key. The record
// moves to done/ on success and error/ otherwise; the target is written
// before the source is deleted. An error/ record at the attempt cap is
// neither run nor rewritten, so an overwrite notification cannot loop.
func (c *Coordinator) Replay(ctx context.Context, key string) (*domain.FailureRecord, error) {
	origin, state, tokenID, err := ParseKey(key)
	if err != nil {
		return nil, err
	}
	if state == domain.StateDone {
		return nil, fmt.Errorf("%w: %s is already done", ErrInvalidKey, key)
	}

	src, err := c.load(ctx, key, origin, state, tokenID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	if c.exhausted(src) {
		logging.FromContext(ctx).Info("replay skipped, attempts exhausted",
			zap.String("key", key),
			zap.Int("attempts", src.Attempts),
			zap.Int("max_attempts", c.config.MaxAttempts),
		)
		c.metrics.ReplayFinished(string(src.Origin), "exhausted")
		return src, fmt.Errorf("%w: %s after %d attempts", ErrAttemptsExhausted, key, src.Attempts)
	}

	job := pipeline.Job{Strategy: identity.FromLookup, TokenID: src.TokenID}
	var res *pipeline.Result
	var stack string
	var runErr error
	if len(src.Payload) > 0 {
		ev, decodeErr := domain.DecodeLedgerEvent(src.Payload)
		if decodeErr != nil {
			runErr = decodeErr
		} else {
			job = pipeline.Job{Strategy: identity.FromReplayPayload, Event: ev, TokenID: src.TokenID}
		}
	}
	if runErr == nil {
		res, stack, runErr = c.run(ctx, job)
	}

	return c.settle(ctx, src, key, res, stack, runErr)
}

// ReplayPublic resolves a token through the token lookup API and archives
// it. Results go to public/done/ or public/error/. A token already in
// public/done/ is never demoted.
func (c *Coordinator) ReplayPublic(ctx context.Context, tokenID string) (*domain.FailureRecord, error) {
	if tokenID == "" {
		return nil, storage.ErrInvalidInput
	}

	var src *domain.FailureRecord
	var srcKey string
	for _, state := range []domain.FailureState{domain.StateFailed, domain.StateDone} {
		key := Key(domain.OriginPublic, state, tokenID)
		rec, err := c.load(ctx, key, domain.OriginPublic, state, tokenID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", key, err)
		}
		src, srcKey = rec, key
		break
	}
	if src == nil {
		src = &domain.FailureRecord{Origin: domain.OriginPublic, TokenID: tokenID}
	}

	res, stack, runErr := c.run(ctx, pipeline.Job{Strategy: identity.FromLookup, TokenID: tokenID})
	return c.settle(ctx, src, srcKey, res, stack, runErr)
}

func (c *Coordinator) exhausted(rec *domain.FailureRecord) bool {
	return c.config.MaxAttempts > 0 &&
		rec.State == domain.StateFailed &&
		rec.Attempts >= c.config.MaxAttempts
}

// settle transitions src after a run and persists it. srcKey is deleted
// when it differs from the target key.
func (c *Coordinator) settle(ctx context.Context, src *domain.FailureRecord, srcKey string, res *pipeline.Result, stack string, runErr error) (*domain.FailureRecord, error) {
	log := logging.FromContext(ctx).With(
		zap.String("token_id", src.TokenID),
		zap.String("origin", string(src.Origin)),
	)
	ctx = context.WithoutCancel(ctx)

	target := domain.StateDone
	if runErr != nil {
		target = domain.StateFailed
	}

	next, err := src.Transition(target, c.clock())
	if err != nil {
		log.Warn("replay result not recorded", zap.Error(err), zap.NamedError("run_error", runErr))
		return src, err
	}
	if p := res.Pointer(); p != "" {
		next.URI = p
	}
	if runErr != nil {
		next.Error = runErr.Error()
		next.Stack = stack
	}

	key := Key(src.Origin, target, src.TokenID)
	if err := c.save(ctx, key, &next); err != nil {
		return src, err
	}
	if srcKey != "" && srcKey != key {
		if err := c.store.Delete(ctx, srcKey); err != nil {
			return &next, fmt.Errorf("delete %s: %w", srcKey, err)
		}
	}

	c.metrics.ReplayFinished(string(src.Origin), string(target))
	if runErr != nil {
		log.Warn("replay failed", zap.String("key", key), zap.String("pointer", next.URI), zap.Error(runErr))
	} else {
		log.Info("replay succeeded", zap.String("key", key), zap.String("pointer", next.URI))
	}
	return &next, nil
}

// run executes a job, converting panics to errors. The stack is captured
// for every failure.
func (c *Coordinator) run(ctx context.Context, job pipeline.Job) (res *pipeline.Result, stack string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			stack = string(debug.Stack())
		}
		if res == nil {
			res = &pipeline.Result{}
		}
	}()

	res, err = c.runner.Run(ctx, job)
	if err != nil {
		stack = string(debug.Stack())
	}
	return res, stack, err
}

// load reads and decodes the record at key. Bodies that are not records
// are legacy bare payloads.
func (c *Coordinator) load(ctx context.Context, key string, origin domain.ReplayOrigin, state domain.FailureState, tokenID string) (*domain.FailureRecord, error) {
	body, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	var rec domain.FailureRecord
	if err := json.Unmarshal(body, &rec); err != nil || !rec.State.Valid() {
		rec = domain.FailureRecord{Payload: payloadOf(body)}
	}
	rec.State = state
	if rec.Origin == "" {
		rec.Origin = origin
	}
	if rec.TokenID == "" {
		rec.TokenID = tokenID
	}
	return &rec, nil
}

func (c *Coordinator) save(ctx context.Context, key string, rec *domain.FailureRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := c.store.Put(ctx, key, body, "application/json"); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	c.metrics.FailureRecorded(Prefix(rec.Origin, rec.State))
	return nil
}

// payloadOf returns body as a JSON value, quoting it when it is not JSON.
func payloadOf(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return append(json.RawMessage(nil), body...)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
