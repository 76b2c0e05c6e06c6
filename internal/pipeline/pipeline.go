// Package pipeline runs one extraction: resolve identity, then extract and
// archive, under a resolution strategy.
package pipeline

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/extract"
	"xrpl-nft-archiver/internal/identity"
	"xrpl-nft-archiver/internal/logging"
	"xrpl-nft-archiver/internal/observability"
)

// Resolver derives identities.
type Resolver interface {
	Resolve(ctx context.Context, strategy identity.Strategy, src identity.Source) (*identity.Identity, error)
}

// Extractor archives the content behind a pointer.
type Extractor interface {
	Extract(ctx context.Context, tokenID, pointer string) (*extract.Report, error)
}

// Emitter receives one event per run.
type Emitter interface {
	Emit(ev *domain.ExtractionEvent)
}

// Job is the input of one run.
type Job struct {
	Strategy identity.Strategy
	Event    *domain.LedgerEvent
	// TokenID is required for identity.FromLookup and used as a fallback
	// for identity.FromReplayPayload.
	TokenID string
}

// Result is the outcome of one run. Identity is set whenever resolution
// got far enough to know the token id.
type Result struct {
	RunID    string
	Identity *identity.Identity
	Report   *extract.Report
	Outcome  domain.ExtractionOutcome
}

// TokenID returns the resolved token id, if any.
func (r *Result) TokenID() string {
	if r == nil || r.Identity == nil {
		return ""
	}
	return r.Identity.TokenID
}

// Pointer returns the resolved pointer, if any.
func (r *Result) Pointer() string {
	if r == nil || r.Identity == nil {
		return ""
	}
	return r.Identity.Pointer
}

// Pipeline runs jobs.
type Pipeline struct {
	resolver  Resolver
	extractor Extractor
	emitter   Emitter
	metrics   *observability.Metrics
	clock     func() time.Time
}

// New creates a Pipeline.
func New(resolver Resolver, extractor Extractor) *Pipeline {
	return &Pipeline{
		resolver:  resolver,
		extractor: extractor,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// WithEmitter sets the analytics emitter.
func (p *Pipeline) WithEmitter(e Emitter) *Pipeline {
	p.emitter = e
	return p
}

// WithMetrics sets the metrics sink.
func (p *Pipeline) WithMetrics(m *observability.Metrics) *Pipeline {
	p.metrics = m
	return p
}

// WithClock sets a custom clock function.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// Run resolves and extracts. Terminal identity outcomes (identity.IsTerminal)
// are returned as errors with Outcome no_identity; callers decide whether to
// record them.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	start := p.clock()
	ctx, runID := logging.WithRun(ctx, zap.String("strategy", string(job.Strategy)))
	log := logging.FromContext(ctx)
	res := &Result{RunID: runID}

	id, err := p.resolver.Resolve(ctx, job.Strategy, identity.Source{Event: job.Event, TokenID: job.TokenID})
	res.Identity = id
	if err != nil {
		if identity.IsTerminal(err) {
			res.Outcome = domain.OutcomeNoIdentity
			log.Info("run ended without identity", zap.String("token_id", res.TokenID()), zap.Error(err))
		} else {
			res.Outcome = domain.OutcomeFailed
			log.Warn("identity resolution failed", zap.String("token_id", res.TokenID()), zap.Error(err))
		}
		p.finish(ctx, res, start, err)
		return res, err
	}

	ctx = logging.With(ctx, zap.String("token_id", id.TokenID), zap.String("pointer", id.Pointer))
	log = logging.FromContext(ctx)

	report, err := p.extractor.Extract(ctx, id.TokenID, id.Pointer)
	res.Report = report
	if err != nil {
		res.Outcome = domain.OutcomeFailed
		log.Warn("extraction failed", zap.Error(err))
		p.finish(ctx, res, start, err)
		return res, err
	}

	res.Outcome = domain.OutcomeArchived
	log.Info("token archived",
		zap.Int("artifacts", len(report.Artifacts)),
		zap.Int("secondary_errors", len(report.Secondary)),
	)
	p.finish(ctx, res, start, nil)
	return res, nil
}

func (p *Pipeline) finish(ctx context.Context, res *Result, start time.Time, runErr error) {
	elapsed := p.clock().Sub(start)
	p.metrics.ObserveExtraction(string(res.Outcome), elapsed)

	if p.emitter == nil {
		return
	}
	ev := &domain.ExtractionEvent{
		EventID:    res.RunID,
		TokenID:    res.TokenID(),
		Pointer:    res.Pointer(),
		Outcome:    res.Outcome,
		DurationMs: elapsed.Milliseconds(),
		OccurredAt: start,
	}
	if res.Identity != nil {
		ev.Strategy = string(res.Identity.Strategy)
	}
	if res.Report != nil {
		ev.ContentType = res.Report.ContentType
		ev.Artifacts = len(res.Report.Artifacts)
		ev.SecondaryErrors = len(res.Report.Secondary)
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		ev.Error = runErr.Error()
	}
	p.emitter.Emit(ev)
}
