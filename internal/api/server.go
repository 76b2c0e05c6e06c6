// Package api serves the HTTP trigger surface: ledger-event notifications,
// failure-queue notifications and public replay, plus health, metrics and
// status.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/logging"
	"xrpl-nft-archiver/internal/observability"
	"xrpl-nft-archiver/internal/pipeline"
	"xrpl-nft-archiver/internal/retry"
	"xrpl-nft-archiver/internal/storage"
	"xrpl-nft-archiver/internal/xrpl"
)

const maxRequestBytes = 10 << 20

// Coordinator is the subset of retry.Coordinator the handlers drive.
type Coordinator interface {
	HandleMint(ctx context.Context, ev *domain.LedgerEvent) (*pipeline.Result, error)
	Replay(ctx context.Context, key string) (*domain.FailureRecord, error)
	ReplayPublic(ctx context.Context, tokenID string) (*domain.FailureRecord, error)
}

// Server holds the handlers' collaborators.
type Server struct {
	coordinator Coordinator
	metrics     *observability.Metrics
	logger      *zap.Logger
	status      func() any
	started     time.Time

	events        atomic.Int64
	notifications atomic.Int64
	publicRetries atomic.Int64
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics serves m on /metrics and counts received events.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithStatus adds component status to /status.
func WithStatus(fn func() any) Option {
	return func(s *Server) {
		s.status = fn
	}
}

// NewServer creates the HTTP handlers.
func NewServer(coordinator Coordinator, opts ...Option) *Server {
	s := &Server{
		coordinator: coordinator,
		logger:      zap.NewNop(),
		started:     time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("POST /events", s.handleEvent)
	mux.HandleFunc("POST /notifications/failures", s.handleFailureNotification)
	mux.HandleFunc("POST /retry/{token_id}", s.handlePublicRetry)

	return mux
}

// MintResponse is the JSON response of POST /events.
type MintResponse struct {
	RunID   string `json:"run_id,omitempty"`
	TokenID string `json:"token_id,omitempty"`
	Pointer string `json:"pointer,omitempty"`
	Outcome string `json:"outcome,omitempty"`
}

// handleEvent accepts a raw ledger event or a {"result": {...}} envelope.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	ev, err := decodeEvent(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if ev.TransactionType != "" && ev.TransactionType != domain.TxTypeNFTokenMint {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("not a mint: %s", ev.TransactionType))
		return
	}
	s.events.Add(1)
	s.metrics.EventReceived("http")

	ctx := logging.WithLogger(r.Context(), s.logger.With(zap.String("tx_hash", ev.Hash)))
	res, err := s.coordinator.HandleMint(ctx, ev)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := MintResponse{TokenID: res.TokenID(), Pointer: res.Pointer()}
	if res != nil {
		resp.RunID = res.RunID
		resp.Outcome = string(res.Outcome)
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeEvent(body []byte) (*domain.LedgerEvent, error) {
	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	raw := json.RawMessage(body)
	if len(envelope.Result) > 0 && envelope.Result[0] == '{' {
		raw = envelope.Result
	}
	return xrpl.DecodeTransaction(raw)
}

// S3Notification is the object-created notification document.
type S3Notification struct {
	Records []struct {
		S3 struct {
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ReplayOutcome reports one replayed key.
type ReplayOutcome struct {
	Key   string `json:"key"`
	State string `json:"state,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleFailureNotification replays every notfound/ or error/ key in the
// notification. Other keys are ignored; one failed key does not stop the rest.
func (s *Server) handleFailureNotification(w http.ResponseWriter, r *http.Request) {
	var n S3Notification
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes)).Decode(&n); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode notification: %w", err))
		return
	}
	s.notifications.Add(1)

	outcomes := make([]ReplayOutcome, 0, len(n.Records))
	for _, rec := range n.Records {
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			outcomes = append(outcomes, ReplayOutcome{Key: rec.S3.Object.Key, Error: err.Error()})
			continue
		}
		if !replayable(key) {
			s.logger.Debug("ignoring notification key", zap.String("key", key))
			continue
		}

		ctx := logging.WithLogger(r.Context(), s.logger.With(zap.String("key", key)))
		out := ReplayOutcome{Key: key}
		record, err := s.coordinator.Replay(ctx, key)
		if record != nil {
			out.State = string(record.State)
		}
		switch {
		case errors.Is(err, retry.ErrAttemptsExhausted):
			out.Error = err.Error()
			s.logger.Info("notification for exhausted record ignored", zap.String("key", key))
		case err != nil:
			out.Error = err.Error()
			s.logger.Error("replay from notification failed", zap.String("key", key), zap.Error(err))
		}
		outcomes = append(outcomes, out)
	}
	writeJSON(w, http.StatusOK, outcomes)
}

// replayable reports whether key is a pipeline notfound/ or error/ record.
func replayable(key string) bool {
	origin, state, _, err := retry.ParseKey(key)
	if err != nil || origin != domain.OriginPipeline {
		return false
	}
	return state == domain.StatePending || state == domain.StateFailed
}

func (s *Server) handlePublicRetry(w http.ResponseWriter, r *http.Request) {
	tokenID := r.PathValue("token_id")
	s.publicRetries.Add(1)

	ctx := logging.WithLogger(r.Context(), s.logger.With(zap.String("token_id", tokenID)))
	record, err := s.coordinator.ReplayPublic(ctx, tokenID)
	var transition *domain.ErrInvalidTransition
	switch {
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
		return
	case errors.As(err, &transition):
		// Already archived; the done record stands.
		writeJSON(w, http.StatusOK, record)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string    `json:"status"`
	Uptime        string    `json:"uptime"`
	Started       time.Time `json:"started"`
	Events        int64     `json:"events"`
	Notifications int64     `json:"notifications"`
	PublicRetries int64     `json:"public_retries"`
	Components    any       `json:"components,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:        "running",
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Started:       s.started,
		Events:        s.events.Load(),
		Notifications: s.notifications.Load(),
		PublicRetries: s.publicRetries.Load(),
	}
	if s.status != nil {
		resp.Components = s.status()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
