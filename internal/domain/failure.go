package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// FailureState is the lifecycle state of a failure record. Each state is
// persisted under the partition of the same name.
type FailureState string

// Failure states.
const (
	StatePending FailureState = "notfound"
	StateDone    FailureState = "done"
	StateFailed  FailureState = "error"
)

// Valid reports whether the state is known.
func (s FailureState) Valid() bool {
	switch s {
	case StatePending, StateDone, StateFailed:
		return true
	}
	return false
}

// ReplayOrigin tells who triggered a replay. Public replays live in their
// own sub-partition.
type ReplayOrigin string

// Replay origins.
const (
	OriginPipeline ReplayOrigin = "pipeline"
	OriginPublic   ReplayOrigin = "public"
)

// FailureRecord is the durable record of a failed (or replayed) attempt.
type FailureRecord struct {
	State     FailureState    `json:"state"`
	Origin    ReplayOrigin    `json:"origin,omitempty"`
	TokenID   string          `json:"token_id"`
	URI       string          `json:"uri,omitempty"`
	Error     string          `json:"error,omitempty"`
	Stack     string          `json:"stack,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempts  int             `json:"attempts"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ErrInvalidTransition is returned when a record may not move between two states.
type ErrInvalidTransition struct {
	From FailureState
	To   FailureState
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid failure transition %q -> %q", e.From, e.To)
}

// transitions lists the allowed moves. The empty state is a record that
// does not exist yet.
var transitions = map[FailureState][]FailureState{
	"":           {StatePending, StateDone, StateFailed},
	StatePending: {StatePending, StateDone, StateFailed},
	StateFailed:  {StateDone, StateFailed},
	StateDone:    {StateDone},
}

// CanTransition reports whether a record in state from may move to state to.
func CanTransition(from, to FailureState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition returns a copy of the record moved to state to.
func (r FailureRecord) Transition(to FailureState, now time.Time) (FailureRecord, error) {
	if !CanTransition(r.State, to) {
		return r, &ErrInvalidTransition{From: r.State, To: to}
	}
	next := r
	next.State = to
	next.UpdatedAt = now
	if to != StatePending {
		next.Attempts++
	}
	if to == StateDone {
		next.Error = ""
		next.Stack = ""
	}
	return next, nil
}

// ExtractionOutcome classifies the result of one pipeline run.
type ExtractionOutcome string

// Extraction outcomes.
const (
	OutcomeArchived   ExtractionOutcome = "archived"
	OutcomeNoIdentity ExtractionOutcome = "no_identity"
	OutcomeFailed     ExtractionOutcome = "failed"
)

// ExtractionEvent is an analytics row emitted after each pipeline run.
type ExtractionEvent struct {
	EventID         string
	TokenID         string
	Pointer         string
	Strategy        string
	Outcome         ExtractionOutcome
	ContentType     string
	Artifacts       int
	SecondaryErrors int
	Error           string
	DurationMs      int64
	OccurredAt      time.Time
}
