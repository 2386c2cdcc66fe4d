// Package caseflow orchestrates a single-case submission workflow: feature
// entry, prediction, label confirmation through the integrity guard, and the
// code-gated write to the storage backend. It also carries the independent
// bulk spreadsheet path, which bypasses the guard entirely (bulk rows arrive
// pre-labeled).
package caseflow

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jrl/collapse-gateway/internal/domain/featurerecord"
	"github.com/jrl/collapse-gateway/internal/domain/label"
	"github.com/jrl/collapse-gateway/internal/platform/backend"
)

// Phase of the submission coordinator. Submitted is terminal for the case;
// the network-bearing phases gate re-entry so no two upstream calls from one
// session are ever in flight together.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhasePredicting Phase = "predicting"
	PhasePredicted  Phase = "predicted"
	PhaseSubmitting Phase = "submitting"
	PhaseSubmitted  Phase = "submitted"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrBusy                = errors.New("a call for this session is already in flight")
	ErrAlreadySubmitted    = errors.New("case already submitted")
	ErrPredictionRequired  = errors.New("run a prediction before submitting")
	ErrSuperseded          = errors.New("result discarded: session was reset while the call was in flight")
	ErrUnsupportedFileType = errors.New("file must be an Excel spreadsheet (.xlsx or .xls)")
)

// Session is one operator's case in progress. All mutation happens under mu;
// the generation counter lets a reset invalidate responses that were in
// flight when it happened.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time

	mu         sync.Mutex
	phase      Phase
	record     *featurerecord.Record
	guard      *label.Guard
	prediction *backend.Prediction
	gen        uint64
}

func newSession() *Session {
	return &Session{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		phase:     PhaseIdle,
		record:    featurerecord.New(),
		guard:     label.NewGuard(),
	}
}

// reset clears the case back to a blank entry form. Callers hold mu.
func (s *Session) reset() {
	s.record.Reset()
	s.guard.Reset()
	s.prediction = nil
	s.phase = PhaseIdle
	s.gen++
}

// PredictionView is the prediction as presented to the operator: the raw
// binary outcome, the scorer's percentage, and the display label.
type PredictionView struct {
	Prediction  int     `json:"prediction"`
	Probability float64 `json:"probability"`
	RiskLabel   string  `json:"risk_label"`
}

// SessionView is a read-only snapshot of a session.
type SessionView struct {
	SessionID  string             `json:"session_id"`
	Phase      Phase              `json:"phase"`
	LabelState label.State        `json:"label_state"`
	LabelValue string             `json:"label_value"`
	Features   map[string]float64 `json:"features"`
	Prediction *PredictionView    `json:"prediction,omitempty"`
}

// view builds a snapshot. Callers hold mu.
func (s *Session) view() *SessionView {
	v := &SessionView{
		SessionID:  s.ID.String(),
		Phase:      s.phase,
		LabelState: s.guard.State(),
		LabelValue: s.guard.Value(),
		Features:   s.record.Payload(),
	}
	if s.prediction != nil {
		v.Prediction = &PredictionView{
			Prediction:  s.prediction.Prediction,
			Probability: s.prediction.Probability,
			RiskLabel:   s.prediction.RiskLabel(),
		}
	}
	return v
}
