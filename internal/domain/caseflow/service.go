package caseflow

import (
	"context"
	"io"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/jrl/collapse-gateway/internal/domain/accesscode"
	"github.com/jrl/collapse-gateway/internal/domain/label"
	"github.com/jrl/collapse-gateway/internal/platform/backend"
)

// AllowedExcelTypes are the only MIME types accepted on the bulk path,
// matching what the backend's spreadsheet ingester understands.
var AllowedExcelTypes = map[string]bool{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-excel":                                          true,
}

// Upstream is the slice of the backend client the coordinator needs.
type Upstream interface {
	Predict(ctx context.Context, features map[string]float64) (*backend.Prediction, error)
	SubmitCase(ctx context.Context, payload map[string]any) error
	SubmitExcel(ctx context.Context, filename, contentType string, r io.Reader) (string, error)
}

// Service hosts the live case sessions and runs the predict/confirm/submit
// workflow against the upstream service.
type Service struct {
	upstream Upstream
	gate     *accesscode.Gate
	sessions *gocache.Cache
	log      zerolog.Logger
}

// NewService builds the coordinator. Sessions idle longer than sessionTTL are
// dropped.
func NewService(upstream Upstream, gate *accesscode.Gate, sessionTTL time.Duration, logger zerolog.Logger) *Service {
	if sessionTTL <= 0 {
		sessionTTL = gocache.NoExpiration
	}
	return &Service{
		upstream: upstream,
		gate:     gate,
		sessions: gocache.New(sessionTTL, 10*time.Minute),
		log:      logger,
	}
}

// CreateSession opens a fresh case session. The remembered permanent code, if
// any, is returned so the client can pre-load the code field.
func (s *Service) CreateSession(ctx context.Context) (*Session, string, error) {
	sess := newSession()
	s.sessions.Set(sess.ID.String(), sess, gocache.DefaultExpiration)

	remembered, err := s.gate.LoadRememberedCode(ctx)
	if err != nil {
		// A broken local store should not block case entry.
		s.log.Warn().Err(err).Msg("could not load remembered code")
		remembered = ""
	}

	s.log.Info().Str("session_id", sess.ID.String()).Msg("case session opened")
	return sess, remembered, nil
}

func (s *Service) session(id string) (*Session, error) {
	v, ok := s.sessions.Get(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return v.(*Session), nil
}

// Snapshot returns a read-only view of the session.
func (s *Service) Snapshot(id string) (*SessionView, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.view(), nil
}

// DropSession discards a session.
func (s *Service) DropSession(id string) {
	s.sessions.Delete(id)
}

// SetField records operator input for one feature field.
func (s *Service) SetField(id, key, raw string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := s.ensureEditable(sess); err != nil {
		return err
	}
	return sess.record.SetField(key, raw)
}

// EditLabel forwards an operator-initiated label edit to the guard.
func (s *Service) EditLabel(id, text string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := s.ensureEditable(sess); err != nil {
		return err
	}
	return sess.guard.Edit(text)
}

// ensureEditable rejects edits while an upstream call is in flight or after
// the case has been submitted. Callers hold the session mutex.
func (s *Service) ensureEditable(sess *Session) error {
	switch sess.phase {
	case PhasePredicting, PhaseSubmitting:
		return ErrBusy
	case PhaseSubmitted:
		return ErrAlreadySubmitted
	}
	return nil
}

// Predict scores the current feature record. While the call is in flight the
// session is gated; a reset that lands mid-call makes the response stale and
// it is discarded. On failure the session returns to Idle.
func (s *Service) Predict(ctx context.Context, id string) (*PredictionView, error) {
	sess, err := s.session(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	switch sess.phase {
	case PhasePredicting, PhaseSubmitting:
		sess.mu.Unlock()
		return nil, ErrBusy
	case PhaseSubmitted:
		sess.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	sess.phase = PhasePredicting
	gen := sess.gen
	features := sess.record.Payload()
	sess.mu.Unlock()

	pred, err := s.upstream.Predict(ctx, features)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.gen != gen {
		s.log.Info().Str("session_id", id).Msg("discarding stale prediction response")
		return nil, ErrSuperseded
	}
	if err != nil {
		sess.phase = PhaseIdle
		return nil, err
	}

	sess.prediction = pred
	sess.phase = PhasePredicted
	// Pre-fill the label field for convenience; the guard keeps it tagged
	// unconfirmed until the operator types it.
	if sess.guard.State() == label.StateEmpty {
		sess.guard.Prefill(pred.Prediction)
	}

	return &PredictionView{
		Prediction:  pred.Prediction,
		Probability: pred.Probability,
		RiskLabel:   pred.RiskLabel(),
	}, nil
}

// ConfirmSubmit runs the full submission check: a prediction must exist, the
// label must have been manually confirmed, and the code must carry a known
// prefix. The assembled payload is the 18 features plus collapseRisk and code.
// On upstream failure the session returns to Predicted and the payload is
// discarded, never retried automatically.
func (s *Service) ConfirmSubmit(ctx context.Context, id, rawCode string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	switch sess.phase {
	case PhasePredicting, PhaseSubmitting:
		sess.mu.Unlock()
		return ErrBusy
	case PhaseSubmitted:
		sess.mu.Unlock()
		return ErrAlreadySubmitted
	case PhaseIdle:
		sess.mu.Unlock()
		return ErrPredictionRequired
	}

	labelValue, err := sess.guard.ConfirmedLabel()
	if err != nil {
		// ErrManualEntryRequired has already cleared the field.
		sess.mu.Unlock()
		return err
	}

	code, err := s.gate.ValidateForSubmission(rawCode)
	if err != nil {
		sess.mu.Unlock()
		return err
	}

	payload := make(map[string]any, len(sess.record.Payload())+2)
	for k, v := range sess.record.Payload() {
		payload[k] = v
	}
	payload["collapseRisk"] = labelValue
	payload["code"] = code.Value

	sess.phase = PhaseSubmitting
	gen := sess.gen
	sess.mu.Unlock()

	submitErr := s.upstream.SubmitCase(ctx, payload)

	sess.mu.Lock()
	if sess.gen != gen {
		sess.mu.Unlock()
		s.log.Info().Str("session_id", id).Msg("discarding stale submission response")
		return ErrSuperseded
	}
	if submitErr != nil {
		sess.phase = PhasePredicted
		sess.mu.Unlock()
		return submitErr
	}
	sess.phase = PhaseSubmitted
	sess.mu.Unlock()

	// The write is backend-confirmed; remembering the code must not undo it.
	if err := s.gate.RememberIfPermanent(ctx, code); err != nil {
		s.log.Warn().Err(err).Msg("could not remember permanent code")
	}

	s.log.Info().
		Str("session_id", id).
		Str("code_kind", string(code.Kind)).
		Msg("case submitted")
	return nil
}

// Reset clears the session back to a blank form. In-flight responses become
// stale. Calling it repeatedly is harmless.
func (s *Service) Reset(id string) error {
	sess, err := s.session(id)
	if err != nil {
		return err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.reset()
	return nil
}

// RequestCode relays an access-code issuance request through the gate.
func (s *Service) RequestCode(ctx context.Context, identity accesscode.IdentityRequest) error {
	return s.gate.RequestCode(ctx, identity)
}

// SubmitExcel forwards a pre-labeled spreadsheet to the bulk endpoint. The
// MIME type is checked before anything touches the network; the single-case
// guard plays no part here.
func (s *Service) SubmitExcel(ctx context.Context, filename, contentType string, r io.Reader) (string, error) {
	if !AllowedExcelTypes[contentType] {
		return "", ErrUnsupportedFileType
	}
	return s.upstream.SubmitExcel(ctx, filename, contentType, r)
}
