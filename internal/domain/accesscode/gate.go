package accesscode

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jrl/collapse-gateway/internal/platform/backend"
	"github.com/jrl/collapse-gateway/internal/platform/kvstore"
)

// RememberedCodeKey is the kvstore slot holding the operator's permanent code.
const RememberedCodeKey = "userCode"

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

var (
	ErrMissingIdentityField = errors.New("all identity fields are required")
	ErrInvalidEmail         = errors.New("invalid email address")
)

// IdentityRequest identifies the requester of a code pair. It is used for the
// single issuance call and never persisted.
type IdentityRequest struct {
	Email       string `json:"email"`
	Institution string `json:"institution"`
	First       string `json:"first"`
	Last        string `json:"last"`
}

// Validate checks all fields are present and the email is well-formed.
func (r IdentityRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" ||
		strings.TrimSpace(r.Institution) == "" ||
		strings.TrimSpace(r.First) == "" ||
		strings.TrimSpace(r.Last) == "" {
		return ErrMissingIdentityField
	}
	if !emailPattern.MatchString(r.Email) {
		return ErrInvalidEmail
	}
	return nil
}

// CodeSender relays an issuance request to the backend, which delivers the
// generated codes out-of-band.
type CodeSender interface {
	SendCodeEmail(ctx context.Context, req backend.CodeEmailRequest) error
}

// Gate issues and structurally validates access codes, and remembers permanent
// codes in a durable local slot.
type Gate struct {
	sender CodeSender
	store  kvstore.Store
	log    zerolog.Logger
}

func NewGate(sender CodeSender, store kvstore.Store, logger zerolog.Logger) *Gate {
	return &Gate{sender: sender, store: store, log: logger}
}

// RequestCode validates the identity locally, mints a one-time/permanent pair,
// and relays both through the issuance endpoint. The caller receives only an
// acknowledgement; the codes are delivered by email.
func (g *Gate) RequestCode(ctx context.Context, identity IdentityRequest) error {
	if err := identity.Validate(); err != nil {
		return err
	}

	oneTime, permanent, err := GenerateCodePair()
	if err != nil {
		return err
	}

	req := backend.CodeEmailRequest{
		Email:         identity.Email,
		Institution:   identity.Institution,
		First:         identity.First,
		Last:          identity.Last,
		OneTimeCode:   oneTime,
		PermanentCode: permanent,
	}
	if err := g.sender.SendCodeEmail(ctx, req); err != nil {
		return err
	}

	g.log.Info().Str("institution", identity.Institution).Msg("access code pair issued")
	return nil
}

// ValidateForSubmission checks only the structural prefix; single-use
// enforcement is the storage backend's job.
func (g *Gate) ValidateForSubmission(s string) (Code, error) {
	return ParseCode(s)
}

// RememberIfPermanent persists a permanent code to the local slot so the next
// session starts with it pre-loaded. One-time codes are never stored.
func (g *Gate) RememberIfPermanent(ctx context.Context, code Code) error {
	if !code.IsPermanent() {
		return nil
	}
	if err := g.store.Set(ctx, RememberedCodeKey, code.Value); err != nil {
		return fmt.Errorf("remember permanent code: %w", err)
	}
	return nil
}

// LoadRememberedCode reads the stored permanent code. A missing slot is not an
// error; it returns the empty string.
func (g *Gate) LoadRememberedCode(ctx context.Context) (string, error) {
	v, err := g.store.Get(ctx, RememberedCodeKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load remembered code: %w", err)
	}
	return v, nil
}
