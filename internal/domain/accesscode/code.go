// Package accesscode gates dataset writes behind possession of an opaque
// access code. Codes come in two tiers: one-time codes good for a single
// successful submission, and permanent codes remembered locally so the
// operator is not asked again. The gateway only ever checks the structural
// prefix; real authorization and single-use enforcement belong to the storage
// backend.
package accesscode

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes the two code tiers.
type Kind string

const (
	KindOneTime   Kind = "one_time"
	KindPermanent Kind = "permanent"
)

const (
	OneTimePrefix   = "ONE-"
	PermanentPrefix = "PERM-"

	tokenLength = 6
)

// ErrInvalidCodeFormat is returned for codes without a recognized prefix.
var ErrInvalidCodeFormat = errors.New("access code must start with ONE- or PERM-")

// Code is a structurally validated access code.
type Code struct {
	Value string
	Kind  Kind
}

// IsPermanent reports whether the code is of the permanent tier.
func (c Code) IsPermanent() bool { return c.Kind == KindPermanent }

// ParseCode validates only the prefix. The token after the prefix is opaque to
// this system.
func ParseCode(s string) (Code, error) {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, OneTimePrefix):
		return Code{Value: s, Kind: KindOneTime}, nil
	case strings.HasPrefix(s, PermanentPrefix):
		return Code{Value: s, Kind: KindPermanent}, nil
	default:
		return Code{}, ErrInvalidCodeFormat
	}
}

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// GenerateCodePair mints a fresh one-time and permanent code pair for the
// issuance relay. Tokens are six uppercase base-36 characters.
func GenerateCodePair() (oneTime, permanent string, err error) {
	oneTok, err := randomToken(tokenLength)
	if err != nil {
		return "", "", fmt.Errorf("generate one-time code: %w", err)
	}
	permTok, err := randomToken(tokenLength)
	if err != nil {
		return "", "", fmt.Errorf("generate permanent code: %w", err)
	}
	return OneTimePrefix + oneTok, PermanentPrefix + permTok, nil
}

func randomToken(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = base36[int(b)%len(base36)]
	}
	return string(out), nil
}
