// Package label implements the integrity guard around the operator-entered
// collapse-risk label. The guard exists to keep the model's own prediction from
// sliding into the dataset as a confirmed ground-truth label: a value only
// counts once a human has actually typed it, and a pre-filled prediction is
// tracked as unconfirmed no matter what it says.
package label

import (
	"errors"
	"strconv"
	"strings"
)

// State of the guard. ManuallyConfirmed is the only state from which a label
// may be taken for submission.
type State string

const (
	StateEmpty             State = "empty"
	StateAutoFilled        State = "auto_filled"
	StateManuallyConfirmed State = "manually_confirmed"
	StateRejected          State = "rejected"
)

var (
	// ErrInvalidLabelValue is returned when an operator edit produces text
	// other than "0" or "1".
	ErrInvalidLabelValue = errors.New("collapse risk must be 0 or 1")

	// ErrManualEntryRequired signals that the label has not been typed by the
	// operator. It is a control-flow outcome, not a fault: the field is
	// cleared and entry must be repeated by hand.
	ErrManualEntryRequired = errors.New("collapse risk must be entered manually")
)

// Guard tracks whether the displayed label value came from a human edit or
// from a programmatic pre-fill.
type Guard struct {
	state State
	value string
}

func NewGuard() *Guard {
	return &Guard{state: StateEmpty}
}

func (g *Guard) State() State { return g.state }

// Value returns the currently displayed label text.
func (g *Guard) Value() string { return g.value }

// Prefill populates the field with the model's prediction for operator
// convenience. It only applies while the field is empty and the value stays
// tagged unconfirmed: pre-filling never advances toward submission.
func (g *Guard) Prefill(prediction int) {
	if g.state != StateEmpty {
		return
	}
	g.value = strconv.Itoa(prediction)
	g.state = StateAutoFilled
}

// Edit records an operator-initiated change to the field. "0" or "1" confirms
// the label, even when it happens to match the pre-filled prediction - the
// edit event itself is what carries intent. Emptying the field returns to
// Empty; anything else rejects the entry.
func (g *Guard) Edit(text string) error {
	text = strings.TrimSpace(text)
	g.value = text

	switch text {
	case "":
		g.state = StateEmpty
		return nil
	case "0", "1":
		g.state = StateManuallyConfirmed
		return nil
	default:
		g.state = StateRejected
		return ErrInvalidLabelValue
	}
}

// ConfirmedLabel returns the label for submission. Without a genuine operator
// edit the request fails with ErrManualEntryRequired and the field is cleared,
// forcing the clinician to type the value rather than wave the model's guess
// through.
func (g *Guard) ConfirmedLabel() (string, error) {
	switch g.state {
	case StateManuallyConfirmed:
		return g.value, nil
	case StateRejected:
		return "", ErrInvalidLabelValue
	default:
		g.value = ""
		g.state = StateEmpty
		return "", ErrManualEntryRequired
	}
}

// Reset returns the guard to Empty from any state.
func (g *Guard) Reset() {
	g.value = ""
	g.state = StateEmpty
}
