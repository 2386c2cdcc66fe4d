// Package featurerecord holds the fixed clinical feature set collected for a
// hip-collapse risk case. The schema is versioned with the model: 12 continuous
// measurements and 6 binary etiology/demographic flags, 18 keys total.
package featurerecord

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ContinuousKeys are free numeric measurement fields, in entry order.
var ContinuousKeys = []string{
	"shaftangle", "offset", "headdiameter", "lateraledge", "acetabdiameter",
	"alphaangle", "combinednecrotic", "maxpercent", "percentnecrotic", "volum",
	"labraltear", "age",
}

// BinaryKeys are categorical fields constrained to 0 or 1.
var BinaryKeys = []string{
	"male", "white", "toxic", "medical", "idiopathic", "trauma",
}

// AllKeys is the full ordered feature set expected by the scoring model.
var AllKeys = append(append([]string{}, ContinuousKeys...), BinaryKeys...)

var (
	ErrUnknownKey         = errors.New("unknown feature key")
	ErrInvalidBinaryValue = errors.New("value must be 0 or 1")
)

var binarySet = func() map[string]bool {
	m := make(map[string]bool, len(BinaryKeys))
	for _, k := range BinaryKeys {
		m[k] = true
	}
	return m
}()

var knownSet = func() map[string]bool {
	m := make(map[string]bool, len(AllKeys))
	for _, k := range AllKeys {
		m[k] = true
	}
	return m
}()

// IsBinaryKey reports whether key is one of the six binary feature fields.
func IsBinaryKey(key string) bool { return binarySet[key] }

// IsKnownKey reports whether key belongs to the fixed feature set.
func IsKnownKey(key string) bool { return knownSet[key] }

// Record is one case's feature values as the operator has entered them so far.
// It lives for a single entry session and is never persisted on its own.
type Record struct {
	values map[string]float64
}

func New() *Record {
	return &Record{values: make(map[string]float64, len(AllKeys))}
}

// SetField records the raw text the operator typed for key.
//
// Binary fields reject anything other than "0" or "1": a silent coercion there
// would turn a typo into a wrong clinical fact. Continuous fields tolerate
// unparsable text and coerce it to 0 so measurement entry is never blocked.
func (r *Record) SetField(key, raw string) error {
	if !knownSet[key] {
		return fmt.Errorf("%q: %w", key, ErrUnknownKey)
	}
	raw = strings.TrimSpace(raw)

	if binarySet[key] {
		if raw != "0" && raw != "1" {
			return fmt.Errorf("%s: %w", key, ErrInvalidBinaryValue)
		}
		v, _ := strconv.ParseFloat(raw, 64)
		r.values[key] = v
		return nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	r.values[key] = v
	return nil
}

// Get returns the stored value for key and whether it has been set.
func (r *Record) Get(key string) (float64, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Payload returns the complete 18-key feature mapping sent to the scoring
// endpoint. Keys the operator never touched default to 0.
func (r *Record) Payload() map[string]float64 {
	out := make(map[string]float64, len(AllKeys))
	for _, k := range AllKeys {
		out[k] = r.values[k]
	}
	return out
}

// Reset clears every field. Safe to call repeatedly.
func (r *Record) Reset() {
	r.values = make(map[string]float64, len(AllKeys))
}
