// Package correlation implements correlation-rule semantics: event_count,
// value_count, temporal, and temporal_ordered matching against prior
// detection/correlation matches and the windowed counting state backend
// (spec.md §4.F).
package correlation

import (
	"time"

	"github.com/sigmacore/sigmacore/internal/corrstate"
)

// Kind is the correlation type (spec.md §3's CorrelationBody.kind).
type Kind string

const (
	EventCount      Kind = "event_count"
	ValueCount      Kind = "value_count"
	Temporal        Kind = "temporal"
	TemporalOrdered Kind = "temporal_ordered"
)

// CondExpr is a conjunction of numeric comparisons against an observed
// count (spec.md §3: "Gt|Gte|Lt|Lte|Eq(i64) or a conjunction of such").
type CondExpr struct {
	Gt, Gte, Lt, Lte, Eq *int64
}

// Eval reports whether n satisfies every comparison present.
func (c CondExpr) Eval(n int64) bool {
	if c.Gt != nil && !(n > *c.Gt) {
		return false
	}
	if c.Gte != nil && !(n >= *c.Gte) {
		return false
	}
	if c.Lt != nil && !(n < *c.Lt) {
		return false
	}
	if c.Lte != nil && !(n <= *c.Lte) {
		return false
	}
	if c.Eq != nil && !(n == *c.Eq) {
		return false
	}
	return true
}

// Body is a correlation rule's payload (spec.md §3's CorrelationBody).
// It satisfies rules.Body by structural typing (Kind() string), so this
// package does not import rules.
type Body struct {
	Type      Kind
	Field     string // value_count discriminator field; unused otherwise
	Condition CondExpr
	Rules     []string // dependency references, by rule id or name
	Timespan  time.Duration
	GroupBy   []string

	handle corrstate.Handle
}

// Kind satisfies rules.Body.
func (*Body) Kind() string { return "correlation" }

// Dependencies returns this rule's referenced ids/names (spec.md §4.G).
func (b *Body) Dependencies() []string { return b.Rules }

// BindState attaches the backend handle obtained via Backend.Register.
// It is an error to call this twice for the same rule (spec.md §7's
// StateError: "handle already bound").
func (b *Body) BindState(h corrstate.Handle) error {
	if b.handle != nil {
		return errStateAlreadyBound
	}
	b.handle = h
	return nil
}

// HasState reports whether BindState has been called.
func (b *Body) HasState() bool { return b.handle != nil }
