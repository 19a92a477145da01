// Package rules holds the Sigma rule data model shared by detections and
// correlations: the common header fields plus a closed Body variant.
package rules

import (
	"github.com/sigmacore/sigmacore/internal/condition"
	"github.com/sigmacore/sigmacore/internal/event"
	"github.com/sigmacore/sigmacore/internal/selection"
)

// Body is satisfied by *DetectionBody and *correlation.Body. Go's
// structural typing lets a correlation body satisfy this interface
// without correlation importing rules; the dependency runs one way only,
// from rules (whose loader builds correlation bodies) to correlation.
type Body interface {
	Kind() string
}

// Rule is a Sigma rule's common header plus its detection or correlation
// payload (spec.md §3). ID is the primary key; Name is an optional
// secondary alias other rules' correlation bodies may reference.
type Rule struct {
	ID          string
	Name        string
	Title       string
	Description string
	Level       string
	Tags        []string
	Extra       map[string]any
	Body        Body
}

// DetectionBody is a rule composed of named selections plus a condition
// expression over them (spec.md §3/§4.C).
type DetectionBody struct {
	LogSource      event.LogSource
	Selections     map[string]*selection.Selection
	SelectionNames []string // insertion order, for deterministic glob expansion
	Condition      *condition.Condition
}

// Kind satisfies Body.
func (*DetectionBody) Kind() string { return "detection" }

// Eval computes the per-selection truth table and feeds it to the
// condition AST (spec.md §4.C): no side effects.
func (d *DetectionBody) Eval(ev event.Event) bool {
	truth := make(map[string]bool, len(d.SelectionNames))
	for _, name := range d.SelectionNames {
		truth[name] = d.Selections[name].Eval(ev)
	}
	return d.Condition.Eval(truth, d.SelectionNames)
}
