// Package collection implements the top-level orchestrator (spec.md
// §4.H): it owns every rule, the log-source filter index, the
// dependency graph, and the correlation state backend, and exposes
// match/match_unfiltered over an incoming event.
package collection

import (
	"context"

	"github.com/sigmacore/sigmacore/internal/correlation"
	"github.com/sigmacore/sigmacore/internal/corrstate"
	"github.com/sigmacore/sigmacore/internal/event"
	"github.com/sigmacore/sigmacore/internal/graph"
	"github.com/sigmacore/sigmacore/internal/logsource"
	"github.com/sigmacore/sigmacore/internal/logutil"
	"github.com/sigmacore/sigmacore/internal/rules"
)

// signal renders a match via logutil.Signal, using the rule's log source
// as the context line (shown only in verbose mode).
func signal(r *rules.Rule) {
	extra := ""
	if det, ok := r.Body.(*rules.DetectionBody); ok {
		ctx := make(map[string]string, 3)
		if det.LogSource.Category != "" {
			ctx["category"] = det.LogSource.Category
		}
		if det.LogSource.Product != "" {
			ctx["product"] = det.LogSource.Product
		}
		if det.LogSource.Service != "" {
			ctx["service"] = det.LogSource.Service
		}
		extra = logutil.SignalContext(ctx)
	}
	logutil.Signal(r.Body.Kind(), r.ID, r.Level, r.Title, extra)
}

// Collection owns the full rule set. It is not safe for concurrent
// mutation (Add/RegisterBackend); Match/MatchUnfiltered are safe to call
// concurrently once construction is finished (spec.md §5).
type Collection struct {
	rulesByID map[string]*rules.Rule
	namesToID map[string]string // secondary alias -> id, first-writer-wins
	order     []string          // insertion order, for deterministic detection-match ordering

	filter *logsource.Index
	graph  *graph.Graph

	backend corrstate.Backend
}

// New returns an empty collection.
func New() *Collection {
	return &Collection{
		rulesByID: make(map[string]*rules.Rule),
		namesToID: make(map[string]string),
		filter:    logsource.New(),
		graph:     graph.New(),
	}
}

// FromYAML parses every document in source and adds each rule in order.
// The first Add failure aborts the call; nothing from that call is left
// in the collection (spec.md §7 treats this like a single atomic add).
func FromYAML(source string) (*Collection, error) {
	parsed, err := rules.ParseYAML(source)
	if err != nil {
		return nil, err
	}
	c := New()
	for _, r := range parsed {
		if err := c.Add(r); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// FromDirectory builds a collection from every rule file under root,
// best-effort: a file that fails to parse, or a rule that fails to add
// (duplicate id, missing dependency, cycle), is recorded as a failure
// and does not abort the load.
func FromDirectory(root string) (*Collection, []rules.Failure, error) {
	report, err := rules.LoadDirectory(root)
	if err != nil {
		return nil, nil, err
	}
	c := New()
	failures := append([]rules.Failure(nil), report.Failures...)
	for _, r := range report.Rules {
		if err := c.Add(r); err != nil {
			failures = append(failures, rules.Failure{Path: r.ID, Err: err})
		}
	}
	return c, failures, nil
}

// Len returns the number of rules in the collection.
func (c *Collection) Len() int { return len(c.rulesByID) }

// Get returns the rule with the given id, if present.
func (c *Collection) Get(id string) (*rules.Rule, bool) {
	r, ok := c.rulesByID[id]
	return r, ok
}

// resolve turns a dependency reference into a canonical rule id, trying
// the id space first and falling back to the name alias (spec.md §4.G).
func (c *Collection) resolve(ref string) (string, bool) {
	if _, ok := c.rulesByID[ref]; ok {
		return ref, true
	}
	if id, ok := c.namesToID[ref]; ok {
		return id, true
	}
	return "", false
}

// Add inserts rule into the collection. It is atomic: on any error the
// collection is left exactly as it was before the call (spec.md §7).
func (c *Collection) Add(rule *rules.Rule) error {
	if _, exists := c.rulesByID[rule.ID]; exists {
		return errDuplicateID(rule.ID)
	}

	var dependencyIDs []string
	var logSource event.LogSource
	isDetection := false

	switch body := rule.Body.(type) {
	case *rules.DetectionBody:
		isDetection = true
		logSource = body.LogSource
	case *correlation.Body:
		for _, ref := range body.Dependencies() {
			id, ok := c.resolve(ref)
			if !ok {
				return errMissingDependency(rule.ID, ref)
			}
			dependencyIDs = append(dependencyIDs, id)
		}
	}

	if isDetection {
		c.filter.Insert(rule.ID, logSource)
	}

	if corrBody, ok := rule.Body.(*correlation.Body); ok && c.backend != nil {
		spec := corrstate.RuleSpec{RuleID: rule.ID, Timespan: corrBody.Timespan}
		handle, err := c.backend.Register(spec)
		if err != nil {
			if isDetection {
				c.filter.Remove(rule.ID, logSource)
			}
			return errStateRegistration(rule.ID, err)
		}
		if err := corrBody.BindState(handle); err != nil {
			if isDetection {
				c.filter.Remove(rule.ID, logSource)
			}
			return err
		}
	}

	if err := c.graph.AddNode(rule.ID, dependencyIDs); err != nil {
		if isDetection {
			c.filter.Remove(rule.ID, logSource)
		}
		return err
	}

	c.rulesByID[rule.ID] = rule
	c.order = append(c.order, rule.ID)
	if rule.Name != "" {
		if _, exists := c.namesToID[rule.Name]; exists {
			logutil.Warn("rule name %q already maps to %q; keeping first mapping, ignoring %q", rule.Name, c.namesToID[rule.Name], rule.ID)
		} else {
			c.namesToID[rule.Name] = rule.ID
		}
	}
	return nil
}

// RegisterBackend binds backend to every correlation rule currently in
// the collection, and to every correlation rule added afterward. It is
// idempotent: a rule that already has a bound handle is left alone.
func (c *Collection) RegisterBackend(backend corrstate.Backend) error {
	c.backend = backend
	for _, id := range c.order {
		body, ok := c.rulesByID[id].Body.(*correlation.Body)
		if !ok || body.HasState() {
			continue
		}
		handle, err := backend.Register(corrstate.RuleSpec{RuleID: id, Timespan: body.Timespan})
		if err != nil {
			return errStateRegistration(id, err)
		}
		if err := body.BindState(handle); err != nil {
			return err
		}
	}
	return nil
}

// Match evaluates ev against the filter-index-admitted subset of
// detections, then traverses the dependency graph for correlations
// (spec.md §4.H).
func (c *Collection) Match(ctx context.Context, ev event.Event) ([]string, error) {
	admitted := c.filter.Query(ev.LogSource)
	return c.evaluate(ctx, ev, func(id string) bool { return admitted[id] })
}

// MatchUnfiltered evaluates every detection, skipping the log-source
// filter step entirely.
func (c *Collection) MatchUnfiltered(ctx context.Context, ev event.Event) ([]string, error) {
	return c.evaluate(ctx, ev, func(string) bool { return true })
}

func (c *Collection) evaluate(ctx context.Context, ev event.Event, admit func(string) bool) ([]string, error) {
	var matched []string
	prior := correlation.Prior{}

	for _, id := range c.order {
		det, ok := c.rulesByID[id].Body.(*rules.DetectionBody)
		if !ok || !admit(id) {
			continue
		}
		if det.Eval(ev) {
			matched = append(matched, id)
			prior[id] = true
			signal(c.rulesByID[id])
		}
	}

	for _, id := range c.graph.Order() {
		body, ok := c.rulesByID[id].Body.(*correlation.Body)
		if !ok || !c.graph.IsCandidate(id, prior) {
			continue
		}
		ok, err := correlation.Eval(ctx, body, ev, prior, c.resolve)
		if err != nil {
			return detectionsOnly(matched, c.rulesByID), err
		}
		if ok {
			matched = append(matched, id)
			prior[id] = true
			signal(c.rulesByID[id])
		}
	}

	return matched, nil
}

func detectionsOnly(ids []string, byID map[string]*rules.Rule) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := byID[id].Body.(*rules.DetectionBody); ok {
			out = append(out, id)
		}
	}
	return out
}
