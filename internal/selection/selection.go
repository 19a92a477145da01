package selection

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sigmacore/sigmacore/internal/event"
)

// Selection is an ordered bundle of field predicates; all must hold
// (spec.md §3). A bare scalar list entry (no field key) is kept as a
// RawContains entry, the original implementation's degenerate selection
// shape for matching a substring against a raw string log.
type Selection struct {
	Predicates  []*FieldPredicate
	RawContains []string
}

// New builds a Selection from the raw YAML node under a selection name,
// which may be a mapping (all predicates AND'd) or a sequence of mappings
// and/or bare scalars. A sequence is flattened: every predicate and every
// RawContains entry across all sequence items is AND'd together, the same
// as the original implementation's flat `items.iter().all(...)` over a
// single list of match types.
func New(raw *yaml.Node) (*Selection, error) {
	sel := &Selection{}
	switch raw.Kind {
	case yaml.MappingNode:
		preds, err := predicatesFromMapping(raw)
		if err != nil {
			return nil, err
		}
		sel.Predicates = preds
	case yaml.SequenceNode:
		for _, item := range raw.Content {
			switch item.Kind {
			case yaml.ScalarNode:
				sel.RawContains = append(sel.RawContains, item.Value)
			case yaml.MappingNode:
				preds, err := predicatesFromMapping(item)
				if err != nil {
					return nil, err
				}
				sel.Predicates = append(sel.Predicates, preds...)
			default:
				return nil, errInvalidPredicateValue()
			}
		}
	default:
		return nil, errInvalidPredicateValue()
	}
	return sel, nil
}

func predicatesFromMapping(m *yaml.Node) ([]*FieldPredicate, error) {
	preds := make([]*FieldPredicate, 0, len(m.Content)/2)
	for i := 0; i+1 < len(m.Content); i += 2 {
		key := m.Content[i].Value
		pred, err := NewFieldPredicate(key, m.Content[i+1])
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)
	}
	return preds, nil
}

// Eval returns true iff every item in the selection holds: each
// RawContains substring must independently be found in the event's raw
// string form, and every field predicate must match (spec.md §3: "all
// must hold" over the flattened item list, mirroring the original
// implementation's `items.iter().all(...)` across both Exact and Field
// match types).
func (s *Selection) Eval(ev event.Event) bool {
	for _, raw := range s.RawContains {
		if !matchRaw(ev, raw) {
			return false
		}
	}
	for _, p := range s.Predicates {
		if !p.Eval(ev) {
			return false
		}
	}
	return true
}

// matchRaw checks a raw-log substring against the event's "message" or
// "raw" convenience fields, the closest analogue a structured Event has
// to the original implementation's unstructured string log.
func matchRaw(ev event.Event, needle string) bool {
	for _, field := range []string{"message", "raw"} {
		if v, ok := ev.Data[field]; ok {
			if s, ok := v.(string); ok && strings.Contains(s, needle) {
				return true
			}
		}
	}
	return false
}
