package selection

import (
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/sigmacore/sigmacore/internal/event"
)

// FieldPredicate is one field/value/modifier clause within a Selection
// (spec.md §3). Multiple Values are OR'd; multiple Modifiers are AND'd.
type FieldPredicate struct {
	Path      string
	Modifiers []Modifier
	Values    []any

	// valueGlobs holds a compiled case-folded glob per string value, used
	// only by the zero-modifier default matcher (spec.md §4.B item 4).
	// A nil entry means the corresponding Values[i] isn't a string.
	valueGlobs []glob.Glob
}

// NewFieldPredicate builds a predicate from a Sigma selection key ("field",
// or "field|mod1|mod2[|flag...]") and its raw YAML value node.
func NewFieldPredicate(key string, raw *yaml.Node) (*FieldPredicate, error) {
	parts := strings.Split(key, "|")
	path := parts[0]

	modifiers, err := parseModifierPipeline(parts[1:])
	if err != nil {
		return nil, err
	}

	for i, m := range modifiers {
		if m.Kind != KindRegex {
			continue
		}
		// exactly one value is expected for the regex modifier; compile it now
		// so it's cached on the predicate rather than recompiled per event.
		val, err := soleScalar(raw)
		if err != nil {
			return nil, err
		}
		pattern, ok := val.(string)
		if !ok {
			return nil, errInvalidRegexValue(key)
		}
		re, err := compileRegex(pattern, m.B64)
		if err != nil {
			return nil, err
		}
		modifiers[i].Regex = re
	}

	values, err := decodeValues(raw)
	if err != nil {
		return nil, err
	}

	fp := &FieldPredicate{Path: path, Modifiers: modifiers, Values: values}
	if len(modifiers) == 0 {
		fp.valueGlobs = make([]glob.Glob, len(values))
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			g, err := glob.Compile(strings.ToLower(s))
			if err != nil {
				return nil, errInvalidGlobValue(key, s)
			}
			fp.valueGlobs[i] = g
		}
	}
	return fp, nil
}

// Eval evaluates the predicate against one event.
func (p *FieldPredicate) Eval(ev event.Event) bool {
	logv, _ := ev.Field(p.Path)

	if len(p.Modifiers) == 0 {
		return p.evalDefault(logv)
	}

	for _, m := range p.Modifiers {
		if m.Kind == KindAll {
			if !evalAll(logv, p.Values) {
				return false
			}
			continue
		}
		if !p.evalModifierAcrossValues(m, logv, ev.Data) {
			return false
		}
	}
	return true
}

func (p *FieldPredicate) evalModifierAcrossValues(m Modifier, logv any, data map[string]any) bool {
	for _, v := range p.Values {
		if m.eval(logv, v, data) {
			return true
		}
	}
	return false
}

func (p *FieldPredicate) evalDefault(logv any) bool {
	for i, v := range p.Values {
		if v == nil {
			if logv == nil {
				return true
			}
			continue
		}
		switch vv := v.(type) {
		case string:
			s, ok := logv.(string)
			if !ok {
				continue
			}
			if p.valueGlobs[i] != nil && p.valueGlobs[i].Match(strings.ToLower(s)) {
				return true
			}
		case bool:
			if b, ok := logv.(bool); ok && b == vv {
				return true
			}
		default:
			if n, ok := asNumber(v); ok {
				if ln, ok := asNumber(logv); ok && ln == n {
					return true
				}
			}
		}
	}
	return false
}

func evalAll(logv any, values []any) bool {
	arr, ok := logv.([]any)
	if !ok {
		return false
	}
	for _, want := range values {
		found := false
		for _, have := range arr {
			if valuesEqual(have, want) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func lookup(data map[string]any, path string) (any, bool) {
	return event.Lookup(data, path)
}

func soleScalar(raw *yaml.Node) (any, error) {
	values, err := decodeValues(raw)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, errInvalidRegexValue("regex")
	}
	return values[0], nil
}

func decodeValues(raw *yaml.Node) ([]any, error) {
	if raw == nil || raw.Kind == 0 {
		return []any{nil}, nil
	}
	switch raw.Kind {
	case yaml.ScalarNode:
		var v any
		if err := raw.Decode(&v); err != nil {
			return nil, err
		}
		return []any{normalizeScalar(v)}, nil
	case yaml.SequenceNode:
		values := make([]any, 0, len(raw.Content))
		for _, item := range raw.Content {
			var v any
			if err := item.Decode(&v); err != nil {
				return nil, err
			}
			values = append(values, normalizeScalar(v))
		}
		return values, nil
	default:
		return nil, errInvalidPredicateValue()
	}
}

func normalizeScalar(v any) any {
	if i, ok := v.(int); ok {
		return float64(i)
	}
	return v
}
