// Package event defines the structured log event evaluated against Sigma
// rules: a nested data tree plus a log-source taxonomy and metadata.
package event

import "strings"

// LogSource is the category/product/service taxonomy used to route events
// to rules. An empty string on any axis is the wildcard ("None" in spec.md).
type LogSource struct {
	Category string
	Product  string
	Service  string
}

// Axis returns the value for the named axis ("category", "product",
// "service") and whether that axis is present (non-wildcard).
func (ls LogSource) Axis(name string) (string, bool) {
	switch name {
	case "category":
		return ls.Category, ls.Category != ""
	case "product":
		return ls.Product, ls.Product != ""
	case "service":
		return ls.Service, ls.Service != ""
	default:
		return "", false
	}
}

// Event is the immutable input to detection and correlation evaluation.
type Event struct {
	Data      map[string]any
	LogSource LogSource
	Metadata  map[string]any
}

// Field resolves a dotted path against the event's data tree. A missing
// segment, or traversal through a non-map value, yields (nil, false).
func (e Event) Field(path string) (any, bool) {
	return Lookup(e.Data, path)
}

// Lookup walks a dotted path within an arbitrary nested map, the same
// traversal rule used for both event data and field-ref resolution.
func Lookup(data map[string]any, path string) (any, bool) {
	if data == nil {
		return nil, false
	}
	var current any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := m[part]
		if !present {
			return nil, false
		}
		current = v
	}
	return current, true
}
