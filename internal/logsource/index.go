// Package logsource implements the category/product/service filter index
// that narrows a collection's detections down to the candidates worth
// evaluating for a given event (spec.md §4.D).
package logsource

import "github.com/sigmacore/sigmacore/internal/event"

// axisNames lists the three log-source axes in a fixed order so the
// index's three maps can be driven generically.
var axisNames = [3]string{"category", "product", "service"}

// Index holds one rule-id set per (axis, value) pair, plus the "all" set
// of every indexed rule id. The zero value is not usable; use New.
type Index struct {
	axes [3]map[string]map[string]bool // axis index -> value ("" = wildcard) -> rule id set
	all  map[string]bool
}

// New returns an empty filter index.
func New() *Index {
	return &Index{
		axes: [3]map[string]map[string]bool{
			make(map[string]map[string]bool),
			make(map[string]map[string]bool),
			make(map[string]map[string]bool),
		},
		all: make(map[string]bool),
	}
}

// Insert adds id under every axis value of ls, plus the "all" set. A rule
// is inserted into all three axis maps unconditionally (spec.md §4.D:
// "Every detection rule is inserted into all three").
func (idx *Index) Insert(id string, ls event.LogSource) {
	for i, name := range axisNames {
		value, _ := ls.Axis(name)
		m := idx.axes[i]
		if m[value] == nil {
			m[value] = make(map[string]bool)
		}
		m[value][id] = true
	}
	idx.all[id] = true
}

// Remove drops id from every axis map and the "all" set. Used to roll
// back a staged insert if a later stage of rule construction fails
// (spec.md §7's atomic-add invariant).
func (idx *Index) Remove(id string, ls event.LogSource) {
	for i, name := range axisNames {
		value, _ := ls.Axis(name)
		if set := idx.axes[i][value]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(idx.axes[i], value)
			}
		}
	}
	delete(idx.all, id)
}

// Query returns the set of rule ids admitted for target, per spec.md
// §4.D: for each axis, the candidate set is the union of rules declared
// with that exact value and rules wildcard on that axis, if target
// specifies a value; or the full "all" set, if target omits the axis.
// The result is the intersection across the three axes.
func (idx *Index) Query(target event.LogSource) map[string]bool {
	var candidates [3]map[string]bool
	for i, name := range axisNames {
		value, present := target.Axis(name)
		if !present {
			candidates[i] = idx.all
			continue
		}
		set := make(map[string]bool)
		for id := range idx.axes[i][value] {
			set[id] = true
		}
		for id := range idx.axes[i][""] {
			set[id] = true
		}
		candidates[i] = set
	}
	return intersect(candidates[0], candidates[1], candidates[2])
}

func intersect(a, b, c map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for id := range a {
		if b[id] && c[id] {
			out[id] = true
		}
	}
	return out
}
