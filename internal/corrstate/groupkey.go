package corrstate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sigmacore/sigmacore/internal/event"
)

// GroupKey canonicalises a correlation rule's group-by tuple into the
// lexicographically-sorted "k:v,k:v,..." string from spec.md §6. ok is
// false if any field is missing from the event (spec.md §4.F: "no
// grouping key ⇒ no correlation").
func GroupKey(ev event.Event, groupBy []string) (key string, ok bool) {
	parts := make([]string, 0, len(groupBy))
	for _, field := range groupBy {
		v, present := ev.Field(field)
		if !present {
			return "", false
		}
		parts = append(parts, field+":"+Stringify(v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ","), true
}

// Stringify canonicalises a group-by value to a stable text form
// (spec.md §9 open question 5): numbers without trailing float noise,
// everything else via fmt.Sprint.
func Stringify(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprintf("%d", int64(n))
		}
		return fmt.Sprintf("%g", n)
	case nil:
		return ""
	default:
		return fmt.Sprint(n)
	}
}
