package collection

import (
	"context"
	"testing"

	"github.com/sigmacore/sigmacore/internal/corrstate"
	"github.com/sigmacore/sigmacore/internal/event"
	"github.com/sigmacore/sigmacore/internal/rules"
)

func parseSingle(t *testing.T, src string) (*rules.Rule, error) {
	t.Helper()
	parsed, err := rules.ParseYAML(src)
	if err != nil {
		return nil, err
	}
	return parsed[0], nil
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func TestSimpleDetection(t *testing.T) {
	c, err := FromYAML(`
title: R1
id: r1
logsource:
  category: test
detection:
  sel:
    foo: bar
  condition: sel
`)
	if err != nil {
		t.Fatal(err)
	}

	matches, err := c.Match(context.Background(), event.Event{
		Data:      map[string]any{"foo": "bar"},
		LogSource: event.LogSource{Category: "test"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !contains(matches, "r1") {
		t.Fatalf("expected r1 to match, got %v", matches)
	}

	noMatch, err := c.Match(context.Background(), event.Event{
		Data:      map[string]any{"foo": "baz"},
		LogSource: event.LogSource{Category: "test"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(noMatch) != 0 {
		t.Fatalf("expected no match, got %v", noMatch)
	}
}

func TestFilteredOutByLogSource(t *testing.T) {
	c, err := FromYAML(`
title: R1
id: r1
logsource:
  category: test
detection:
  sel:
    foo: bar
  condition: sel
`)
	if err != nil {
		t.Fatal(err)
	}

	matches, err := c.Match(context.Background(), event.Event{
		Data:      map[string]any{"foo": "bar"},
		LogSource: event.LogSource{Category: "other"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no match under a different logsource category, got %v", matches)
	}
}

func TestNOfCondition(t *testing.T) {
	c, err := FromYAML(`
title: R1
id: r1
detection:
  s1:
    foo: bar
  s2:
    baz: qux
  s3:
    quux: corge
  condition: 2 of s*
`)
	if err != nil {
		t.Fatal(err)
	}

	noMatch, err := c.MatchUnfiltered(context.Background(), event.Event{
		Data: map[string]any{"foo": "bar"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(noMatch) != 0 {
		t.Fatalf("expected no match with only one of three selections, got %v", noMatch)
	}

	matches, err := c.MatchUnfiltered(context.Background(), event.Event{
		Data: map[string]any{"foo": "bar", "baz": "qux"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !contains(matches, "r1") {
		t.Fatalf("expected match with two of three selections, got %v", matches)
	}
}

func TestEventCountCorrelation(t *testing.T) {
	c, err := FromYAML(`
title: D
id: d
detection:
  sel: {foo: bar}
  condition: sel
---
title: C
id: c
correlation:
  type: event_count
  rules: [d]
  group-by: [user]
  timespan: 10m
  condition:
    gte: 2
`)
	if err != nil {
		t.Fatal(err)
	}
	backend := corrstate.NewMemoryBackend()
	defer backend.Close()
	if err := c.RegisterBackend(backend); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()

	m1, err := c.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"foo": "bar", "user": "alice"}})
	if err != nil {
		t.Fatal(err)
	}
	if !contains(m1, "d") || contains(m1, "c") {
		t.Fatalf("E1: expected [d] only, got %v", m1)
	}

	m2, err := c.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"foo": "bar", "user": "alice"}})
	if err != nil {
		t.Fatal(err)
	}
	if !contains(m2, "d") || !contains(m2, "c") {
		t.Fatalf("E2: expected [d, c], got %v", m2)
	}

	m3, err := c.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"foo": "bar", "user": "bob"}})
	if err != nil {
		t.Fatal(err)
	}
	if !contains(m3, "d") || contains(m3, "c") {
		t.Fatalf("E3: expected [d] only (different group), got %v", m3)
	}
}

func TestValueCountCorrelation(t *testing.T) {
	c, err := FromYAML(`
title: D
id: d
detection:
  sel: {baz: quux}
  condition: sel
---
title: C
id: c
correlation:
  type: value_count
  rules: [d]
  group-by: [host]
  timespan: 10m
  condition:
    field: user
    gte: 2
`)
	if err != nil {
		t.Fatal(err)
	}
	backend := corrstate.NewMemoryBackend()
	defer backend.Close()
	if err := c.RegisterBackend(backend); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	m1, _ := c.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"baz": "quux", "host": "h1", "user": "u1"}})
	if contains(m1, "c") {
		t.Fatalf("E1: unexpected c match: %v", m1)
	}
	m2, _ := c.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"baz": "quux", "host": "h1", "user": "u1"}})
	if contains(m2, "c") {
		t.Fatalf("E2: repeat user should not grow distinct count: %v", m2)
	}
	m3, _ := c.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"baz": "quux", "host": "h1", "user": "u2"}})
	if !contains(m3, "d") || !contains(m3, "c") {
		t.Fatalf("E3: expected [d, c], got %v", m3)
	}
}

func TestTemporalVsTemporalOrdered(t *testing.T) {
	unordered, err := FromYAML(`
title: First
id: first
detection:
  sel: {kind: first}
  condition: sel
---
title: Second
id: second
detection:
  sel: {kind: second}
  condition: sel
---
title: Corr
id: corr
correlation:
  type: temporal
  rules: [first, second]
  group-by: [host]
  timespan: 10m
`)
	if err != nil {
		t.Fatal(err)
	}
	b1 := corrstate.NewMemoryBackend()
	defer b1.Close()
	if err := unordered.RegisterBackend(b1); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	unordered.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"kind": "second", "host": "h1"}})
	m2, _ := unordered.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"kind": "first", "host": "h1"}})
	if !contains(m2, "corr") {
		t.Fatalf("temporal: expected match regardless of order, got %v", m2)
	}

	ordered, err := FromYAML(`
title: First
id: first
detection:
  sel: {kind: first}
  condition: sel
---
title: Second
id: second
detection:
  sel: {kind: second}
  condition: sel
---
title: Corr
id: corr
correlation:
  type: temporal_ordered
  rules: [first, second]
  group-by: [host]
  timespan: 10m
`)
	if err != nil {
		t.Fatal(err)
	}
	b2 := corrstate.NewMemoryBackend()
	defer b2.Close()
	if err := ordered.RegisterBackend(b2); err != nil {
		t.Fatal(err)
	}

	ordered.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"kind": "second", "host": "h2"}})
	m2b, _ := ordered.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"kind": "first", "host": "h2"}})
	if contains(m2b, "corr") {
		t.Fatalf("temporal_ordered: out-of-order delivery must not match, got %v", m2b)
	}

	ordered.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"kind": "first", "host": "h3"}})
	m4, _ := ordered.MatchUnfiltered(ctx, event.Event{Data: map[string]any{"kind": "second", "host": "h3"}})
	if !contains(m4, "corr") {
		t.Fatalf("temporal_ordered: in-order delivery must match, got %v", m4)
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	c := New()
	r1, err := parseSingle(t, "title: R1\nid: r1\ndetection:\n  sel: {foo: bar}\n  condition: sel\n")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(r1); err != nil {
		t.Fatal(err)
	}
	r2, err := parseSingle(t, "title: R1 again\nid: r1\ndetection:\n  sel: {foo: bar}\n  condition: sel\n")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(r2); err == nil {
		t.Fatal("expected duplicate id error")
	}
	if c.Len() != 1 {
		t.Fatalf("expected collection to remain at 1 rule after rejected add, got %d", c.Len())
	}
}

func TestMissingDependencyRejected(t *testing.T) {
	c := New()
	r, err := parseSingle(t, `
title: C
id: c
correlation:
  type: event_count
  rules: [nonexistent]
  group-by: [user]
  timespan: 10m
  condition:
    gte: 1
`)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Add(r); err == nil {
		t.Fatal("expected missing dependency error")
	}
	if c.Len() != 0 {
		t.Fatalf("expected collection to remain empty, got %d", c.Len())
	}
}

// TestConcurrentMatchOnSharedNOfCondition drives MatchUnfiltered from many
// goroutines against a freshly parsed rule whose condition is an NOf node,
// reproducing the concurrency contract spec.md §5 grants callers ("match
// may be invoked concurrently from many callers"). Run with -race: before
// internal/condition compiled NOf/AllOf glob patterns eagerly at parse
// time, this exercised a write/write race on the first concurrent Eval of
// a shared, newly-parsed condition.
func TestConcurrentMatchOnSharedNOfCondition(t *testing.T) {
	c, err := FromYAML(`
title: R1
id: r1
detection:
  s1:
    foo: bar
  s2:
    baz: qux
  condition: 1 of s*
`)
	if err != nil {
		t.Fatal(err)
	}

	const goroutines = 32
	errs := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			_, err := c.MatchUnfiltered(context.Background(), event.Event{
				Data: map[string]any{"foo": "bar"},
			})
			errs <- err
		}()
	}
	for i := 0; i < goroutines; i++ {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
}
