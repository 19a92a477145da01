package selection

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/sigmacore/sigmacore/internal/event"
)

func parseYAML(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(src), &doc); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	return doc.Content[0]
}

func TestDefaultMatcherWildcards(t *testing.T) {
	node := parseYAML(t, "foo: '*bar*'\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	ev := event.Event{Data: map[string]any{"foo": "xxBARxx"}}
	if !sel.Eval(ev) {
		t.Error("expected case-insensitive wildcard match")
	}
	ev.Data["foo"] = "nope"
	if sel.Eval(ev) {
		t.Error("expected no match")
	}
}

func TestDefaultMatcherNullField(t *testing.T) {
	node := parseYAML(t, "foo: null\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Eval(event.Event{Data: map[string]any{}}) {
		t.Error("null value should match missing field")
	}
	if sel.Eval(event.Event{Data: map[string]any{"foo": "present"}}) {
		t.Error("null value should not match present field")
	}
}

func TestContainsModifier(t *testing.T) {
	node := parseYAML(t, "foo|contains: bar\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Eval(event.Event{Data: map[string]any{"foo": "xxbarxx"}}) {
		t.Error("expected contains match")
	}
}

func TestExistsModifier(t *testing.T) {
	node := parseYAML(t, "foo|exists: true\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Eval(event.Event{Data: map[string]any{"foo": "anything"}}) {
		t.Error("expected exists true")
	}
	if sel.Eval(event.Event{Data: map[string]any{}}) {
		t.Error("expected exists false on missing field")
	}
}

func TestGteModifierCoercesStringNumber(t *testing.T) {
	node := parseYAML(t, "count|gte: 2\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Eval(event.Event{Data: map[string]any{"count": "5"}}) {
		t.Error("expected numeric coercion from string")
	}
	if sel.Eval(event.Event{Data: map[string]any{"count": "1"}}) {
		t.Error("expected no match below threshold")
	}
}

func TestCidrModifier(t *testing.T) {
	node := parseYAML(t, "ip|cidr: 10.0.0.0/8\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Eval(event.Event{Data: map[string]any{"ip": "10.1.2.3"}}) {
		t.Error("expected IP within CIDR to match")
	}
	if sel.Eval(event.Event{Data: map[string]any{"ip": "192.168.1.1"}}) {
		t.Error("expected IP outside CIDR to not match")
	}
}

func TestAllModifierSubsetMembership(t *testing.T) {
	node := parseYAML(t, "tags|all: [a, b]\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	ev := event.Event{Data: map[string]any{"tags": []any{"a", "b", "c"}}}
	if !sel.Eval(ev) {
		t.Error("expected subset membership match")
	}
	ev.Data["tags"] = []any{"a"}
	if sel.Eval(ev) {
		t.Error("expected no match when b is missing")
	}
}

func TestFieldRefModifier(t *testing.T) {
	node := parseYAML(t, "user|fieldref: owner\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Eval(event.Event{Data: map[string]any{"user": "alice", "owner": "alice"}}) {
		t.Error("expected equal fields to match")
	}
	if sel.Eval(event.Event{Data: map[string]any{"user": "alice", "owner": "bob"}}) {
		t.Error("expected unequal fields to not match")
	}
}

func TestRegexModifierFlags(t *testing.T) {
	node := parseYAML(t, "path|re|i: '^C:\\\\Windows'\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Eval(event.Event{Data: map[string]any{"path": "c:\\windows\\system32"}}) {
		t.Error("expected case-insensitive regex match")
	}
}

func TestRawContainsAndFieldPredicatesAreConjoined(t *testing.T) {
	node := parseYAML(t, "- admin\n- role: user\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	if sel.Eval(event.Event{Data: map[string]any{"role": "user", "message": "nothing"}}) {
		t.Error("expected no match: raw substring \"admin\" is absent from message, so the conjunction must fail")
	}
	if !sel.Eval(event.Event{Data: map[string]any{"role": "user", "message": "admin login"}}) {
		t.Error("expected match when both the raw substring and the field predicate hold")
	}
}

func TestNumericEqualityDefaultMatcher(t *testing.T) {
	node := parseYAML(t, "port: 443\n")
	sel, err := New(node)
	if err != nil {
		t.Fatal(err)
	}
	if !sel.Eval(event.Event{Data: map[string]any{"port": float64(443)}}) {
		t.Error("expected numeric equality")
	}
}
