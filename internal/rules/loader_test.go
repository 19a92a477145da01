package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sigmacore/sigmacore/internal/correlation"
	"github.com/sigmacore/sigmacore/internal/event"
)

func TestParseDetectionRule(t *testing.T) {
	src := `
title: Suspicious login
id: r1
logsource:
  category: test
detection:
  sel:
    foo: bar
  condition: sel
`
	rules, err := ParseYAML(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	r := rules[0]
	if r.ID != "r1" || r.Title != "Suspicious login" {
		t.Fatalf("unexpected header: %+v", r)
	}
	body, ok := r.Body.(*DetectionBody)
	if !ok {
		t.Fatalf("expected *DetectionBody, got %T", r.Body)
	}
	if body.LogSource.Category != "test" {
		t.Fatalf("expected logsource.category=test, got %q", body.LogSource.Category)
	}
	if !body.Eval(event.Event{Data: map[string]any{"foo": "bar"}}) {
		t.Fatal("expected rule to match foo=bar")
	}
	if body.Eval(event.Event{Data: map[string]any{"foo": "baz"}}) {
		t.Fatal("expected rule not to match foo=baz")
	}
}

func TestParseCorrelationRule(t *testing.T) {
	src := `
title: Repeated login
id: c1
correlation:
  type: event_count
  rules: [r1]
  group-by: [user]
  timespan: 10m
  condition:
    gte: 2
`
	rules, err := ParseYAML(src)
	if err != nil {
		t.Fatal(err)
	}
	body, ok := rules[0].Body.(*correlation.Body)
	if !ok {
		t.Fatalf("expected *correlation.Body, got %T", rules[0].Body)
	}
	if body.Type != correlation.EventCount {
		t.Fatalf("expected event_count, got %s", body.Type)
	}
	if len(body.Rules) != 1 || body.Rules[0] != "r1" {
		t.Fatalf("unexpected dependency list: %v", body.Rules)
	}
	if body.Condition.Gte == nil || *body.Condition.Gte != 2 {
		t.Fatalf("expected gte=2, got %+v", body.Condition)
	}
}

func TestParseMultiDocument(t *testing.T) {
	src := `
title: A
id: a
detection:
  sel: {foo: bar}
  condition: sel
---
title: B
id: b
correlation:
  type: value_count
  rules: [a]
  group-by: [host]
  timespan: 1h
  condition:
    field: user
    gte: 1
`
	rules, err := ParseYAML(src)
	if err != nil {
		t.Fatal(err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
}

func TestMissingRequiredFieldsRejected(t *testing.T) {
	_, err := ParseYAML(`
title: no id
detection:
  sel: {foo: bar}
  condition: sel
`)
	if err == nil {
		t.Fatal("expected error for missing id")
	}
}

func TestMissingBodyRejected(t *testing.T) {
	_, err := ParseYAML(`
title: empty
id: r1
`)
	if err == nil {
		t.Fatal("expected error: rule has neither detection nor correlation")
	}
}

func TestLoadDirectoryAggregatesFailures(t *testing.T) {
	dir := t.TempDir()
	good := "title: A\nid: a\ndetection:\n  sel: {foo: bar}\n  condition: sel\n"
	bad := "title: broken\n  bad indentation that is not valid yaml: [\n"

	if err := os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := LoadDirectory(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rules) != 1 {
		t.Fatalf("expected 1 successfully loaded rule, got %d", len(result.Rules))
	}
	if len(result.Failures) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(result.Failures))
	}
}

func TestInvalidTimespanRejected(t *testing.T) {
	_, err := ParseYAML(`
title: bad timespan
id: c1
correlation:
  type: event_count
  rules: [r1]
  group-by: [user]
  timespan: "10"
  condition:
    gte: 1
`)
	if err == nil {
		t.Fatal("expected error for timespan missing unit")
	}
}
