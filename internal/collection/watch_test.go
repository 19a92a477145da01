package collection

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigmacore/sigmacore/internal/event"
)

func writeRule(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReloadsOnFileChange(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "r1.yaml", "title: R1\nid: r1\ndetection:\n  sel: {foo: bar}\n  condition: sel\n")

	w, failures, err := NewWatcher(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(failures) != 0 {
		t.Fatalf("unexpected failures: %v", failures)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give the watcher goroutine time to register the directory.
	time.Sleep(50 * time.Millisecond)

	writeRule(t, dir, "r2.yaml", "title: R2\nid: r2\ndetection:\n  sel: {baz: qux}\n  condition: sel\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if w.Current().Len() == 2 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if got := w.Current().Len(); got != 2 {
		t.Fatalf("expected 2 rules after reload, got %d", got)
	}

	matches, err := w.MatchUnfiltered(context.Background(), event.Event{Data: map[string]any{"baz": "qux"}})
	if err != nil {
		t.Fatal(err)
	}
	if !contains(matches, "r2") {
		t.Fatalf("expected r2 to match after reload, got %v", matches)
	}
}

func TestNewWatcherSurfacesParseFailures(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "good.yaml", "title: A\nid: a\ndetection:\n  sel: {foo: bar}\n  condition: sel\n")
	writeRule(t, dir, "bad.yaml", "title: broken\n  not valid yaml: [\n")

	w, failures, err := NewWatcher(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if len(failures) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(failures))
	}
	if w.Current().Len() != 1 {
		t.Fatalf("expected 1 successfully loaded rule, got %d", w.Current().Len())
	}
}
