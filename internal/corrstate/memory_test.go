package corrstate

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEventCountMonotonic(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	h, err := b.Register(RuleSpec{RuleID: "r1", Timespan: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := EventCountKey("user:alice")

	for i := 1; i <= 3; i++ {
		n, err := h.Incr(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if n != uint64(i) {
			t.Errorf("Incr #%d = %d, want %d", i, n, i)
		}
	}
}

func TestValueCountDistinctness(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	h, err := b.Register(RuleSpec{RuleID: "r1", Timespan: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	n, err := h.Incr(ctx, ValueCountKey("host:h1", "field:u1"))
	if err != nil || n != 1 {
		t.Fatalf("Incr #1 = %d, %v, want 1", n, err)
	}
	n, err = h.Incr(ctx, ValueCountKey("host:h1", "field:u1"))
	if err != nil || n != 1 {
		t.Fatalf("repeat discriminator should not grow distinct count: got %d", n)
	}
	n, err = h.Incr(ctx, ValueCountKey("host:h1", "field:u2"))
	if err != nil || n != 2 {
		t.Fatalf("new discriminator should grow distinct count: got %d", n)
	}
}

func TestExpiryZeroesCount(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	h, err := b.Register(RuleSpec{RuleID: "r1", Timespan: 20 * time.Millisecond})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	key := EventCountKey("user:alice")

	if _, err := h.Incr(ctx, key); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := h.Count(ctx, key)
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("expected count to expire to zero")
}

func TestIndependentGroups(t *testing.T) {
	b := NewMemoryBackend()
	defer b.Close()

	h, err := b.Register(RuleSpec{RuleID: "r1", Timespan: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := h.Incr(ctx, EventCountKey("user:alice")); err != nil {
		t.Fatal(err)
	}
	n, err := h.Count(ctx, EventCountKey("user:bob"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected unrelated group to read 0, got %d", n)
	}
}
