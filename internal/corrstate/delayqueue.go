package corrstate

import (
	"container/heap"
	"time"
)

// expiryEntry is one scheduled decrement: ruleID/key fire at the
// recorded time. Timers for a given (rule, key) fire in insertion order
// (spec.md §4.E), which a min-heap ordered by fireAt gives directly.
type expiryEntry struct {
	fireAt time.Time
	ruleID string
	key    Key
}

// expiryHeap is a min-heap of expiryEntry ordered by fireAt, the delay
// queue the single-writer task drains (spec.md §5).
type expiryHeap []expiryEntry

func (h expiryHeap) Len() int            { return len(h) }
func (h expiryHeap) Less(i, j int) bool  { return h[i].fireAt.Before(h[j].fireAt) }
func (h expiryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *expiryHeap) Push(x any)         { *h = append(*h, x.(expiryEntry)) }
func (h *expiryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// delayQueue is a goroutine-free wrapper around expiryHeap; the caller
// (memory.go's single writer task) drives timing externally via a
// real time.Timer so the queue itself stays trivially testable.
type delayQueue struct {
	h expiryHeap
}

func newDelayQueue() *delayQueue {
	dq := &delayQueue{}
	heap.Init(&dq.h)
	return dq
}

func (dq *delayQueue) push(ruleID string, key Key, fireAt time.Time) {
	heap.Push(&dq.h, expiryEntry{fireAt: fireAt, ruleID: ruleID, key: key})
}

// peek returns the earliest entry's fire time without removing it, and
// false if the queue is empty.
func (dq *delayQueue) peek() (time.Time, bool) {
	if dq.h.Len() == 0 {
		return time.Time{}, false
	}
	return dq.h[0].fireAt, true
}

// popExpired removes and returns every entry whose fireAt is <= now.
func (dq *delayQueue) popExpired(now time.Time) []expiryEntry {
	var expired []expiryEntry
	for dq.h.Len() > 0 && !dq.h[0].fireAt.After(now) {
		expired = append(expired, heap.Pop(&dq.h).(expiryEntry))
	}
	return expired
}

func (dq *delayQueue) len() int { return dq.h.Len() }
