// Package corrstate implements the pluggable, time-windowed counting
// backend that backs correlation semantics (spec.md §4.E): per-rule
// counters keyed by group-by tuple (and discriminator, for value-count
// style keys), with increment-triggered expiry.
package corrstate

import (
	"context"
	"time"
)

// Key identifies one counter bucket within a rule's state. Disc is empty
// for a plain event-count bucket; Distinct selects the cardinality-of-
// discriminators read path used by value-count correlations. A key with
// Disc set and Distinct false reads that one bucket's own count, which is
// how temporal correlations track each dependency.
type Key struct {
	Group    string
	Disc     string
	Distinct bool
}

// EventCountKey builds the key for an event_count correlation bucket.
func EventCountKey(group string) Key {
	return Key{Group: group}
}

// ValueCountKey builds the key for a value_count discriminator
// bucket: Count on this key returns the number of distinct discriminators
// currently live for Group, not the multiset count of this one bucket.
func ValueCountKey(group, discriminator string) Key {
	return Key{Group: group, Disc: discriminator, Distinct: true}
}

// RuleSpec is what a backend needs to register a correlation rule's state.
type RuleSpec struct {
	RuleID   string
	Timespan time.Duration
}

// Handle is a per-rule counter, bound by Backend.Register.
type Handle interface {
	// Incr records one occurrence for key and schedules its expiry after
	// the rule's timespan. It returns the post-increment observed count:
	// the bucket's multiset count for a plain key, or the distinct-
	// discriminator count of key.Group for a Distinct key.
	Incr(ctx context.Context, key Key) (uint64, error)

	// Count reads the same observed quantity as Incr without mutating it.
	Count(ctx context.Context, key Key) (uint64, error)
}

// Backend is the pluggable correlation-state substrate (spec.md §6). The
// in-memory reference implementation lives in memory.go; bbolt.go adapts
// it to a durable store for the "non-default backend" spec.md's Non-goals
// section alludes to.
type Backend interface {
	Register(spec RuleSpec) (Handle, error)
	Close() error
}
