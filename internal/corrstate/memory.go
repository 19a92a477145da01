package corrstate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// command is one request sent to the single-writer task.
type command struct {
	ruleID   string
	key      Key
	timespan time.Duration
	reply    chan uint64
}

// MemoryBackend is the in-memory reference correlation-state backend
// (spec.md §4.E/§5): a single writer task drains a bounded command
// channel plus a delay queue, while reads take a read lock directly
// against the shared map. The writer task takes the write lock for each
// map update, so it waits for reads already holding the read lock.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[string]map[string]map[string]uint64 // ruleID -> group -> disc -> count

	cmds chan command
	done chan struct{}
	grp  *errgroup.Group
	stop context.CancelFunc
}

// NewMemoryBackend starts the backend's single writer task.
func NewMemoryBackend() *MemoryBackend {
	ctx, cancel := context.WithCancel(context.Background())
	b := &MemoryBackend{
		data: make(map[string]map[string]map[string]uint64),
		cmds: make(chan command, 64),
		done: make(chan struct{}),
		stop: cancel,
	}
	grp, ctx := errgroup.WithContext(ctx)
	b.grp = grp
	grp.Go(func() error {
		b.run(ctx)
		return nil
	})
	return b
}

// Register binds a Handle for rule. Idempotent-failure on double-register
// is enforced by correlation.Body.BindState (its state_already_bound
// error), not here: a
// backend-level handle is cheap to construct and stateless beyond its
// rule id and timespan.
func (b *MemoryBackend) Register(spec RuleSpec) (Handle, error) {
	return &memoryHandle{ruleID: spec.RuleID, timespan: spec.Timespan, backend: b}, nil
}

// Close stops the writer task and waits for it to exit.
func (b *MemoryBackend) Close() error {
	b.stop()
	close(b.done)
	return b.grp.Wait()
}

func (b *MemoryBackend) run(ctx context.Context) {
	dq := newDelayQueue()
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false

	rearm := func() {
		if armed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		armed = false
		if at, ok := dq.peek(); ok {
			d := time.Until(at)
			if d < 0 {
				d = 0
			}
			timer.Reset(d)
			armed = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-b.cmds:
			count := b.applyIncr(cmd.ruleID, cmd.key)
			dq.push(cmd.ruleID, cmd.key, time.Now().Add(cmd.timespan))
			rearm()
			if cmd.reply != nil {
				cmd.reply <- count
			}
		case <-timer.C:
			armed = false
			for _, e := range dq.popExpired(time.Now()) {
				b.applyDecr(e.ruleID, e.key)
			}
			rearm()
		}
	}
}

func (b *MemoryBackend) applyIncr(ruleID string, key Key) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	group, ok := b.data[ruleID]
	if !ok {
		group = make(map[string]map[string]uint64)
		b.data[ruleID] = group
	}
	discs, ok := group[key.Group]
	if !ok {
		discs = make(map[string]uint64)
		group[key.Group] = discs
	}
	discs[key.Disc]++

	if key.Distinct {
		return uint64(len(discs))
	}
	return discs[key.Disc]
}

func (b *MemoryBackend) applyDecr(ruleID string, key Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	group, ok := b.data[ruleID]
	if !ok {
		return
	}
	discs, ok := group[key.Group]
	if !ok {
		return
	}
	if discs[key.Disc] <= 1 {
		delete(discs, key.Disc)
	} else {
		discs[key.Disc]--
	}
	if len(discs) == 0 {
		delete(group, key.Group)
	}
}

func (b *MemoryBackend) read(ruleID string, key Key) uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	group, ok := b.data[ruleID]
	if !ok {
		return 0
	}
	discs, ok := group[key.Group]
	if !ok {
		return 0
	}
	if key.Distinct {
		return uint64(len(discs))
	}
	return discs[key.Disc]
}

type memoryHandle struct {
	ruleID   string
	timespan time.Duration
	backend  *MemoryBackend
}

func (h *memoryHandle) Incr(ctx context.Context, key Key) (uint64, error) {
	reply := make(chan uint64, 1)
	cmd := command{ruleID: h.ruleID, key: key, timespan: h.timespan, reply: reply}
	select {
	case h.backend.cmds <- cmd:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (h *memoryHandle) Count(ctx context.Context, key Key) (uint64, error) {
	return h.backend.read(h.ruleID, key), nil
}
