package correlation

import (
	"context"

	"github.com/sigmacore/sigmacore/internal/corrstate"
	"github.com/sigmacore/sigmacore/internal/event"
)

// Resolver turns a dependency reference (a rule id or rule name, per
// spec.md §4.F: "rules: [id-or-name, ...]") into the canonical rule id
// used as the prior-match set's keys. ok is false for an unknown
// reference.
type Resolver func(ref string) (id string, ok bool)

// Prior is the set of rule ids that have already matched for the event
// currently under evaluation (detections and upstream correlations,
// walked in dependency order by the collection orchestrator).
type Prior map[string]bool

// Eval implements spec.md §4.F's correlation dispatch. It returns
// (false, nil) for every "no match, no error" outcome described there:
// an unresolved or not-yet-matched dependency, a missing group-by field,
// or a missing value_count field.
func Eval(ctx context.Context, body *Body, ev event.Event, prior Prior, resolve Resolver) (bool, error) {
	if !body.HasState() {
		return false, errNoStateBound
	}

	depIDs := make([]string, len(body.Rules))
	for i, ref := range body.Rules {
		id, ok := resolve(ref)
		if !ok {
			return false, nil
		}
		depIDs[i] = id
	}

	group, ok := corrstate.GroupKey(ev, body.GroupBy)
	if !ok {
		return false, nil
	}

	switch body.Type {
	case EventCount:
		return evalEventCount(ctx, body, group, depIDs, prior)
	case ValueCount:
		return evalValueCount(ctx, body, ev, group, depIDs, prior)
	case Temporal:
		return evalTemporal(ctx, body, group, depIDs, prior)
	case TemporalOrdered:
		return evalTemporalOrdered(ctx, body, group, depIDs, prior)
	default:
		return false, oopsUnknownKind(body.Type)
	}
}

func allPresent(ids []string, prior Prior) bool {
	for _, id := range ids {
		if !prior[id] {
			return false
		}
	}
	return true
}

func evalEventCount(ctx context.Context, body *Body, group string, depIDs []string, prior Prior) (bool, error) {
	if !allPresent(depIDs, prior) {
		return false, nil
	}
	n, err := body.handle.Incr(ctx, corrstate.EventCountKey(group))
	if err != nil {
		return false, err
	}
	return body.Condition.Eval(int64(n)), nil
}

func evalValueCount(ctx context.Context, body *Body, ev event.Event, group string, depIDs []string, prior Prior) (bool, error) {
	if !allPresent(depIDs, prior) {
		return false, nil
	}
	v, present := ev.Field(body.Field)
	if !present {
		return false, nil
	}
	disc := body.Field + ":" + corrstate.Stringify(v)
	n, err := body.handle.Incr(ctx, corrstate.ValueCountKey(group, disc))
	if err != nil {
		return false, err
	}
	return body.Condition.Eval(int64(n)), nil
}

// evalTemporal implements the unordered temporal-proximity correlation:
// every declared dependency must have a live observation within the
// window, regardless of the order those observations happened in.
func evalTemporal(ctx context.Context, body *Body, group string, depIDs []string, prior Prior) (bool, error) {
	allSeen := true
	for _, id := range depIDs {
		if prior[id] {
			if _, err := body.handle.Incr(ctx, corrstate.Key{Group: group, Disc: id}); err != nil {
				return false, err
			}
			continue
		}
		n, err := body.handle.Count(ctx, corrstate.Key{Group: group, Disc: id})
		if err != nil {
			return false, err
		}
		if n == 0 {
			allSeen = false
		}
	}
	return allSeen, nil
}

// evalTemporalOrdered implements the ordered variant: dependencies are
// walked in declared order and the first one with no current-or-prior
// observation aborts the whole match, so a dependency that only showed
// up after a later one in the sequence does not count.
func evalTemporalOrdered(ctx context.Context, body *Body, group string, depIDs []string, prior Prior) (bool, error) {
	for _, id := range depIDs {
		if prior[id] {
			if _, err := body.handle.Incr(ctx, corrstate.Key{Group: group, Disc: id}); err != nil {
				return false, err
			}
			continue
		}
		n, err := body.handle.Count(ctx, corrstate.Key{Group: group, Disc: id})
		if err != nil {
			return false, err
		}
		if n == 0 {
			return false, nil
		}
	}
	return true, nil
}
