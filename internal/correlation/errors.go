package correlation

import "github.com/samber/oops"

var errStateAlreadyBound = oops.Code("state_already_bound").Errorf("correlation body already bound to a state handle")

// errNoStateBound marks an Eval call against a Body that was never
// registered against a backend (spec.md §7's StateError taxonomy).
var errNoStateBound = oops.Code("state_not_bound").Errorf("correlation body has no bound state handle")

func oopsUnknownKind(k Kind) error {
	return oops.Code("unknown_correlation_kind").With("kind", string(k)).Errorf("unknown correlation kind %q", k)
}
