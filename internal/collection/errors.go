package collection

import "github.com/samber/oops"

func errDuplicateID(id string) error {
	return oops.Code("duplicate_rule_id").With("id", id).Errorf("rule id %q already present in collection", id)
}

func errMissingDependency(id, ref string) error {
	return oops.Code("missing_dependency").With("id", id).With("ref", ref).
		Errorf("correlation %q references unknown rule or name %q", id, ref)
}

func errStateRegistration(id string, cause error) error {
	return oops.Code("state_registration_failed").With("id", id).Wrapf(cause, "registering backend state for rule %q", id)
}
