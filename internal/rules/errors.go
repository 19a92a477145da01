package rules

import "github.com/samber/oops"

// ParseError-tier: malformed YAML, invalid timespan, missing required
// header field, a document naming neither detection nor correlation.

func errRequired(field string) error {
	return oops.Code("parse_error").With("field", field).Errorf("%s is required", field)
}

func errMalformedDocument() error {
	return oops.Code("parse_error").Errorf("rule document must be a YAML mapping")
}

func errMissingBody(id string) error {
	return oops.Code("parse_error").With("id", id).Errorf("rule %q has neither detection nor correlation", id)
}

func errBothBodies(id string) error {
	return oops.Code("parse_error").With("id", id).Errorf("rule %q declares both detection and correlation", id)
}

func errInvalidTimespan(raw string) error {
	return oops.Code("parse_error").With("timespan", raw).Errorf("invalid timespan %q: want <number><s|m|h|d>", raw)
}

func errUnknownCorrelationType(typ string) error {
	return oops.Code("parse_error").With("type", typ).Errorf("unknown correlation type %q", typ)
}

func errInvalidCondExpr(key, raw string) error {
	return oops.Code("parse_error").With("key", key).With("value", raw).Errorf("correlation condition.%s must be an integer", key)
}
