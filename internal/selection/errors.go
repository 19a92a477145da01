package selection

import "github.com/samber/oops"

func errInvalidRegexValue(key string) error {
	return oops.Code("invalid_regex_value").With("key", key).Errorf("regex modifier requires a single string value")
}

func errInvalidPredicateValue() error {
	return oops.Code("invalid_predicate_value").Errorf("predicate value must be a scalar or sequence of scalars")
}

func errInvalidGlobValue(key, value string) error {
	return oops.Code("invalid_glob_value").With("key", key).With("value", value).Errorf("invalid wildcard pattern")
}
