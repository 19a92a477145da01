package selection

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// Kind identifies a modifier variant (spec.md §3's Modifier tagged union).
type Kind int

const (
	KindAll Kind = iota
	KindStartsWith
	KindEndsWith
	KindContains
	KindExists
	KindCased
	KindRegex
	KindBase64
	KindBase64Offset
	KindLt
	KindLte
	KindGt
	KindGte
	KindCidr
	KindExpand
	KindFieldRef
)

// Modifier is one stage of a predicate's modifier pipeline.
type Modifier struct {
	Kind  Kind
	Regex *regexp.Regexp // set when Kind == KindRegex
	B64   string         // regex flags (i/m/s), when Kind == KindRegex; unset for other kinds
}

var modifierNames = map[string]Kind{
	"all":          KindAll,
	"startswith":   KindStartsWith,
	"endswith":     KindEndsWith,
	"contains":     KindContains,
	"exists":       KindExists,
	"cased":        KindCased,
	"re":           KindRegex,
	"regex":        KindRegex,
	"base64":       KindBase64,
	"base64offset": KindBase64Offset,
	"lt":           KindLt,
	"lte":          KindLte,
	"gt":           KindGt,
	"gte":          KindGte,
	"cidr":         KindCidr,
	"expand":       KindExpand,
	"fieldref":     KindFieldRef,
}

// parseModifierPipeline turns the "|"-separated tokens of a predicate key
// (after the field path) into an ordered modifier pipeline. "re"/"regex"
// consumes any immediately following single-character flag tokens (i/m/s)
// as its own regex flags rather than as separate modifiers, matching
// Sigma's `field|re|i` convention.
func parseModifierPipeline(tokens []string) ([]Modifier, error) {
	var mods []Modifier
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		kind, ok := modifierNames[tok]
		if !ok {
			return nil, oops.Code("unknown_modifier").Errorf("unknown modifier: %s", tok)
		}
		if kind != KindRegex {
			mods = append(mods, Modifier{Kind: kind})
			continue
		}
		flags := ""
		for i+1 < len(tokens) && isRegexFlag(tokens[i+1]) {
			flags += tokens[i+1]
			i++
		}
		mods = append(mods, Modifier{Kind: KindRegex, B64: flags})
	}
	return mods, nil
}

func isRegexFlag(s string) bool {
	return s == "i" || s == "m" || s == "s"
}

// compileRegex compiles a single raw pattern with the gathered i/m/s flags
// (spec.md §4.B item 3). The pattern is anchored exactly as written: Sigma
// regex modifiers are never implicitly anchored.
func compileRegex(pattern, flags string) (*regexp.Regexp, error) {
	var prefix string
	for _, f := range flags {
		switch f {
		case 'i':
			prefix += "i"
		case 'm':
			prefix += "m"
		case 's':
			prefix += "s"
		}
	}
	full := pattern
	if prefix != "" {
		full = "(?" + prefix + ")" + pattern
	}
	re, err := regexp.Compile(full)
	if err != nil {
		return nil, oops.Code("invalid_regex").Wrapf(err, "compiling regex %q", pattern)
	}
	return re, nil
}

// eval applies one modifier to a single scalar value against the resolved
// log value (logv may be nil when the field path is absent).
func (m Modifier) eval(logv any, value any, event map[string]any) bool {
	switch m.Kind {
	case KindExists:
		return logv != nil
	case KindStartsWith:
		s, v, ok := asStrings(logv, value)
		return ok && strings.HasPrefix(s, v)
	case KindEndsWith:
		s, v, ok := asStrings(logv, value)
		return ok && strings.HasSuffix(s, v)
	case KindContains:
		s, v, ok := asStrings(logv, value)
		return ok && strings.Contains(s, v)
	case KindCased:
		s, v, ok := asStrings(logv, value)
		return ok && s == v
	case KindRegex:
		if m.Regex == nil {
			return false
		}
		s, ok := logv.(string)
		return ok && m.Regex.MatchString(s)
	case KindBase64, KindBase64Offset, KindExpand:
		// Reserved: parsed without error, evaluates false (spec.md §4.B item 9).
		return false
	case KindLt, KindLte, KindGt, KindGte:
		return evalNumericCompare(m.Kind, logv, value)
	case KindCidr:
		return evalCidr(logv, value)
	case KindFieldRef:
		path, ok := value.(string)
		if !ok {
			return false
		}
		target, present := lookup(event, path)
		return present && valuesEqual(logv, target)
	case KindAll:
		// Handled specially in predicate.go against the full value list.
		return false
	default:
		return false
	}
}

func asStrings(logv, value any) (string, string, bool) {
	ls, ok1 := logv.(string)
	vs, ok2 := value.(string)
	return ls, vs, ok1 && ok2
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func evalNumericCompare(kind Kind, logv, value any) bool {
	lv, ok1 := asNumber(logv)
	vv, ok2 := asNumber(value)
	if !ok1 || !ok2 {
		return false
	}
	switch kind {
	case KindLt:
		return lv < vv
	case KindLte:
		return lv <= vv
	case KindGt:
		return lv > vv
	case KindGte:
		return lv >= vv
	default:
		return false
	}
}

func evalCidr(logv, value any) bool {
	cidrStr, ok := value.(string)
	if !ok {
		return false
	}
	_, network, err := net.ParseCIDR(withMask(cidrStr))
	if err != nil {
		return false
	}
	logStr, ok := logv.(string)
	if !ok {
		return false
	}
	if ip := net.ParseIP(logStr); ip != nil {
		return network.Contains(ip)
	}
	// Event side may itself be a CIDR: require full containment.
	first, last, ok := ipRange(logStr)
	if !ok {
		return false
	}
	return network.Contains(first) && network.Contains(last)
}

// withMask appends a full-width mask to a bare IP so net.ParseCIDR accepts
// single-IP predicates per spec.md §4.B item 7.
func withMask(s string) string {
	if strings.Contains(s, "/") {
		return s
	}
	if strings.Contains(s, ":") {
		return s + "/128"
	}
	return s + "/32"
}

func ipRange(s string) (net.IP, net.IP, bool) {
	if ip := net.ParseIP(s); ip != nil {
		return ip, ip, true
	}
	_, network, err := net.ParseCIDR(s)
	if err != nil {
		return nil, nil, false
	}
	first := network.IP
	last := make(net.IP, len(first))
	for i := range first {
		last[i] = first[i] | ^network.Mask[i]
	}
	return first, last, true
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, aok := asNumber(a); aok {
		if bf, bok := asNumber(b); bok {
			return af == bf
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
