package condition

import (
	"strconv"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// conditionLexer tokenizes a Sigma condition string. Identifiers may not
// start with a digit, which disambiguates them from the integer count in
// "N of" without backtracking (Sigma selection names never do in practice).
var conditionLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Ident", Pattern: `[A-Za-z_*?][A-Za-z0-9_*?]*`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "whitespace", Pattern: `\s+`},
})

// grammar, precedence low to high: or, and, not, N-of. Chains of "or" and
// "and" are folded left-associatively by buildOr/buildAnd.

type grammarExpr struct {
	Pos lexer.Position `parser:""`
	Or  *grammarOr     `parser:"@@"`
}

type grammarOr struct {
	Left *grammarAnd   `parser:"@@"`
	Rest []*grammarAnd `parser:"('or' @@)*"`
}

type grammarAnd struct {
	Left *grammarPrefix   `parser:"@@"`
	Rest []*grammarPrefix `parser:"('and' @@)*"`
}

type grammarPrefix struct {
	Not  *grammarPrefix `parser:"'not' @@"`
	XOf  *grammarXOf    `parser:"| @@"`
	Atom *grammarAtom   `parser:"| @@"`
}

type grammarXOf struct {
	Count  string         `parser:"( @'all' | @Int )"`
	Of     string         `parser:"@'of'"`
	Target *grammarPrefix `parser:"@@"`
}

type grammarAtom struct {
	Ident string       `parser:"@Ident"`
	Sub   *grammarExpr `parser:"| '(' @@ ')'"`
}

var conditionParser = participle.MustBuild[grammarExpr](
	participle.Lexer(conditionLexer),
	participle.Elide("whitespace"),
	participle.UseLookahead(2),
)

// Parse parses a Sigma condition string (spec.md §4.A's EBNF grammar) into
// an evaluatable Condition. Parse errors carry the offending source
// location via github.com/samber/oops.
func Parse(source string) (*Condition, error) {
	parsed, err := conditionParser.ParseString("", source)
	if err != nil {
		return nil, oops.Code("condition_parse_error").
			With("source", source).
			Wrapf(err, "parsing condition expression")
	}
	root, err := buildOr(parsed.Or)
	if err != nil {
		return nil, oops.Code("condition_parse_error").
			With("source", source).
			Wrap(err)
	}
	return &Condition{Source: source, root: root}, nil
}

func buildOr(g *grammarOr) (Node, error) {
	left, err := buildAnd(g.Left)
	if err != nil {
		return nil, err
	}
	for _, r := range g.Rest {
		right, err := buildAnd(r)
		if err != nil {
			return nil, err
		}
		left = Or{Left: left, Right: right}
	}
	return left, nil
}

func buildAnd(g *grammarAnd) (Node, error) {
	left, err := buildPrefix(g.Left)
	if err != nil {
		return nil, err
	}
	for _, r := range g.Rest {
		right, err := buildPrefix(r)
		if err != nil {
			return nil, err
		}
		left = And{Left: left, Right: right}
	}
	return left, nil
}

func buildPrefix(g *grammarPrefix) (Node, error) {
	switch {
	case g.Not != nil:
		inner, err := buildPrefix(g.Not)
		if err != nil {
			return nil, err
		}
		return Not{Inner: inner}, nil
	case g.XOf != nil:
		return buildXOf(g.XOf)
	case g.Atom != nil:
		return buildAtom(g.Atom)
	default:
		return nil, oops.Errorf("empty prefix expression")
	}
}

func buildXOf(g *grammarXOf) (Node, error) {
	target, err := buildPrefix(g.Target)
	if err != nil {
		return nil, err
	}
	pattern, err := patternOf(target)
	if err != nil {
		return nil, err
	}
	compiled, err := glob.Compile(pattern)
	if err != nil {
		return nil, oops.Code("condition_parse_error").With("pattern", pattern).
			Wrapf(err, "compiling glob pattern %q", pattern)
	}
	if g.Count == "all" {
		return &AllOf{Pattern: pattern, compiled: compiled}, nil
	}
	n, err := strconv.Atoi(g.Count)
	if err != nil {
		return nil, oops.Wrapf(err, "invalid N-of count %q", g.Count)
	}
	return &NOf{Count: n, Pattern: pattern, compiled: compiled}, nil
}

// patternOf extracts the glob pattern an "N of"/"all of" clause applies to.
// The grammar parses any prefix expression there; only an identifier
// (possibly parenthesized) is accepted, anything else is an error.
func patternOf(n Node) (string, error) {
	id, ok := n.(Identifier)
	if !ok {
		return "", oops.Errorf("'of' must be followed by a selection name or glob pattern")
	}
	return id.Name, nil
}

func buildAtom(g *grammarAtom) (Node, error) {
	if g.Sub != nil {
		return buildOr(g.Sub.Or)
	}
	return Identifier{Name: g.Ident}, nil
}
