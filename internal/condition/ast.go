// Package condition parses and evaluates Sigma condition expressions: the
// boolean/quantified glue (`and`, `or`, `not`, `N of`, `all of`) that
// combines a detection rule's named selections into a single verdict.
package condition

import "github.com/gobwas/glob"

// Node is the condition AST (spec §4.A's ConditionAST variant).
type Node interface {
	node()
}

// Identifier references a selection name directly.
type Identifier struct {
	Name string
}

// Not negates its operand.
type Not struct {
	Inner Node
}

// NOf is true iff at least Count selection names matching Pattern evaluated
// true. Pattern is compiled once at parse time (buildXOf) since a
// Condition is immutable after construction and spec.md §5 allows Eval to
// be invoked concurrently from many callers — compiling lazily on first
// Eval would race.
type NOf struct {
	Count   int
	Pattern string

	compiled glob.Glob
}

// AllOf is true iff every selection name matching Pattern evaluated true.
// Vacuously true when no name matches (spec.md §9 open question 3).
// Pattern is compiled once at parse time, same as NOf.
type AllOf struct {
	Pattern string

	compiled glob.Glob
}

// And is the short-circuiting conjunction of two nodes.
type And struct{ Left, Right Node }

// Or is the short-circuiting disjunction of two nodes.
type Or struct{ Left, Right Node }

func (Identifier) node() {}
func (Not) node()        {}
func (*NOf) node()       {}
func (*AllOf) node()     {}
func (And) node()        {}
func (Or) node()         {}

// Condition is a parsed condition expression ready for repeated evaluation.
type Condition struct {
	Source string
	root   Node
}

// Eval evaluates the condition against a truth table mapping selection name
// to its boolean result, and the set of selection names currently in scope
// (used to expand N-of/all-of glob patterns). A missing identifier
// evaluates to false, per spec.md §4.A.
func (c *Condition) Eval(truth map[string]bool, selectionNames []string) bool {
	return eval(c.root, truth, selectionNames)
}

func eval(n Node, truth map[string]bool, names []string) bool {
	switch v := n.(type) {
	case Identifier:
		return truth[v.Name]
	case Not:
		return !eval(v.Inner, truth, names)
	case And:
		return eval(v.Left, truth, names) && eval(v.Right, truth, names)
	case Or:
		return eval(v.Left, truth, names) || eval(v.Right, truth, names)
	case *NOf:
		matched := 0
		for _, name := range names {
			if v.compiled.Match(name) && truth[name] {
				matched++
				if matched >= v.Count {
					return true
				}
			}
		}
		return matched >= v.Count
	case *AllOf:
		for _, name := range names {
			if v.compiled.Match(name) && !truth[name] {
				return false
			}
		}
		return true
	default:
		return false
	}
}
