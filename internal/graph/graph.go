// Package graph maintains the dependency graph over rule ids that
// drives correlation traversal order (spec.md §4.G): nodes are rule
// ids, edges run from a dependency to its dependent, and the graph
// recomputes a full topological order (and each node's transitive
// ancestor set) on every mutation so cycles are refused at construction
// time rather than discovered mid-traversal.
package graph

import (
	"sort"

	"github.com/samber/oops"
)

func errDuplicateNode(id string) error {
	return oops.Code("duplicate_node").With("id", id).Errorf("rule id %q already present in dependency graph", id)
}

func errUnknownDependency(id, dep string) error {
	return oops.Code("unknown_dependency").With("id", id).With("dependency", dep).
		Errorf("dependency %q referenced by %q does not exist", dep, id)
}

func errCycle(id string, cause error) error {
	return oops.Code("dependency_cycle").With("id", id).Wrapf(cause, "adding %q would create a dependency cycle", id)
}

// Graph is not safe for concurrent mutation; the collection orchestrator
// serialises rule additions (spec.md §7: "add is atomic").
type Graph struct {
	deps      map[string][]string      // id -> direct dependency ids
	dependent map[string][]string      // id -> ids that directly depend on it
	order     []string                 // cached topological order
	ancestors map[string]map[string]bool // id -> full transitive ancestor set
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		deps:      make(map[string][]string),
		dependent: make(map[string][]string),
		ancestors: make(map[string]map[string]bool),
	}
}

// Has reports whether id is already a node.
func (g *Graph) Has(id string) bool {
	_, ok := g.deps[id]
	return ok
}

// AddNode adds id with the given direct dependency ids, all of which
// must already be present in the graph. On any error the graph is left
// exactly as it was before the call (atomic add, spec.md §7).
func (g *Graph) AddNode(id string, dependencyIDs []string) error {
	if g.Has(id) {
		return errDuplicateNode(id)
	}
	for _, dep := range dependencyIDs {
		if !g.Has(dep) {
			return errUnknownDependency(id, dep)
		}
	}

	// Stage the mutation so a detected cycle can be rolled back cleanly.
	g.deps[id] = append([]string(nil), dependencyIDs...)
	for _, dep := range dependencyIDs {
		g.dependent[dep] = append(g.dependent[dep], id)
	}

	order, err := topoSort(g.deps)
	if err != nil {
		g.removeStaged(id, dependencyIDs)
		return errCycle(id, err)
	}
	g.order = order
	g.ancestors = computeAncestors(g.deps, order)
	return nil
}

func (g *Graph) removeStaged(id string, dependencyIDs []string) {
	delete(g.deps, id)
	for _, dep := range dependencyIDs {
		list := g.dependent[dep]
		for i, d := range list {
			if d == id {
				g.dependent[dep] = append(list[:i], list[i+1:]...)
				break
			}
		}
	}
}

// Order returns the cached topological order of all node ids
// (dependencies before dependents).
func (g *Graph) Order() []string {
	return append([]string(nil), g.order...)
}

// Ancestors returns the full transitive dependency set of id.
func (g *Graph) Ancestors(id string) map[string]bool {
	return g.ancestors[id]
}

// IsCandidate reports whether id or any of its transitive ancestors is
// present in prior (spec.md §4.G: "a node is a candidate iff some
// ancestor, or the node itself, is already in the prior set").
func (g *Graph) IsCandidate(id string, prior map[string]bool) bool {
	if prior[id] {
		return true
	}
	for anc := range g.ancestors[id] {
		if prior[anc] {
			return true
		}
	}
	return false
}

// topoSort runs Kahn's algorithm over deps (id -> its dependency ids),
// returning an error if a cycle is present.
func topoSort(deps map[string][]string) ([]string, error) {
	// indegree counts, here, is the number of dependencies each node still
	// has to see discharged before it can be emitted.
	indegree := make(map[string]int, len(deps))
	dependents := make(map[string][]string, len(deps))
	for id, ds := range deps {
		indegree[id] = len(ds)
		for _, d := range ds {
			dependents[d] = append(dependents[d], id)
		}
	}

	// Sort ids before queuing so that two collections built from the same
	// rule set in different insertion orders still traverse identically.
	queue := make([]string, 0, len(deps))
	for id, n := range indegree {
		if n == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	order := make([]string, 0, len(deps))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		ready := make([]string, 0, len(dependents[id]))
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
		sort.Strings(ready)
		queue = append(queue, ready...)
	}

	if len(order) != len(deps) {
		return nil, oops.Errorf("cycle detected among %d unresolved node(s)", len(deps)-len(order))
	}
	return order, nil
}

// computeAncestors derives each node's full transitive dependency set
// by walking the topological order forward: since every dependency of a
// node precedes it, its ancestor set is the union of its direct
// dependencies' own (already-computed) ancestor sets plus those
// dependencies themselves.
func computeAncestors(deps map[string][]string, order []string) map[string]map[string]bool {
	ancestors := make(map[string]map[string]bool, len(deps))
	for _, id := range order {
		set := make(map[string]bool)
		for _, dep := range deps[id] {
			set[dep] = true
			for a := range ancestors[dep] {
				set[a] = true
			}
		}
		ancestors[id] = set
	}
	return ancestors
}
