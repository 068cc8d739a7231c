package middleware

import (
	"fmt"
	"strings"
)

// CyclicError reports an unresolvable ordering cycle in a composition
// pass. Members lists, in registration order, the middleware names that
// could not be placed; the cycle runs among them. Composition fails as a
// whole: no partial order is ever returned alongside a CyclicError.
type CyclicError struct {
	Members []string
}

func (e *CyclicError) Error() string {
	return fmt.Sprintf("cyclic middleware dependency among: %s", strings.Join(e.Members, ", "))
}

// Linearize produces one total order over the registry's middleware
// such that for every ordering edge A -> B, A precedes B. Nodes with no
// relative constraint are ordered by registration, so the result is
// deterministic for a given registration sequence.
func Linearize(reg *Registry) ([]Middleware, error) {
	mws := reg.Middlewares()
	descs := make([]Descriptor, 0, len(mws))
	byName := make(map[string]Middleware, len(mws))
	for _, mw := range mws {
		d := mw.Descriptor()
		descs = append(descs, d)
		byName[d.Name] = mw
	}

	order, err := linearize(buildGraph(descs))
	if err != nil {
		return nil, err
	}

	out := make([]Middleware, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}

// linearize is Kahn's algorithm with a stable frontier: each round scans
// the remaining nodes in registration order and emits the first one
// whose in-degree is zero. Quadratic in the node count, which is fine at
// middleware-stack scale, and buys strict determinism.
func linearize(g *depGraph) ([]string, error) {
	indegree := make(map[string]int, len(g.nodes))
	for _, n := range g.nodes {
		indegree[n] = 0
	}
	for _, succs := range g.succ {
		for to := range succs {
			indegree[to]++
		}
	}

	remaining := append([]string(nil), g.nodes...)
	order := make([]string, 0, len(remaining))

	for len(remaining) > 0 {
		picked := -1
		for i, n := range remaining {
			if indegree[n] == 0 {
				picked = i
				break
			}
		}
		if picked < 0 {
			// Every remaining node is on or downstream of a cycle.
			return nil, &CyclicError{Members: remaining}
		}
		n := remaining[picked]
		remaining = append(remaining[:picked], remaining[picked+1:]...)
		order = append(order, n)
		for to := range g.succ[n] {
			indegree[to]--
		}
	}
	return order, nil
}
