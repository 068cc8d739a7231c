package middleware

// depGraph is the directed ordering graph over middleware names for one
// composition pass. An edge A -> B means A must be strictly earlier
// (more outer) than B in the final order. That convention is the single
// source of truth consumed by the linearizer.
type depGraph struct {
	// nodes in registration order; the linearizer's tie-break relies on
	// this ordering being stable.
	nodes []string
	// succ[A] holds the set of B with an edge A -> B.
	succ map[string]map[string]bool
}

// buildGraph resolves every requires/expects ref in the descriptor set
// into concrete edges. Direct refs (matching a descriptor name in the
// pass) resolve to that one node; anything else is treated as an
// operation name and fans out to every middleware handling it. An
// operation ref with no handler in the pass contributes no edge.
func buildGraph(descs []Descriptor) *depGraph {
	g := &depGraph{succ: make(map[string]map[string]bool)}

	names := make(map[string]bool, len(descs))
	handlers := make(map[string][]string) // op -> handler names, registration order
	for _, d := range descs {
		g.nodes = append(g.nodes, d.Name)
		names[d.Name] = true
		g.succ[d.Name] = make(map[string]bool)
	}
	for _, d := range descs {
		for op := range d.Handles {
			handlers[op] = append(handlers[op], d.Name)
		}
	}

	resolve := func(ref Ref) []string {
		if names[string(ref)] {
			return []string{string(ref)}
		}
		return handlers[string(ref)]
	}

	for _, d := range descs {
		for _, ref := range d.Requires {
			for _, target := range resolve(ref) {
				g.addEdge(target, d.Name)
			}
		}
		for _, ref := range d.Expects {
			for _, target := range resolve(ref) {
				g.addEdge(d.Name, target)
			}
		}
	}
	return g
}

// addEdge records from -> to. Self-edges are dropped: a middleware that
// handles an operation it also requires or expects constrains itself
// against the other handlers of that operation, not against itself.
func (g *depGraph) addEdge(from, to string) {
	if from == to {
		return
	}
	g.succ[from][to] = true
}
