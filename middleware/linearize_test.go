package middleware

import (
	"errors"
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// nopWrap builds a middleware that passes requests straight through.
func nopWrap(next Handler) Handler { return next }

func mw(name string, requires, expects []Ref, handles ...string) Middleware {
	h := make(map[string]OpSpec, len(handles))
	for _, op := range handles {
		h[op] = OpSpec{Doc: "test op " + op}
	}
	return New(Descriptor{Name: name, Requires: requires, Expects: expects, Handles: h}, nopWrap)
}

func registryOf(t testing.TB, mws ...Middleware) *Registry {
	t.Helper()
	reg := NewRegistry()
	for _, m := range mws {
		if err := reg.Register(m); err != nil {
			t.Fatalf("register %s: %v", m.Descriptor().Name, err)
		}
	}
	return reg
}

func names(stack []Middleware) []string {
	out := make([]string, len(stack))
	for i, m := range stack {
		out[i] = m.Descriptor().Name
	}
	return out
}

func index(t *testing.T, order []string, name string) int {
	t.Helper()
	for i, n := range order {
		if n == name {
			return i
		}
	}
	t.Fatalf("middleware %q missing from order %v", name, order)
	return -1
}

func TestLinearizeDirectRefs(t *testing.T) {
	// c requires b, b requires a: order must be a, b, c regardless of
	// registration order.
	reg := registryOf(t,
		mw("c", []Ref{"b"}, nil),
		mw("a", nil, nil),
		mw("b", []Ref{"a"}, nil),
	)

	stack, err := Linearize(reg)
	if err != nil {
		t.Fatalf("linearize: %v", err)
	}
	order := names(stack)
	if !(index(t, order, "a") < index(t, order, "b") && index(t, order, "b") < index(t, order, "c")) {
		t.Fatalf("order %v violates a < b < c", order)
	}
}

func TestLinearizeExpectsIsSymmetric(t *testing.T) {
	// a expects b: a must be outer (earlier) than b.
	reg := registryOf(t,
		mw("b", nil, nil),
		mw("a", nil, []Ref{"b"}),
	)

	stack, err := Linearize(reg)
	if err != nil {
		t.Fatalf("linearize: %v", err)
	}
	order := names(stack)
	if index(t, order, "a") > index(t, order, "b") {
		t.Fatalf("order %v violates a before b", order)
	}
}

func TestLinearizeOpNameFansOutToAllHandlers(t *testing.T) {
	// Two middleware handle "eval"; one requires the op by name and must
	// end up after both of them.
	reg := registryOf(t,
		mw("needs-eval", []Ref{"eval"}, nil),
		mw("eval-a", nil, nil, "eval"),
		mw("eval-b", nil, nil, "eval"),
	)

	stack, err := Linearize(reg)
	if err != nil {
		t.Fatalf("linearize: %v", err)
	}
	order := names(stack)
	at := index(t, order, "needs-eval")
	if at < index(t, order, "eval-a") || at < index(t, order, "eval-b") {
		t.Fatalf("order %v does not place needs-eval after every eval handler", order)
	}
}

func TestLinearizeUnresolvedOpRefIsVacuous(t *testing.T) {
	reg := registryOf(t,
		mw("a", []Ref{"no-such-op"}, []Ref{"also-missing"}),
		mw("b", nil, nil),
	)

	if _, err := Linearize(reg); err != nil {
		t.Fatalf("unresolved op refs must not fail composition: %v", err)
	}
}

func TestLinearizeDeterministicAcrossRuns(t *testing.T) {
	build := func() *Registry {
		return registryOf(t,
			mw("log", nil, []Ref{"eval"}),
			mw("session", nil, []Ref{"eval"}, "clone", "close"),
			mw("eval", []Ref{"clone"}, nil, "eval"),
			mw("describe", nil, nil, "describe"),
			mw("stdin", nil, []Ref{"eval"}, "stdin"),
		)
	}

	first, err := Linearize(build())
	if err != nil {
		t.Fatalf("linearize: %v", err)
	}
	for i := 0; i < 25; i++ {
		again, err := Linearize(build())
		if err != nil {
			t.Fatalf("linearize run %d: %v", i, err)
		}
		a, b := names(first), names(again)
		if fmt.Sprint(a) != fmt.Sprint(b) {
			t.Fatalf("run %d produced %v, first run produced %v", i, b, a)
		}
	}
}

func TestLinearizeDirectCycle(t *testing.T) {
	reg := registryOf(t,
		mw("a", []Ref{"b"}, nil),
		mw("b", []Ref{"a"}, nil),
	)

	stack, err := Linearize(reg)
	if stack != nil {
		t.Fatalf("expected no partial order, got %v", names(stack))
	}
	var cyc *CyclicError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicError, got %v", err)
	}
	got := map[string]bool{}
	for _, n := range cyc.Members {
		got[n] = true
	}
	if !got["a"] || !got["b"] {
		t.Fatalf("cycle members %v missing participants", cyc.Members)
	}
}

func TestLinearizeOpNameCycle(t *testing.T) {
	// a handles "x" and requires "y"; b handles "y" and requires "x".
	// The cycle runs through operation-name resolution.
	reg := registryOf(t,
		mw("a", []Ref{"y"}, nil, "x"),
		mw("b", []Ref{"x"}, nil, "y"),
	)

	_, err := Linearize(reg)
	var cyc *CyclicError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicError, got %v", err)
	}
}

func TestLinearizeSelfRefIsNotACycle(t *testing.T) {
	// Middleware requiring an op it also handles constrains itself only
	// against the other handlers of that op.
	reg := registryOf(t,
		mw("a", []Ref{"ping"}, nil, "ping"),
	)
	if _, err := Linearize(reg); err != nil {
		t.Fatalf("self op ref must not form a cycle: %v", err)
	}
}

// TestLinearizeRespectsAllEdges generates random acyclic constraint sets
// and checks that every derived edge holds in the produced order.
func TestLinearizeRespectsAllEdges(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		mws := make([]Middleware, n)
		// Constraints only point from lower to higher index, so the set is
		// acyclic by construction.
		type edge struct{ from, to int }
		var edges []edge
		for i := 0; i < n; i++ {
			var requires []Ref
			for j := 0; j < i; j++ {
				if rapid.Bool().Draw(rt, fmt.Sprintf("req_%d_%d", i, j)) {
					requires = append(requires, Ref(fmt.Sprintf("m%d", j)))
					edges = append(edges, edge{from: j, to: i})
				}
			}
			mws[i] = mw(fmt.Sprintf("m%d", i), requires, nil)
		}

		reg := NewRegistry()
		// Shuffled registration order must not affect validity.
		for _, i := range rapid.Permutation(seq(n)).Draw(rt, "order") {
			if err := reg.Register(mws[i]); err != nil {
				rt.Fatalf("register: %v", err)
			}
		}

		stack, err := Linearize(reg)
		if err != nil {
			rt.Fatalf("linearize acyclic set: %v", err)
		}
		pos := make(map[string]int, n)
		for i, m := range stack {
			pos[m.Descriptor().Name] = i
		}
		for _, e := range edges {
			from, to := fmt.Sprintf("m%d", e.from), fmt.Sprintf("m%d", e.to)
			if pos[from] >= pos[to] {
				rt.Fatalf("edge %s -> %s violated in %v", from, to, names(stack))
			}
		}
	})
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
