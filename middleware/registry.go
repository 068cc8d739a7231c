package middleware

import (
	"fmt"
	"sync"
)

// Registry collects middleware for a composition pass. Registration
// order is preserved and is the linearizer's tie-break, so two passes
// over the same registrations produce the same order.
type Registry struct {
	mu     sync.Mutex
	order  []string
	byName map[string]Middleware
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Middleware)}
}

// Register adds a middleware. Registering a name that is already present
// replaces the earlier entry in place, keeping its original position in
// the registration order. A descriptor with an empty Name is rejected.
func (r *Registry) Register(mw Middleware) error {
	name := mw.Descriptor().Name
	if name == "" {
		return fmt.Errorf("middleware descriptor has no name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		r.order = append(r.order, name)
	}
	r.byName[name] = mw
	return nil
}

// Deregister removes a middleware by name. Removing an unknown name is a
// no-op.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Middlewares returns the registered middleware in registration order.
func (r *Registry) Middlewares() []Middleware {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Middleware, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.byName[name])
	}
	return out
}

// Descriptors returns the registered descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	mws := r.Middlewares()
	out := make([]Descriptor, 0, len(mws))
	for _, mw := range mws {
		out = append(out, mw.Descriptor())
	}
	return out
}

// Ops returns the merged operation directory across all registered
// middleware: op name to its OpSpec. When more than one middleware
// claims an operation, the spec of the earliest-registered claimant
// wins; claiming the same op twice is legal and the ordering machinery,
// not the registry, arbitrates between the claimants.
func (r *Registry) Ops() map[string]OpSpec {
	out := make(map[string]OpSpec)
	for _, d := range r.Descriptors() {
		for op, spec := range d.Handles {
			if _, ok := out[op]; !ok {
				out[op] = spec
			}
		}
	}
	return out
}
