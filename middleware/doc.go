// Package middleware implements the composition core of the server:
// declarative ordering descriptors attached to middleware units, the
// registry that collects them, the dependency graph derived from their
// requires/expects constraints, the deterministic linearization of that
// graph, and the fold that turns the linearized stack into one
// executable Handler terminated by the unknown-op fallback.
//
// The package knows nothing about any particular operation. Operations
// are names; a middleware claims them through its descriptor's Handles
// map and the composition machinery only ever compares strings.
package middleware
