// Package server glues the composition core to the session model: the
// Dispatcher routes inbound messages to their session's execution queue
// and invokes the composed handler under the per-session serialization
// guarantee, and Server bundles registry, store, and dispatcher into the
// unit transports serve.
package server
