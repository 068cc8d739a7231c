// Package sessions implements the server's session model: isolated
// execution contexts holding per-client variable bindings, buffered
// stdin, interrupt hooks, and a FIFO execution queue that serializes
// request handling within one session.
//
// The Store interface owns session lifecycle. The in-memory store in
// this package is the default; sessions/redisstore adds a Redis-backed
// store whose sessions survive process restarts and are visible across
// instances.
package sessions
