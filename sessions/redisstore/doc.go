// Package redisstore provides a Redis-backed sessions.Store. Binding
// snapshots and session liveness live in Redis, so sessions created by
// one server instance can be looked up (and cloned) by another, and
// survive a restart. Execution serialization stays instance-local: the
// FIFO turn queue of a rehydrated session belongs to the instance that
// rehydrated it.
package redisstore
