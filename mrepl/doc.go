// Package mrepl defines the message vocabulary shared by every layer of
// the server: the open slot-map message type, the reserved slot names,
// the transport contract used to deliver responses, and the small set of
// conventional status values.
//
// The package is deliberately free of behavior. Everything that acts on
// a message lives in the middleware, ops, and server packages.
package mrepl
