package mrepl

import "context"

// Transport delivers response messages back to whichever client
// originated a request. Implementations must be safe for concurrent use:
// handlers for distinct sessions may send interleaved.
//
// The core never inspects a transport beyond calling Send.
type Transport interface {
	Send(ctx context.Context, msg Message) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, msg Message) error

func (f TransportFunc) Send(ctx context.Context, msg Message) error { return f(ctx, msg) }
