package middleware

import (
	"context"

	"github.com/replkit/mrepl-server-go/mrepl"
	"github.com/replkit/mrepl-server-go/sessions"
)

// Request is the unit of work flowing through a composed handler chain:
// the inbound message, the transport responses go back on, and the
// session the dispatcher resolved for it. The session reference is
// borrowed; ownership stays with the session store.
type Request struct {
	Msg       mrepl.Message
	Transport mrepl.Transport
	Session   *sessions.Session

	// Store gives session-managing middleware access to lifecycle
	// operations. Most middleware ignores it.
	Store sessions.Store
}

// Reply sends a response correlated to the request, with the given
// extra slots merged in.
func (r *Request) Reply(ctx context.Context, slots map[string]any) error {
	resp := mrepl.Response(r.Msg)
	for k, v := range slots {
		resp[k] = v
	}
	return r.Transport.Send(ctx, resp)
}

// ReplyStatus sends a response carrying only the given statuses.
func (r *Request) ReplyStatus(ctx context.Context, statuses ...string) error {
	return r.Transport.Send(ctx, mrepl.ResponseStatus(r.Msg, statuses...))
}

// Handler processes one request, sending zero or more responses on the
// request's transport. Returning an error means the handler could not
// produce a response itself; the dispatcher converts it to an error
// status where possible.
type Handler interface {
	Handle(ctx context.Context, req *Request) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, req *Request) error

func (f HandlerFunc) Handle(ctx context.Context, req *Request) error { return f(ctx, req) }
