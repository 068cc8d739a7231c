package middleware

import (
	"context"

	"github.com/replkit/mrepl-server-go/mrepl"
)

// Compose folds an outer-to-inner middleware stack into one Handler:
// the terminal handler is the innermost layer, and each middleware in
// reverse stack order wraps the handler composed so far. Compose is a
// pure data transformation; it executes nothing.
func Compose(stack []Middleware, terminal Handler) Handler {
	h := terminal
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i].Wrap(h)
	}
	return h
}

// Build linearizes the registry and composes the result around the
// unknown-op fallback. This is the one-call path servers use whenever
// the middleware set changes.
func Build(reg *Registry) (Handler, error) {
	stack, err := Linearize(reg)
	if err != nil {
		return nil, err
	}
	return Compose(stack, UnknownOpHandler()), nil
}

// UnknownOpHandler is the terminal fallback: any message that reaches it
// was claimed by no middleware in the chain, and is answered with the
// unknown-op status on the message's transport.
func UnknownOpHandler() Handler {
	return HandlerFunc(func(ctx context.Context, req *Request) error {
		return req.ReplyStatus(ctx, mrepl.StatusUnknownOp, mrepl.StatusError, mrepl.StatusDone)
	})
}
