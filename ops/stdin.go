package ops

import (
	"context"

	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/mrepl"
)

// Stdin handles the "stdin" operation: it appends client-supplied input
// to the target session's buffer, where a blocked evaluation picks it
// up.
type Stdin struct{}

func (s *Stdin) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name:    "stdin",
		Expects: []middleware.Ref{"eval"},
		Handles: map[string]middleware.OpSpec{
			"stdin": {
				Doc: "Buffer input for the session's running or future evaluations.",
				Requires: map[string]string{
					"stdin": "Input to buffer: a string or a list of strings.",
				},
			},
		},
	}
}

type stdinArgs struct {
	Stdin []string `mrepl:"stdin"`
}

func (s *Stdin) Wrap(next middleware.Handler) middleware.Handler {
	return middleware.HandlerFunc(func(ctx context.Context, req *middleware.Request) error {
		if req.Msg.Op() != "stdin" {
			return next.Handle(ctx, req)
		}

		// Weak decoding folds a bare string into a one-element list.
		var args stdinArgs
		if err := decodeArgs(req.Msg, &args); err != nil {
			return err
		}
		req.Session.PushStdin(args.Stdin...)
		return req.ReplyStatus(ctx, mrepl.StatusDone)
	})
}
