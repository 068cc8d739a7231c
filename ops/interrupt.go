package ops

import (
	"context"

	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/mrepl"
	"github.com/replkit/mrepl-server-go/sessions"
)

// Interrupt handles the "interrupt" operation: it cancels the target
// session's currently executing operation without touching any other
// session. The dispatcher runs it outside the session queue, so it is
// effective even while the session is busy.
type Interrupt struct{}

func (i *Interrupt) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name:     "interrupt",
		Requires: []middleware.Ref{"clone", "close"},
		Expects:  []middleware.Ref{"eval"},
		Handles: map[string]middleware.OpSpec{
			"interrupt": {
				Doc: "Interrupt the session's running operation.",
				Requires: map[string]string{
					"session": "Session whose operation to interrupt.",
				},
				Optional: map[string]string{
					"interrupt-id": "Id of the message to interrupt; defaults to whatever is running.",
				},
			},
		},
	}
}

type interruptArgs struct {
	InterruptID string `mrepl:"interrupt-id"`
}

func (i *Interrupt) Wrap(next middleware.Handler) middleware.Handler {
	return middleware.HandlerFunc(func(ctx context.Context, req *middleware.Request) error {
		if req.Msg.Op() != "interrupt" {
			return next.Handle(ctx, req)
		}

		var args interruptArgs
		if err := decodeArgs(req.Msg, &args); err != nil {
			return err
		}

		fired := false
		if args.InterruptID == "" {
			fired = req.Session.InterruptOthers(req.Msg.ID(), sessions.ErrInterrupted)
		} else {
			fired = req.Session.Interrupt(args.InterruptID, sessions.ErrInterrupted)
		}
		if !fired {
			resp := mrepl.ResponseStatus(req.Msg, mrepl.StatusError, mrepl.StatusDone)
			resp["err"] = "nothing to interrupt"
			return req.Transport.Send(ctx, resp)
		}
		return req.ReplyStatus(ctx, mrepl.StatusDone)
	})
}
