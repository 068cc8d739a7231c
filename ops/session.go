package ops

import (
	"context"
	"errors"

	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/mrepl"
	"github.com/replkit/mrepl-server-go/sessions"
)

// Session handles the session lifecycle verbs: clone, close, and
// ls-sessions. It must be ordered outside evaluation so lifecycle
// messages are resolved before code runs in a session.
type Session struct{}

func (s *Session) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name:    "session",
		Expects: []middleware.Ref{"eval"},
		Handles: map[string]middleware.OpSpec{
			"clone": {
				Doc: "Clone the message's session; without a session slot, effectively creates a fresh one.",
				Optional: map[string]string{
					"session": "Session to clone.",
				},
				Returns: map[string]string{
					"new-session": "Id of the newly created session.",
				},
			},
			"close": {
				Doc: "Close the message's session, releasing its resources.",
				Requires: map[string]string{
					"session": "Session to close.",
				},
			},
			"ls-sessions": {
				Doc: "List the ids of all live sessions.",
				Returns: map[string]string{
					"sessions": "Ids of all live sessions.",
				},
			},
		},
	}
}

func (s *Session) Wrap(next middleware.Handler) middleware.Handler {
	return middleware.HandlerFunc(func(ctx context.Context, req *middleware.Request) error {
		switch req.Msg.Op() {
		case "clone":
			return s.clone(ctx, req)
		case "close":
			return s.close(ctx, req)
		case "ls-sessions":
			return s.list(ctx, req)
		}
		return next.Handle(ctx, req)
	})
}

func (s *Session) clone(ctx context.Context, req *middleware.Request) error {
	// The dispatcher already resolved a session for the message (a fresh
	// ephemeral one when the client named none), so cloning it covers
	// both "copy my session" and "give me a new session".
	clone, err := req.Store.Clone(ctx, req.Session.ID())
	if err != nil {
		return err
	}
	return req.Reply(ctx, map[string]any{
		"new-session":    clone.ID(),
		mrepl.SlotStatus: []string{mrepl.StatusDone},
	})
}

func (s *Session) close(ctx context.Context, req *middleware.Request) error {
	if req.Msg.Session() == "" {
		resp := mrepl.ResponseStatus(req.Msg, mrepl.StatusError, mrepl.StatusDone)
		resp["err"] = "close requires a session slot"
		return req.Transport.Send(ctx, resp)
	}
	// Closing fires this message's own cancellation hook; reply on an
	// uncancelable context so the acknowledgement still goes out.
	ackCtx := context.WithoutCancel(ctx)
	if err := req.Store.Close(ctx, req.Session.ID()); err != nil {
		if errors.Is(err, sessions.ErrSessionNotFound) {
			return req.ReplyStatus(ackCtx, mrepl.StatusUnknownSession, mrepl.StatusError, mrepl.StatusDone)
		}
		return err
	}
	return req.ReplyStatus(ackCtx, mrepl.StatusSessionClosed, mrepl.StatusDone)
}

func (s *Session) list(ctx context.Context, req *middleware.Request) error {
	ids, err := req.Store.IDs(ctx)
	if err != nil {
		return err
	}
	return req.Reply(ctx, map[string]any{
		"sessions":       ids,
		mrepl.SlotStatus: []string{mrepl.StatusDone},
	})
}
