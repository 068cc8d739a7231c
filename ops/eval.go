package ops

import (
	"context"
	"sync"

	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/mrepl"
)

// Eval handles the "eval" operation by delegating to an Evaluator.
type Eval struct {
	Evaluator Evaluator
}

func (e *Eval) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name: "eval",
		// Session management must sit outside evaluation so session verbs
		// are resolved before code runs in one.
		Requires: []middleware.Ref{"clone", "close"},
		Handles: map[string]middleware.OpSpec{
			"eval": {
				Doc: "Evaluate code in the message's session.",
				Requires: map[string]string{
					"code": "Source text to evaluate.",
				},
				Optional: map[string]string{
					"file-path": "Origin path of the code, for diagnostics.",
				},
				Returns: map[string]string{
					"value": "Printed result of the evaluation.",
					"out":   "Evaluation output, possibly across several responses.",
				},
			},
		},
	}
}

type evalArgs struct {
	Code string `mrepl:"code"`
}

func (e *Eval) Wrap(next middleware.Handler) middleware.Handler {
	return middleware.HandlerFunc(func(ctx context.Context, req *middleware.Request) error {
		if req.Msg.Op() != "eval" {
			return next.Handle(ctx, req)
		}

		var args evalArgs
		if err := decodeArgs(req.Msg, &args); err != nil {
			return err
		}
		if args.Code == "" {
			resp := mrepl.ResponseStatus(req.Msg, mrepl.StatusError, mrepl.StatusDone)
			resp["err"] = "eval requires a code slot"
			return req.Transport.Send(ctx, resp)
		}

		value, err := e.Evaluator.Eval(ctx, req.Session, args.Code, evalIOFor(ctx, req))
		if err != nil {
			if ctx.Err() != nil {
				return req.ReplyStatus(ctx, mrepl.StatusInterrupted, mrepl.StatusDone)
			}
			resp := mrepl.ResponseStatus(req.Msg, mrepl.StatusError, mrepl.StatusDone)
			resp["err"] = err.Error()
			return req.Transport.Send(ctx, resp)
		}

		if err := req.Reply(ctx, map[string]any{"value": value}); err != nil {
			return err
		}
		return req.ReplyStatus(ctx, mrepl.StatusDone)
	})
}

// evalIOFor binds an EvalIO to the request: stdout chunks become "out"
// responses and reads come from the session's stdin buffer, asking the
// client for more with need-input when the buffer runs dry.
func evalIOFor(ctx context.Context, req *middleware.Request) EvalIO {
	return EvalIO{
		Stdout: &outWriter{ctx: ctx, req: req},
		ReadLine: func(ctx context.Context) (string, error) {
			if req.Session.PendingStdin() == 0 {
				if err := req.ReplyStatus(ctx, mrepl.StatusNeedInput); err != nil {
					return "", err
				}
			}
			return req.Session.ReadStdin(ctx)
		},
	}
}

// outWriter streams writes as "out" slot responses.
type outWriter struct {
	ctx context.Context
	req *middleware.Request
	mu  sync.Mutex
}

func (w *outWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.req.Reply(w.ctx, map[string]any{"out": string(p)}); err != nil {
		return 0, err
	}
	return len(p), nil
}
