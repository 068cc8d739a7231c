package ops

import (
	"context"
	"io"

	"github.com/replkit/mrepl-server-go/sessions"
)

// EvalIO is the I/O surface handed to an Evaluator for one evaluation:
// anything written to Stdout is streamed to the client as "out"
// responses, and ReadLine consumes the session's buffered stdin,
// signalling the client with a need-input status when the buffer is
// empty.
type EvalIO struct {
	Stdout   io.Writer
	ReadLine func(ctx context.Context) (string, error)
}

// Evaluator supplies the host language semantics the core deliberately
// does not define. Implementations read and mutate bindings through the
// session reference; the eval middleware guarantees it is only called
// while the session's execution turn is held. The returned value goes
// out raw; rendering is the print middleware's concern.
type Evaluator interface {
	Eval(ctx context.Context, sess *sessions.Session, code string, eio EvalIO) (value any, err error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, sess *sessions.Session, code string, eio EvalIO) (any, error)

func (f EvaluatorFunc) Eval(ctx context.Context, sess *sessions.Session, code string, eio EvalIO) (any, error) {
	return f(ctx, sess, code, eio)
}
