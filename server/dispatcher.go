package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/replkit/mrepl-server-go/internal/logctx"
	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/mrepl"
	"github.com/replkit/mrepl-server-go/sessions"
)

type handlerRef struct {
	h middleware.Handler
}

// Dispatcher routes each inbound message to its session and invokes the
// composed handler under that session's serialization guarantee: two
// dispatches for the same session never interleave and run in arrival
// order, while distinct sessions proceed fully concurrently.
type Dispatcher struct {
	store   sessions.Store
	log     *slog.Logger
	metrics *Metrics

	handler atomic.Pointer[handlerRef]

	// immediate ops bypass the session queue; without this, an interrupt
	// aimed at a busy session would queue behind the operation it is
	// meant to cancel, and stdin meant for a blocked evaluation would
	// never reach it.
	immediate map[string]bool

	wg sync.WaitGroup
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if l != nil {
			d.log = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithImmediateOps replaces the set of operations dispatched outside
// the session queue. The default set is {"interrupt", "stdin"}.
func WithImmediateOps(ops ...string) DispatcherOption {
	return func(d *Dispatcher) {
		d.immediate = make(map[string]bool, len(ops))
		for _, op := range ops {
			d.immediate[op] = true
		}
	}
}

// NewDispatcher builds a dispatcher over the given store and handler.
func NewDispatcher(store sessions.Store, h middleware.Handler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		log:       slog.Default(),
		immediate: map[string]bool{"interrupt": true, "stdin": true},
	}
	d.handler.Store(&handlerRef{h: h})
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetHandler atomically swaps the composed handler. In-flight messages
// finish on the handler they started with; later dispatches see the new
// chain. This is the reload path taken when the middleware set changes.
func (d *Dispatcher) SetHandler(h middleware.Handler) {
	d.handler.Store(&handlerRef{h: h})
}

// Wait blocks until every in-flight dispatch has completed.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Dispatch routes one inbound message. It reserves the target session's
// execution slot synchronously (so arrival order is execution order) and
// returns without waiting for handling to complete. Failures that can be
// reported to the client are converted to error-status responses rather
// than surfaced here.
func (d *Dispatcher) Dispatch(ctx context.Context, msg mrepl.Message, tp mrepl.Transport) {
	ctx = logctx.WithMessageData(ctx, &logctx.MessageData{
		ID:        msg.ID(),
		Op:        msg.Op(),
		SessionID: msg.Session(),
	})

	var (
		sess      *sessions.Session
		ephemeral bool
	)
	if sid := msg.Session(); sid != "" {
		found, err := d.store.Lookup(ctx, sid)
		if errors.Is(err, sessions.ErrSessionNotFound) {
			d.log.InfoContext(ctx, "message for unknown session")
			d.send(ctx, tp, mrepl.ResponseStatus(msg, mrepl.StatusUnknownSession, mrepl.StatusError, mrepl.StatusDone))
			d.observe(msg.Op(), "unknown-session", 0)
			return
		}
		if err != nil {
			d.log.ErrorContext(ctx, "session lookup failed", slog.String("err", err.Error()))
			d.send(ctx, tp, mrepl.ResponseStatus(msg, mrepl.StatusError, mrepl.StatusDone))
			d.observe(msg.Op(), "error", 0)
			return
		}
		sess = found
	} else {
		// No session slot: handle on a fresh session discarded afterwards.
		created, err := d.store.Create(ctx)
		if err != nil {
			d.log.ErrorContext(ctx, "ephemeral session create failed", slog.String("err", err.Error()))
			d.send(ctx, tp, mrepl.ResponseStatus(msg, mrepl.StatusError, mrepl.StatusDone))
			d.observe(msg.Op(), "error", 0)
			return
		}
		sess = created
		ephemeral = true
	}

	if d.immediate[msg.Op()] {
		d.wg.Add(1)
		go d.run(ctx, msg, tp, sess, ephemeral, nil)
		return
	}

	turn := sess.Reserve()
	d.wg.Add(1)
	go d.run(ctx, msg, tp, sess, ephemeral, turn)
}

// run executes one message. It owns releasing the session turn; the
// release happens even if the handler panics, so a failing middleware
// never strands the session's queue.
func (d *Dispatcher) run(ctx context.Context, msg mrepl.Message, tp mrepl.Transport, sess *sessions.Session, ephemeral bool, turn *sessions.Turn) {
	defer d.wg.Done()
	if turn != nil {
		turn.Wait()
		defer turn.Release()
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			d.log.ErrorContext(ctx, "handler panicked", slog.Any("panic", r))
			d.send(ctx, tp, mrepl.ResponseStatus(msg, mrepl.StatusError, mrepl.StatusDone))
		}
		if ephemeral {
			if err := d.store.Close(context.WithoutCancel(ctx), sess.ID()); err != nil {
				d.log.WarnContext(ctx, "ephemeral session close failed", slog.String("err", err.Error()))
			}
		}
		d.observe(msg.Op(), outcome, time.Since(start))
	}()

	hctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if id := msg.ID(); id != "" {
		sess.RegisterCancel(id, cancel)
		defer sess.ClearCancel(id)
	}

	req := &middleware.Request{Msg: msg, Transport: tp, Session: sess, Store: d.store}
	if err := d.handler.Load().h.Handle(hctx, req); err != nil {
		outcome = "error"
		d.log.ErrorContext(ctx, "handler failed", slog.String("err", err.Error()))
		resp := mrepl.ResponseStatus(msg, mrepl.StatusError, mrepl.StatusDone)
		resp["err"] = err.Error()
		d.send(ctx, tp, resp)
	}

	if syncer, ok := d.store.(sessions.Syncer); ok && !ephemeral {
		if err := syncer.Sync(context.WithoutCancel(ctx), sess); err != nil {
			d.log.WarnContext(ctx, "session sync failed", slog.String("err", err.Error()))
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, tp mrepl.Transport, msg mrepl.Message) {
	if err := tp.Send(ctx, msg); err != nil {
		d.log.WarnContext(ctx, "response send failed", slog.String("err", err.Error()))
	}
}

func (d *Dispatcher) observe(op, outcome string, dur time.Duration) {
	d.metrics.observeHandled(op, outcome, dur)
}
