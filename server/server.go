package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/replkit/mrepl-server-go/internal/logctx"
	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/sessions"
)

// Server bundles a middleware registry, a session store, and a
// dispatcher into the unit a transport serves. The composed handler is
// built once at construction and rebuilt only when the middleware set
// changes (Rebuild).
type Server struct {
	reg   *middleware.Registry
	store sessions.Store
	disp  *Dispatcher
	log   *slog.Logger
}

// Option configures a Server.
type Option func(*config)

type config struct {
	store     sessions.Store
	log       *slog.Logger
	promReg   prometheus.Registerer
	mws       []middleware.Middleware
	immediate []string
}

// WithStore sets the session store. Defaults to an in-memory store.
func WithStore(s sessions.Store) Option {
	return func(c *config) { c.store = s }
}

// WithLog sets the server's logger; records are enriched with
// message/connection context via logctx.
func WithLog(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithPrometheus registers the server's collectors on reg and enables
// metric recording.
func WithPrometheus(reg prometheus.Registerer) Option {
	return func(c *config) { c.promReg = reg }
}

// WithMiddleware registers middleware, in order, before the first
// composition pass.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(c *config) { c.mws = append(c.mws, mws...) }
}

// WithImmediate sets the operations dispatched outside the session
// queue (default: interrupt and stdin).
func WithImmediate(ops ...string) Option {
	return func(c *config) { c.immediate = ops }
}

// New builds a server and runs the first composition pass. A cyclic
// dependency in the initial middleware set fails construction.
func New(opts ...Option) (*Server, error) {
	c := &config{log: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}

	log := slog.New(logctx.Handler{Handler: c.log.Handler()})

	store := c.store
	if store == nil {
		store = sessions.NewMemStore()
	}

	var metrics *Metrics
	if c.promReg != nil {
		metrics = NewMetrics(c.promReg)
		store = &instrumentedStore{Store: store, metrics: metrics}
	}

	reg := middleware.NewRegistry()
	for _, mw := range c.mws {
		if err := reg.Register(mw); err != nil {
			return nil, fmt.Errorf("register middleware: %w", err)
		}
	}

	h, err := middleware.Build(reg)
	if err != nil {
		return nil, fmt.Errorf("compose middleware: %w", err)
	}

	dopts := []DispatcherOption{WithLogger(log), WithMetrics(metrics)}
	if len(c.immediate) > 0 {
		dopts = append(dopts, WithImmediateOps(c.immediate...))
	}

	return &Server{
		reg:   reg,
		store: store,
		disp:  NewDispatcher(store, h, dopts...),
		log:   log,
	}, nil
}

// Registry exposes the middleware registry, e.g. for the describe
// facility or for mutating the middleware set before a Rebuild.
func (s *Server) Registry() *middleware.Registry { return s.reg }

// Store exposes the session store.
func (s *Server) Store() sessions.Store { return s.store }

// Dispatcher exposes the dispatcher for transports.
func (s *Server) Dispatcher() *Dispatcher { return s.disp }

// Log exposes the server's context-enriched logger.
func (s *Server) Log() *slog.Logger { return s.log }

// Rebuild recomposes the handler chain from the current registry state
// and swaps it in atomically. On failure (for example a cycle introduced
// by a newly registered middleware) the previous chain stays active.
func (s *Server) Rebuild() error {
	h, err := middleware.Build(s.reg)
	if err != nil {
		return fmt.Errorf("compose middleware: %w", err)
	}
	s.disp.SetHandler(h)
	return nil
}

// instrumentedStore decorates a Store with session gauge bookkeeping.
type instrumentedStore struct {
	sessions.Store
	metrics *Metrics
}

func (s *instrumentedStore) Create(ctx context.Context) (*sessions.Session, error) {
	sess, err := s.Store.Create(ctx)
	if err == nil {
		s.metrics.sessionOpened()
	}
	return sess, err
}

func (s *instrumentedStore) Clone(ctx context.Context, id string) (*sessions.Session, error) {
	sess, err := s.Store.Clone(ctx, id)
	if err == nil {
		s.metrics.sessionOpened()
	}
	return sess, err
}

func (s *instrumentedStore) Close(ctx context.Context, id string) error {
	err := s.Store.Close(ctx, id)
	if err == nil {
		s.metrics.sessionClosed()
	}
	return err
}

// Sync forwards to the wrapped store when it persists bindings.
func (s *instrumentedStore) Sync(ctx context.Context, sess *sessions.Session) error {
	if syncer, ok := s.Store.(sessions.Syncer); ok {
		return syncer.Sync(ctx, sess)
	}
	return nil
}
