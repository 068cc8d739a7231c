// Package logctx enriches slog records with request-scoped context:
// the message being handled and the connection it arrived on. The
// dispatcher and transports attach the data; any logger built on
// Handler picks it up without threading fields by hand.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if md, ok := ctx.Value(messageDataKey{}).(*MessageData); ok {
		r.AddAttrs(slog.Group("msg",
			slog.String("id", md.ID),
			slog.String("op", md.Op),
			slog.String("session", md.SessionID),
		))
	}

	if cd, ok := ctx.Value(connDataKey{}).(*ConnData); ok {
		r.AddAttrs(slog.Group("conn",
			slog.String("transport", cd.Transport),
			slog.String("remote", cd.Remote),
		))
	}

	return h.Handler.Handle(ctx, r)
}

// WithAttrs rewraps the derived handler so loggers built with
// Logger.With keep the context enrichment.
func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

// WithGroup rewraps the derived handler, same as WithAttrs.
func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

type messageDataKey struct{}

// MessageData identifies the message currently being handled.
type MessageData struct {
	ID        string
	Op        string
	SessionID string
}

func WithMessageData(ctx context.Context, data *MessageData) context.Context {
	return context.WithValue(ctx, messageDataKey{}, data)
}

type connDataKey struct{}

// ConnData identifies the connection a message arrived on.
type ConnData struct {
	Transport string
	Remote    string
}

func WithConnData(ctx context.Context, data *ConnData) context.Context {
	return context.WithValue(ctx, connDataKey{}, data)
}
