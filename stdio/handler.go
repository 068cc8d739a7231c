package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/replkit/mrepl-server-go/mrepl"
	"github.com/replkit/mrepl-server-go/server"
)

// Handler is a single-connection transport that reads newline-delimited
// JSON messages from an io.Reader and writes responses to an io.Writer.
// By default it uses os.Stdin and os.Stdout.
//
// The handler is transport-only; all message semantics live in the
// server's middleware chain.
type Handler struct {
	srv *server.Server
	r   io.Reader
	w   io.Writer
	l   *slog.Logger

	// MaxLineBytes caps a single inbound message; 0 means the bufio
	// default.
	maxLine int
}

// NewHandler constructs a stdio Handler with defaults and applies
// options.
func NewHandler(srv *server.Server, opts ...Option) *Handler {
	h := &Handler{
		srv:     srv,
		r:       os.Stdin,
		w:       os.Stdout,
		l:       slog.Default(),
		maxLine: 8 << 20,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve runs the read loop until EOF on the reader or the context is
// canceled. It is safe to call at most once per Handler. Responses from
// concurrently executing sessions are interleaved line by line; each
// line is a complete message.
func (h *Handler) Serve(ctx context.Context) error {
	tp := &lineTransport{w: h.w}

	sc := bufio.NewScanner(h.r)
	if h.maxLine > 0 {
		sc.Buffer(make([]byte, 0, 64*1024), h.maxLine)
	}

	// A scanner blocked in Read cannot observe cancellation; closing the
	// reader is the only way to unblock it. A reader that is not an
	// io.Closer keeps Serve blocked until the next line or EOF.
	if closer, ok := h.r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { _ = closer.Close() })
		defer stop()
	}

	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			break
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg mrepl.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			h.l.WarnContext(ctx, "discarding unparseable message", slog.String("err", err.Error()))
			resp := mrepl.Message{
				mrepl.SlotStatus: []string{mrepl.StatusError, mrepl.StatusDone},
				"err":            fmt.Sprintf("malformed message: %v", err),
			}
			if err := tp.Send(ctx, resp); err != nil {
				return err
			}
			continue
		}

		h.srv.Dispatcher().Dispatch(ctx, msg, tp)
	}

	// Let in-flight session work finish writing before the loop returns
	// and the process likely exits.
	h.srv.Dispatcher().Wait()

	// A read failure caused by the cancellation close above is reported
	// as the cancellation, not as a scanner error.
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("read loop: %w", err)
	}
	return nil
}

// lineTransport serializes whole-message writes onto one stream.
type lineTransport struct {
	mu sync.Mutex
	w  io.Writer
}

func (t *lineTransport) Send(_ context.Context, msg mrepl.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	return nil
}
