package ops

import (
	"context"
	"sync"
	"testing"

	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/mrepl"
	"github.com/replkit/mrepl-server-go/sessions"
)

// captureTransport records every response it is handed.
type captureTransport struct {
	mu   sync.Mutex
	sent []mrepl.Message
}

func (c *captureTransport) Send(_ context.Context, msg mrepl.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureTransport) messages() []mrepl.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]mrepl.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *captureTransport) last(t *testing.T) mrepl.Message {
	t.Helper()
	msgs := c.messages()
	if len(msgs) == 0 {
		t.Fatal("no responses sent")
	}
	return msgs[len(msgs)-1]
}

// newRequest builds a request against a fresh in-memory store and
// session, returning the capture transport for assertions.
func newRequest(t *testing.T, msg mrepl.Message) (*middleware.Request, *captureTransport) {
	t.Helper()
	store := sessions.NewMemStore()
	sess, err := store.Create(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	msg[mrepl.SlotSession] = sess.ID()
	tp := &captureTransport{}
	return &middleware.Request{Msg: msg, Transport: tp, Session: sess, Store: store}, tp
}

// failNext is a terminal handler that fails the test if reached.
func failNext(t *testing.T) middleware.Handler {
	return middleware.HandlerFunc(func(context.Context, *middleware.Request) error {
		t.Fatal("request fell through to the next handler")
		return nil
	})
}

// markerNext records that the request passed through.
func markerNext(hit *bool) middleware.Handler {
	return middleware.HandlerFunc(func(context.Context, *middleware.Request) error {
		*hit = true
		return nil
	})
}

func wantStatuses(t *testing.T, msg mrepl.Message, statuses ...string) {
	t.Helper()
	for _, s := range statuses {
		if !msg.HasStatus(s) {
			t.Fatalf("response %v missing status %q", msg, s)
		}
	}
}
