package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/replkit/mrepl-server-go/mrepl"
	"github.com/replkit/mrepl-server-go/ops"
	"github.com/replkit/mrepl-server-go/server"
	"github.com/replkit/mrepl-server-go/sessions"
)

func testServer(t *testing.T) *server.Server {
	t.Helper()
	srv, err := server.New(
		server.WithMiddleware(
			&ops.Session{},
			&ops.Stdin{},
			&ops.Interrupt{},
			&ops.Eval{Evaluator: ops.EvaluatorFunc(func(_ context.Context, _ *sessions.Session, code string, _ ops.EvalIO) (any, error) {
				return "=> " + code, nil
			})},
		),
	)
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	return srv
}

// serveLines pipes the given lines through a handler and returns every
// response message, in arrival order.
func serveLines(t *testing.T, lines ...string) []mrepl.Message {
	t.Helper()

	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	pr, pw := io.Pipe()

	h := NewHandler(testServer(t), WithIO(in, pw))

	done := make(chan error, 1)
	go func() {
		err := h.Serve(context.Background())
		pw.Close()
		done <- err
	}()

	var msgs []mrepl.Message
	sc := bufio.NewScanner(pr)
	for sc.Scan() {
		var msg mrepl.Message
		if err := json.Unmarshal(sc.Bytes(), &msg); err != nil {
			t.Fatalf("bad response line %q: %v", sc.Text(), err)
		}
		msgs = append(msgs, msg)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return")
	}
	return msgs
}

func TestServeEvalRoundtrip(t *testing.T) {
	msgs := serveLines(t, `{"op":"eval","id":"m1","code":"(+ 1 2)"}`)

	var value, id string
	var done bool
	for _, m := range msgs {
		if m.ID() != "m1" {
			continue
		}
		id = m.ID()
		if v, ok := m["value"].(string); ok {
			value = v
		}
		if m.HasStatus(mrepl.StatusDone) {
			done = true
		}
	}
	if id != "m1" || value != "=> (+ 1 2)" || !done {
		t.Fatalf("responses = %v", msgs)
	}
}

func TestServeSessionFlow(t *testing.T) {
	// Clone gives us a session id; eval in it afterwards.
	msgs := serveLines(t, `{"op":"clone","id":"c1"}`)

	var newSession string
	for _, m := range msgs {
		if s, ok := m["new-session"].(string); ok {
			newSession = s
		}
	}
	if newSession == "" {
		t.Fatalf("no new-session in %v", msgs)
	}
}

func TestServeMalformedLine(t *testing.T) {
	msgs := serveLines(t, `{"op":`, `{"op":"eval","id":"ok","code":"1"}`)

	var sawMalformed, sawOK bool
	for _, m := range msgs {
		if m.HasStatus(mrepl.StatusError) && m.ID() == "" {
			sawMalformed = true
		}
		if m.ID() == "ok" && m.HasStatus(mrepl.StatusDone) {
			sawOK = true
		}
	}
	if !sawMalformed {
		t.Fatalf("no error response for malformed line: %v", msgs)
	}
	if !sawOK {
		t.Fatalf("later message was not processed: %v", msgs)
	}
}

func TestServeUnknownOp(t *testing.T) {
	msgs := serveLines(t, `{"op":"frobnicate","id":"u1"}`)

	var sawUnknown bool
	for _, m := range msgs {
		if m.ID() == "u1" && m.HasStatus(mrepl.StatusUnknownOp) {
			sawUnknown = true
		}
	}
	if !sawUnknown {
		t.Fatalf("no unknown-op response: %v", msgs)
	}
}

func TestServeCancelUnblocksClosableReader(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()
	var sb strings.Builder
	h := NewHandler(testServer(t), WithIO(pr, &sb))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()

	// The scanner is parked in Read with no input; only the cancel can
	// get Serve to return.
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve still blocked after cancel")
	}
}

func TestServeReturnsOnEOF(t *testing.T) {
	in := strings.NewReader("")
	var sb strings.Builder
	h := NewHandler(testServer(t), WithIO(in, &sb))

	done := make(chan error, 1)
	go func() { done <- h.Serve(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return on EOF")
	}
}
