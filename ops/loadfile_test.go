package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/replkit/mrepl-server-go/mrepl"
)

func TestLoadFileInlineContents(t *testing.T) {
	msg := mrepl.NewMessage("load-file")
	msg["file"] = "(def x 1)"
	msg["file-name"] = "init.clj"
	req, tp := newRequest(t, msg)

	l := &LoadFile{Evaluator: echoEvaluator}
	if err := l.Wrap(failNext(t)).Handle(context.Background(), req); err != nil {
		t.Fatalf("load-file: %v", err)
	}

	msgs := tp.messages()
	if got := msgs[0]["value"]; got != "=> (def x 1)" {
		t.Fatalf("value = %v", got)
	}
	wantStatuses(t, tp.last(t), mrepl.StatusDone)
}

func TestLoadFileFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boot.code")
	if err := os.WriteFile(path, []byte("contents from disk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := mrepl.NewMessage("load-file")
	msg["file-path"] = path
	req, tp := newRequest(t, msg)

	l := &LoadFile{Evaluator: echoEvaluator}
	if err := l.Wrap(failNext(t)).Handle(context.Background(), req); err != nil {
		t.Fatalf("load-file: %v", err)
	}

	if got := tp.messages()[0]["value"]; got != "=> contents from disk" {
		t.Fatalf("value = %v", got)
	}
}

func TestLoadFileMissingSlots(t *testing.T) {
	req, tp := newRequest(t, mrepl.NewMessage("load-file"))

	l := &LoadFile{Evaluator: echoEvaluator}
	if err := l.Wrap(failNext(t)).Handle(context.Background(), req); err != nil {
		t.Fatalf("load-file: %v", err)
	}
	wantStatuses(t, tp.last(t), mrepl.StatusError, mrepl.StatusDone)
}

func TestLoadFileUnreadablePath(t *testing.T) {
	msg := mrepl.NewMessage("load-file")
	msg["file-path"] = filepath.Join(t.TempDir(), "does-not-exist")
	req, tp := newRequest(t, msg)

	l := &LoadFile{Evaluator: echoEvaluator}
	if err := l.Wrap(failNext(t)).Handle(context.Background(), req); err != nil {
		t.Fatalf("load-file: %v", err)
	}

	resp := tp.last(t)
	wantStatuses(t, resp, mrepl.StatusError, mrepl.StatusDone)
	if resp["err"] == nil {
		t.Fatal("error response carries no err slot")
	}
}

func TestLoadFileWatchReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "live.code")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := mrepl.NewMessage("load-file")
	msg["file-path"] = path
	req, tp := newRequest(t, msg)

	l := &LoadFile{Evaluator: echoEvaluator, Watch: true}
	if err := l.Wrap(failNext(t)).Handle(context.Background(), req); err != nil {
		t.Fatalf("load-file: %v", err)
	}
	initial := len(tp.messages())

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		for _, m := range tp.messages()[initial:] {
			if m["reloaded"] == path {
				if m["value"] != "=> v2" {
					t.Fatalf("reload value = %v", m["value"])
				}
				req.Session.ReleaseResources()
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("no reload response before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoadFileWatchStopsOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.code")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	msg := mrepl.NewMessage("load-file")
	msg["file-path"] = path
	req, tp := newRequest(t, msg)

	l := &LoadFile{Evaluator: echoEvaluator, Watch: true}
	if err := l.Wrap(failNext(t)).Handle(context.Background(), req); err != nil {
		t.Fatalf("load-file: %v", err)
	}

	req.Session.ReleaseResources()
	// Give the watcher goroutine time to observe the close.
	time.Sleep(50 * time.Millisecond)
	baseline := len(tp.messages())

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	for _, m := range tp.messages()[baseline:] {
		if m["reloaded"] != nil {
			t.Fatal("closed session still received reloads")
		}
	}
}
