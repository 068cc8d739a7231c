package ops

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/replkit/mrepl-server-go/middleware"
	"github.com/replkit/mrepl-server-go/mrepl"
)

// LoadFile handles the "load-file" operation: evaluating a whole file's
// contents in the message's session. The client may ship the contents
// inline ("file") or name a server-local path ("file-path"); with Watch
// enabled, a path-loaded file is re-evaluated in the same session
// whenever it changes on disk, until the session closes.
type LoadFile struct {
	Evaluator Evaluator

	// Watch enables re-evaluation of path-loaded files on change.
	Watch bool

	// Log receives watcher diagnostics; defaults to slog.Default().
	Log *slog.Logger
}

func (l *LoadFile) Descriptor() middleware.Descriptor {
	return middleware.Descriptor{
		Name:     "load-file",
		Requires: []middleware.Ref{"clone", "close"},
		Handles: map[string]middleware.OpSpec{
			"load-file": {
				Doc: "Evaluate a file's full contents in the message's session.",
				Optional: map[string]string{
					"file":      "Full contents of the file to load.",
					"file-path": "Server-local path to read when no contents are given.",
					"file-name": "Name of the file, for diagnostics.",
				},
				Returns: map[string]string{
					"value": "Printed result of loading the file.",
				},
			},
		},
	}
}

type loadFileArgs struct {
	File     string `mrepl:"file"`
	FilePath string `mrepl:"file-path"`
}

func (l *LoadFile) Wrap(next middleware.Handler) middleware.Handler {
	return middleware.HandlerFunc(func(ctx context.Context, req *middleware.Request) error {
		if req.Msg.Op() != "load-file" {
			return next.Handle(ctx, req)
		}

		var args loadFileArgs
		if err := decodeArgs(req.Msg, &args); err != nil {
			return err
		}

		code := args.File
		if code == "" && args.FilePath != "" {
			raw, err := os.ReadFile(args.FilePath)
			if err != nil {
				resp := mrepl.ResponseStatus(req.Msg, mrepl.StatusError, mrepl.StatusDone)
				resp["err"] = err.Error()
				return req.Transport.Send(ctx, resp)
			}
			code = string(raw)
		}
		if code == "" {
			resp := mrepl.ResponseStatus(req.Msg, mrepl.StatusError, mrepl.StatusDone)
			resp["err"] = "load-file requires a file or file-path slot"
			return req.Transport.Send(ctx, resp)
		}

		value, err := l.Evaluator.Eval(ctx, req.Session, code, evalIOFor(ctx, req))
		if err != nil {
			if ctx.Err() != nil {
				return req.ReplyStatus(ctx, mrepl.StatusInterrupted, mrepl.StatusDone)
			}
			resp := mrepl.ResponseStatus(req.Msg, mrepl.StatusError, mrepl.StatusDone)
			resp["err"] = err.Error()
			return req.Transport.Send(ctx, resp)
		}

		if l.Watch && args.FilePath != "" {
			l.watch(req, args.FilePath)
		}

		if err := req.Reply(ctx, map[string]any{"value": value}); err != nil {
			return err
		}
		return req.ReplyStatus(ctx, mrepl.StatusDone)
	})
}

// watch re-evaluates path in the request's session whenever it changes,
// reserving the session's turn for each reload so watched reloads never
// interleave with client requests.
func (l *LoadFile) watch(req *middleware.Request, path string) {
	log := l.Log
	if log == nil {
		log = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("file watch unavailable", slog.String("err", err.Error()))
		return
	}
	// Watch the directory: editors often replace the file, which drops a
	// watch registered on the file itself.
	if err := w.Add(filepath.Dir(path)); err != nil {
		log.Warn("file watch failed", slog.String("path", path), slog.String("err", err.Error()))
		_ = w.Close()
		return
	}

	sess := req.Session
	go func() {
		defer w.Close()
		for {
			select {
			case <-sess.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != path || (!ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create)) {
					continue
				}
				l.reload(req, path, log)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("file watch error", slog.String("err", err.Error()))
			}
		}
	}()
}

func (l *LoadFile) reload(req *middleware.Request, path string, log *slog.Logger) {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn("reload read failed", slog.String("path", path), slog.String("err", err.Error()))
		return
	}

	turn := req.Session.Reserve()
	turn.Wait()
	defer turn.Release()
	if req.Session.Closed() {
		return
	}

	ctx := context.Background()
	value, err := l.Evaluator.Eval(ctx, req.Session, string(raw), evalIOFor(ctx, req))
	if err != nil {
		log.Warn("reload eval failed", slog.String("path", path), slog.String("err", err.Error()))
		return
	}
	resp := mrepl.Response(req.Msg)
	resp["value"] = value
	resp["reloaded"] = path
	if err := req.Transport.Send(ctx, resp); err != nil {
		log.Warn("reload response failed", slog.String("err", err.Error()))
	}
}
