package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the config file whenever it changes on disk and hands
// each valid new configuration to onChange. Invalid or unreadable
// revisions are logged and skipped; the previous configuration stays in
// effect. Watch blocks until ctx is canceled.
func Watch(ctx context.Context, path string, log *slog.Logger, onChange func(*Config)) error {
	if log == nil {
		log = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors often replace the file, which drops
	// a watch registered on the file itself.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	// Debounce bursts of events from a single save.
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Name != abs || (!ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(100*time.Millisecond, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			cfg, err := Load(abs)
			if err != nil {
				log.Warn("config reload rejected", slog.String("path", abs), slog.String("err", err.Error()))
				continue
			}
			log.Info("config reloaded", slog.String("path", abs))
			onChange(cfg)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watch error", slog.String("err", err.Error()))
		}
	}
}
