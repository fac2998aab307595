// Package filewatch reloads a configuration file when it changes on disk.
package filewatch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Debounce coalesces the burst of events an editor save produces.
const Debounce = 250 * time.Millisecond

// Watch calls load on path whenever the file changes and passes the result
// to onChange. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file, so atomic saves
// that replace the file are seen. A reload that load rejects is logged and
// skipped; onChange is not called and the caller keeps its previous value.
func Watch[T any](ctx context.Context, path string, load func(string) (T, error), onChange func(T)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %q: %w", path, err)
	}
	slog.Info("config: watching for changes", "path", abs)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			pending = time.After(Debounce)

		case <-pending:
			pending = nil
			v, err := load(abs)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", abs, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", abs)
			onChange(v)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}
