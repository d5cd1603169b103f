package tokens

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay collapses the burst of events an editor emits on save.
const debounceDelay = 100 * time.Millisecond

// Watch monitors the token file and calls Reload each time it changes.
// onReload, if non-nil, receives the result of every reload. Watch runs until
// ctx is cancelled.
//
// The parent directory is watched rather than the file so that atomic saves
// (write to temp, rename over) and files created after startup are seen.
func (s *Store) Watch(ctx context.Context, onReload func(n int, err error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	name := filepath.Base(s.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	slog.Info("tokens: watching for changes", "path", s.path)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		n, err := s.Reload()
		if err != nil {
			slog.Error("tokens: reload failed, authenticating no one", "path", s.path, "err", err)
		} else {
			slog.Info("tokens: reloaded", "path", s.path, "total", n)
		}
		if onReload != nil {
			onReload(n, err)
		}
	}
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}

			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDelay, reload)
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("tokens: watcher error", "err", err)
		}
	}
}
