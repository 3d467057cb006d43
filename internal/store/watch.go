package store

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchExternalEdits watches the storage root and its per-project
// directories for state.json writes (for example operator recovery tooling
// editing a project's state by hand) and logs a CorruptState-adjacent
// warning so the drift is visible before the next reconcile picks it up.
// It does not tell such edits apart from this Store's own saves, which are
// logged the same way. It blocks until ctx is cancelled.
func (s *Store) WatchExternalEdits(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(s.rootDir); err != nil {
		return err
	}
	watchedDirs := map[string]bool{s.rootDir: true}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			s.handleWatchEvent(w, ev, watchedDirs)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("storage watcher error", zap.Error(err))
		}
	}
}

func (s *Store) handleWatchEvent(w *fsnotify.Watcher, ev fsnotify.Event, watchedDirs map[string]bool) {
	info, statErr := statPath(ev.Name)
	if statErr == nil && info && !watchedDirs[ev.Name] {
		// A new per-project directory appeared; watch it too so its
		// state.json edits are also seen.
		if err := w.Add(ev.Name); err == nil {
			watchedDirs[ev.Name] = true
		}
		return
	}

	if filepath.Base(ev.Name) != "state.json" {
		return
	}
	if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	s.logger.Warn("state.json changed outside this process", zap.String("path", ev.Name))
}

func statPath(path string) (isDir bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}
