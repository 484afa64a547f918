package config

import (
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// DriftWatcher watches the resolved queue-config file for writes after
// the mapper has been loaded and frozen. It never reloads the mapper
// (QueueConfigMapper is immutable for the process lifetime); it only
// logs so an operator knows the running mapper is stale.
type DriftWatcher struct {
	watcher *fsnotify.Watcher
}

// WatchForDrift starts watching path's containing directory. Callers
// should Close the returned watcher during shutdown.
func WatchForDrift(path string, logger *log.Logger) (*DriftWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return nil, err
	}
	dw := &DriftWatcher{watcher: w}
	go dw.run(path, logger)
	return dw, nil
}

func (dw *DriftWatcher) run(path string, logger *log.Logger) {
	base := filepath.Base(path)
	for {
		select {
		case ev, ok := <-dw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				logger.Printf("queue config %s changed on disk after load; the running mapper is frozen and will not pick this up, restart to apply", path)
			}
		case err, ok := <-dw.watcher.Errors:
			if !ok {
				return
			}
			logger.Printf("config drift watcher error: %v", err)
		}
	}
}

// Close stops the watcher.
func (dw *DriftWatcher) Close() error {
	return dw.watcher.Close()
}
