package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads non-structural config fields (hnsw.ef_search, wal.fsync,
// query.default_ef, query.default_deadline_ms) whenever the config file on
// disk changes, without restarting the process. Dimension and distance
// metric are collection-level and never touched by a reload.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onApply func(Config)
	logger  *slog.Logger
}

// NewWatcher starts watching path for changes. onApply is called with the
// newly loaded config each time the file changes and parses successfully;
// a parse failure is logged and the previous config is left in place.
func NewWatcher(path string, logger *slog.Logger, onApply func(Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, onApply: onApply, logger: logger}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed, keeping previous config", slog.String("error", err.Error()))
				continue
			}
			w.onApply(cfg)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
