package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the config file whenever it changes on disk and hands
// the new value to onChange. Invalid files are logged and skipped.
type Watcher struct {
	path     string
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration
}

func NewWatcher(path string, onChange func(*Config), logger *slog.Logger) *Watcher {
	return &Watcher{path: path, onChange: onChange, logger: logger, debounce: reloadDebounce}
}

// Run blocks until ctx is done. The parent directory is watched rather
// than the file so editors that replace the file on save are handled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	w.logger.Debug("watching config", "path", abs)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.reload(abs)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload(path string) {
	cfg, err := Load(path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous settings", "err", err)
		return
	}
	w.logger.Info("config reloaded", "path", path)
	w.onChange(cfg)
}
