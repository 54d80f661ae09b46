package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounceDelay = 500 * time.Millisecond

// Watcher reloads the configuration file when it changes on disk.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
}

// NewWatcher starts watching the directory of path. Editors often replace the
// file with a rename, so the directory is watched rather than the file.
func NewWatcher(path string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config file watcher: %w", err)
	}

	path = filepath.Clean(path)
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{path: path, watcher: fw}, nil
}

// Run calls onReload with every revision that loads and validates. A broken
// revision is logged and the caller keeps its current configuration. Run
// blocks until ctx is done and closes the watcher on return.
func (w *Watcher) Run(ctx context.Context, onReload func(*Config), debounceDelay time.Duration) {
	defer w.watcher.Close()

	delay := debounceDelay
	if delay <= 0 {
		delay = defaultDebounceDelay
	}
	slog.Info("Started configuration watcher", "path", w.path, "debounce", delay)

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	reload := func() {
		newCfg, defaultsUsed, err := Load(w.path)
		if err != nil {
			slog.Error("Failed to reload config file, keeping old configuration", "path", w.path, "error", err)
			return
		}
		if defaultsUsed {
			// Moved away or deleted. The running configuration stays.
			slog.Warn("Config file disappeared, keeping old configuration", "path", w.path)
			return
		}
		onReload(newCfg)
		slog.Info("Configuration reloaded", "path", w.path,
			"allowed_kinds", len(newCfg.Rules.AllowedKinds), "allowed_authors", len(newCfg.Rules.AllowedAuthors))
	}

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			mu.Unlock()
			slog.Info("Stopping configuration watcher...")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				slog.Warn("Watcher events channel closed unexpectedly, stopping watcher.")
				return
			}
			if filepath.Clean(event.Name) != w.path ||
				!(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(delay, reload)
			mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				slog.Warn("Watcher errors channel closed unexpectedly, stopping watcher.")
				return
			}
			slog.Error("Error watching config file", "error", err)
		}
	}
}
