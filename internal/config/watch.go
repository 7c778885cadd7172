package config

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const (
	watchDebounce = 200 * time.Millisecond
	pollInterval  = 60 * time.Second
)

// Watch reloads path whenever it changes and hands the result to onChange.
// The parent directory is watched so editors that replace the file are seen.
// If fsnotify is unavailable it falls back to polling the file's mtime.
// Invalid reloads are logged and skipped. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *zap.Logger, onChange func(*Config)) {
	reload := func() {
		cfg, err := Load(path)
		if err != nil {
			logger.Warn("config reload rejected", zap.String("path", path), zap.Error(err))
			return
		}
		logger.Info("config reloaded", zap.String("path", path))
		onChange(cfg)
	}

	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		if err = watcher.Add(filepath.Dir(path)); err != nil {
			watcher.Close()
		}
	}
	if err != nil {
		logger.Warn("config watcher unavailable, polling", zap.Error(err))
		poll(ctx, path, reload)
		return
	}
	defer watcher.Close()

	name := filepath.Clean(path)
	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != name {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce = time.After(watchDebounce)
			}
		case <-debounce:
			debounce = nil
			reload()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

func poll(ctx context.Context, path string, reload func()) {
	var last time.Time
	if fi, err := os.Stat(path); err == nil {
		last = fi.ModTime()
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fi, err := os.Stat(path)
			if err != nil || !fi.ModTime().After(last) {
				continue
			}
			last = fi.ModTime()
			reload()
		}
	}
}
