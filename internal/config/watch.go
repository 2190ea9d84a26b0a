package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads path whenever it changes and passes the result to fn. It
// watches the parent directory so editors that replace the file are seen.
// Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, fn func(LoadResult)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	slog.Debug("watching config", "path", path)

	target := filepath.Clean(path)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			res := Load(path)
			if res.ParseError != nil {
				slog.Warn("config reload failed, keeping previous", "path", path, "error", res.ParseError)
				continue
			}
			slog.Info("config reloaded", "path", path)
			fn(res)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("config watcher error", "error", err)

		case <-ctx.Done():
			return nil
		}
	}
}
