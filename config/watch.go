package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the file at path each time it is written or replaced and
// passes the new Config to onChange. It returns when ctx is done.
//
// The parent directory is watched, not the file: an atomic save renames a
// temporary file over path, and a watch on the old inode would go quiet.
// Reloads that fail to load are logged and dropped; onChange only ever sees
// valid configs.
func Watch(ctx context.Context, path string, log *zap.Logger, onChange func(*Config)) error {
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	log.Info("watching config", zap.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != path {
				continue
			}
			// A rename onto path arrives as Create.
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			cfg, err := Load(path)
			if err != nil {
				log.Warn("config reload skipped", zap.String("path", path), zap.Error(err))
				continue
			}
			log.Info("config reloaded", zap.String("path", path), zap.String("op", ev.Op.String()))
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("config watcher error", zap.Error(err))
		}
	}
}
