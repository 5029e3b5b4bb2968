package market

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads catalog from path whenever the file is written or replaced,
// until ctx is done. The parent directory is watched so editors that swap
// files atomically are noticed.
func Watch(ctx context.Context, path string, catalog *Catalog, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %q: %w", filepath.Dir(abs), err)
	}

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

			items, err := LoadCatalogFile(abs)
			if err != nil {
				logger.Warn("catalog reload failed", zap.String("path", abs), zap.Error(err))
				continue
			}
			catalog.Replace(items)
			logger.Info("catalog reloaded", zap.String("path", abs), zap.Int("items", catalog.Len()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", zap.Error(err))
		}
	}
}
