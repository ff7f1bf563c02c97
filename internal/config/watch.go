package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// FileWatcher re-applies a JSON detection config file to a Store whenever the
// file is written or replaced. Invalid contents are logged and ignored, so the
// store keeps its previous config.
type FileWatcher struct {
	path    string
	store   *Store
	logger  *zap.SugaredLogger
	watcher *fsnotify.Watcher
}

// NewFileWatcher watches the directory holding path. Watching the directory
// rather than the file keeps working across editors that save by rename.
func NewFileWatcher(path string, store *Store, logger *zap.SugaredLogger) (*FileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	return &FileWatcher{path: abs, store: store, logger: logger, watcher: w}, nil
}

// Run processes file events until ctx is done. It closes the watcher on return.
func (fw *FileWatcher) Run(ctx context.Context) error {
	defer fw.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != fw.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			fw.reload()
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return nil
			}
			fw.logger.Warnw("config watcher error", "error", err)
		}
	}
}

func (fw *FileWatcher) reload() {
	cfg, err := fw.store.ApplyFile(fw.path)
	if err != nil {
		fw.logger.Warnw("ignoring config file change", "path", fw.path, "error", err)
		return
	}
	fw.logger.Infow("detection config reloaded from file",
		"path", fw.path,
		"threshold", cfg.Threshold,
		"min_area", cfg.MinArea,
		"blur_size", cfg.BlurSize,
		"rain_area_threshold", cfg.RainAreaThreshold,
	)
}
