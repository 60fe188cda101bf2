package indexer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"nccatalog/internal/catalog"
	"nccatalog/internal/logging"
)

// Watch re-runs an incremental index pass whenever files beneath the
// experiment roots change, debounced so a burst of writes from a finishing
// job triggers one pass. Blocks until the context is cancelled.
func Watch(ctx context.Context, db *catalog.DB, dirs []string, opts Options, debounce time.Duration) error {
	log := logging.L(logging.CategoryWatch)
	opts = opts.withDefaults()
	opts.Update = true

	if debounce <= 0 {
		debounce = 5 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range dirs {
		if err := addTree(watcher, dir); err != nil {
			return err
		}
	}
	log.Info("watching experiment roots", zap.Strings("dirs", dirs))

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, func() {
			select {
			case fire <- struct{}{}:
			default:
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// new run subdirectories must themselves be watched
			if event.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = addTree(watcher, event.Name)
					schedule()
					continue
				}
			}
			if match, _ := filepath.Match(opts.Glob, filepath.Base(event.Name)); match {
				log.Debug("file event", zap.String("op", event.Op.String()), zap.String("path", event.Name))
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", zap.Error(err))
		case <-fire:
			if _, err := Build(ctx, db, dirs, opts); err != nil {
				log.Error("re-index failed", zap.Error(err))
			}
		}
	}
}

// addTree watches a directory and everything beneath it.
func addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if werr := watcher.Add(path); werr != nil {
				return werr
			}
		}
		return nil
	})
}
