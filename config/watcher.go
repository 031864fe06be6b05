package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"

	"go.viam.com/rgbdsync/logging"
	"go.viam.com/rgbdsync/utils"
)

// DefaultWatchDebounce is how long a burst of writes must be quiet before the file is re-read.
const DefaultWatchDebounce = 200 * time.Millisecond

// Watcher reloads a config file whenever it changes and hands every valid revision to a
// callback. Invalid revisions are logged and skipped.
type Watcher struct {
	path     string
	logger   logging.Logger
	watcher  *fsnotify.Watcher
	debounce func(func())
	onChange func(*FileConfig)
	workers  utils.StoppableWorkers
}

// NewWatcher starts watching path. The directory is watched rather than the file so editors that
// replace the file on save are still followed.
func NewWatcher(path string, debounceWindow time.Duration, logger logging.Logger, onChange func(*FileConfig)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "cannot create file watcher")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		//nolint:errcheck
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		//nolint:errcheck
		fsw.Close()
		return nil, errors.Wrapf(err, "cannot watch %q", path)
	}
	if debounceWindow <= 0 {
		debounceWindow = DefaultWatchDebounce
	}
	w := &Watcher{
		path:     absPath,
		logger:   logger,
		watcher:  fsw,
		debounce: debounce.New(debounceWindow),
		onChange: onChange,
	}
	w.workers = utils.NewStoppableWorkersWithLogger(logger, w.run)
	return w, nil
}

func (w *Watcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.debounce(func() { w.reload(ctx) })
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	fc, err := Read(w.path)
	if err != nil {
		w.logger.Warnw("ignoring invalid config revision", "path", w.path, "error", err)
		return
	}
	w.logger.Infow("config changed", "path", w.path)
	w.onChange(fc)
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.workers.Stop()
	return w.watcher.Close()
}
