package schedule

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ConfigChangeCallback is called once per burst of changes to the watched file
type ConfigChangeCallback func(path string)

// ConfigWatcher monitors a single config file for changes.
// The parent directory is watched so that editors replacing the file
// through a rename are noticed.
type ConfigWatcher struct {
	watcher  *fsnotify.Watcher
	path     string
	callback ConfigChangeCallback
	debounce time.Duration
	logger   *zap.Logger

	timer *time.Timer
	mu    sync.Mutex

	cancel context.CancelFunc
}

// NewConfigWatcher creates a watcher for path
func NewConfigWatcher(path string, callback ConfigChangeCallback, logger *zap.Logger) (*ConfigWatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, err
	}

	return &ConfigWatcher{
		watcher:  watcher,
		path:     abs,
		callback: callback,
		debounce: 500 * time.Millisecond,
		logger:   logger,
	}, nil
}

// Start begins watching for file changes
func (cw *ConfigWatcher) Start(ctx context.Context) {
	ctx, cw.cancel = context.WithCancel(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-cw.watcher.Events:
				if !ok {
					return
				}
				cw.handleEvent(event)
			case err, ok := <-cw.watcher.Errors:
				if !ok {
					return
				}
				cw.logger.Warn("config watcher error", zap.Error(err))
			}
		}
	}()
}

// Stop stops watching for file changes
func (cw *ConfigWatcher) Stop() {
	if cw.cancel != nil {
		cw.cancel()
	}
	cw.mu.Lock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.mu.Unlock()
	cw.watcher.Close()
}

func (cw *ConfigWatcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != cw.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	cw.mu.Lock()
	defer cw.mu.Unlock()
	if cw.timer != nil {
		cw.timer.Stop()
	}
	cw.timer = time.AfterFunc(cw.debounce, cw.flush)
}

func (cw *ConfigWatcher) flush() {
	cw.logger.Info("config file changed", zap.String("path", cw.path))
	if cw.callback != nil {
		cw.callback(cw.path)
	}
}

// SetDebounce sets the debounce duration for batching file changes
func (cw *ConfigWatcher) SetDebounce(d time.Duration) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.debounce = d
}
