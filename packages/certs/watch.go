package certs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchDebounceDelay coalesces bursts of file events, e.g. from
// update-ca-certificates rewriting a whole directory.
const WatchDebounceDelay = 300 * time.Millisecond

// Watcher invalidates the aggregator cache when a trust store changes on
// disk and then calls OnChange.
type Watcher struct {
	aggregator *Aggregator
	logger     *zap.Logger
	watcher    *fsnotify.Watcher
	files      map[string]struct{}
	dirs       map[string]struct{}
	delay      time.Duration

	// OnChange runs after the cache has been invalidated.
	OnChange func(path string)

	closeOnce sync.Once
}

// NewWatcher watches the given paths. Files are watched through their
// parent directory so atomic replacements are seen.
func NewWatcher(a *Aggregator, paths []string, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate watcher: %w", err)
	}

	w := &Watcher{
		aggregator: a,
		logger:     logger,
		watcher:    fw,
		files:      make(map[string]struct{}),
		dirs:       make(map[string]struct{}),
		delay:      WatchDebounceDelay,
	}

	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		info, err := os.Stat(abs)
		if err != nil {
			logger.Debug("skipping missing trust store path", zap.String("path", abs))
			continue
		}
		dir := abs
		if !info.IsDir() {
			w.files[abs] = struct{}{}
			dir = filepath.Dir(abs)
		} else {
			w.dirs[abs] = struct{}{}
		}
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	return w, nil
}

// Run processes events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		debounce *time.Timer
		mu       sync.Mutex
	)
	defer func() {
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return w.Close()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			name := event.Name
			mu.Lock()
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(w.delay, func() {
				w.logger.Info("trust store changed, invalidating CA cache", zap.String("path", name))
				w.aggregator.InvalidateSystemCache()
				if w.OnChange != nil {
					w.OnChange(name)
				}
			})
			mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("certificate watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	if _, ok := w.files[event.Name]; ok {
		return true
	}
	_, ok := w.dirs[filepath.Dir(event.Name)]
	return ok
}

// Close stops the underlying watcher.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
	})
	return err
}
