package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/goclaw/memopt/pkg/logger"
)

// DefaultDebounce coalesces the burst of events an editor save produces.
const DefaultDebounce = 300 * time.Millisecond

// ErrWatcherRunning is returned by a second concurrent Watch call.
var ErrWatcherRunning = errors.New("config watcher already running")

// Watcher reloads the config file when it changes and hands every
// successfully validated Config to the registered callbacks. A file that
// fails to load or validate is logged and the previous config stays live.
//
// The parent directory is watched rather than the file, so replacing the
// file by rename (editors, mounted ConfigMaps) is picked up too.
type Watcher struct {
	path     string
	loader   *Loader
	debounce time.Duration
	log      logger.Logger

	fs        *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	callbacks []func(*Config)
	running   bool
	reloads   int
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the file must stay quiet before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherLogger sets the logger. The global logger is used by default.
func WithWatcherLogger(l logger.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher creates a watcher for configPath. Reloads go through loader so
// its command line overrides are replayed.
func NewWatcher(configPath string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if configPath == "" {
		return nil, errors.New("config path is required for watching")
	}
	abs, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		path:     abs,
		loader:   loader,
		debounce: DefaultDebounce,
		log:      logger.Global(),
		fs:       fsw,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// OnChange registers a callback for reloaded configs. Callbacks run one at
// a time on the watch goroutine, in registration order.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Reloads returns how many reloads reached the callbacks.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Watch blocks until ctx is done or Stop is called.
func (w *Watcher) Watch(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return ErrWatcherRunning
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if _, err := os.Stat(w.path); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	quiet := time.NewTimer(w.debounce)
	quiet.Stop()
	defer quiet.Stop()
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			quiet.Reset(w.debounce)
			fire = quiet.C
		case <-fire:
			fire = nil
			w.reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader.Reload(w.path)
	if err != nil {
		w.log.Error("config reload rejected, keeping current", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.reloads++
	callbacks := slices.Clone(w.callbacks)
	w.mu.Unlock()

	w.log.Info("config reloaded", "path", w.path, "callbacks", len(callbacks))
	for _, fn := range callbacks {
		w.notify(fn, cfg)
	}
}

func (w *Watcher) notify(fn func(*Config), cfg *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("config callback panic", "path", w.path, "panic", r)
		}
	}()
	fn(cfg)
}

// Stop ends Watch and releases the fsnotify handle. It is safe to call
// more than once.
func (w *Watcher) Stop() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
	})
	return err
}
