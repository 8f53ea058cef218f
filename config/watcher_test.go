package config

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goclaw/memopt/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logger.Logger {
	return logger.New(&logger.Config{Level: logger.ErrorLevel, Writer: io.Discard})
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func startWatcher(t *testing.T, w *Watcher) <-chan error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = w.Stop()
	})
	// fsnotify registration happens inside Watch.
	time.Sleep(100 * time.Millisecond)
	return errc
}

func TestNewWatcher(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "app:\n  name: test\n")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(50*time.Millisecond), WithDebounce(0))
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, filepath.IsAbs(w.Path()))
	assert.Equal(t, path, w.Path())
	assert.Equal(t, 50*time.Millisecond, w.debounce, "non-positive debounce is ignored")

	_, err = NewWatcher("", NewLoader())
	assert.Error(t, err)
}

func TestWatcher_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "log:\n  level: info\n")

	loader := NewLoader()
	_, err := loader.Load(path, nil)
	require.NoError(t, err)

	w, err := NewWatcher(path, loader, WithDebounce(50*time.Millisecond), WithWatcherLogger(quietLogger()))
	require.NoError(t, err)

	var mu sync.Mutex
	var got []*Config
	w.OnChange(func(cfg *Config) {
		mu.Lock()
		got = append(got, cfg)
		mu.Unlock()
	})
	startWatcher(t, w)

	writeConfig(t, path, "log:\n  level: debug\noptimizer:\n  boost_threshold: 0.85\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, 2*time.Second, 20*time.Millisecond)

	mu.Lock()
	last := got[len(got)-1]
	mu.Unlock()
	assert.Equal(t, "debug", last.Log.Level)
	assert.Equal(t, 0.85, last.Optimizer.BoostThreshold)
	assert.GreaterOrEqual(t, w.Reloads(), 1)
}

func TestWatcher_ReloadsOnRenameReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "optimizer:\n  min_sample_size: 10\n")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(50*time.Millisecond), WithWatcherLogger(quietLogger()))
	require.NoError(t, err)

	sizes := make(chan int, 4)
	w.OnChange(func(cfg *Config) { sizes <- cfg.Optimizer.MinSampleSize })
	startWatcher(t, w)

	tmp := filepath.Join(dir, "config.yaml.tmp")
	writeConfig(t, tmp, "optimizer:\n  min_sample_size: 42\n")
	require.NoError(t, os.Rename(tmp, path))

	select {
	case n := <-sizes:
		assert.Equal(t, 42, n)
	case <-time.After(2 * time.Second):
		t.Fatal("no reload after the file was replaced")
	}
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "app:\n  name: test\n")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(30*time.Millisecond), WithWatcherLogger(quietLogger()))
	require.NoError(t, err)
	startWatcher(t, w)

	writeConfig(t, filepath.Join(dir, "other.yaml"), "app:\n  name: other\n")
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, w.Reloads())
}

func TestWatcher_InvalidFileKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "app:\n  name: test\n")

	w, err := NewWatcher(path, NewLoader(), WithDebounce(30*time.Millisecond), WithWatcherLogger(quietLogger()))
	require.NoError(t, err)
	called := make(chan struct{}, 1)
	w.OnChange(func(*Config) { called <- struct{}{} })
	startWatcher(t, w)

	writeConfig(t, path, "optimizer:\n  penalty_threshold: 0.95\n")
	select {
	case <-called:
		t.Fatal("invalid config reached the callbacks")
	case <-time.After(300 * time.Millisecond):
	}
	assert.Zero(t, w.Reloads())
}

func TestWatcher_CallbacksRunInOrderAndSurvivePanics(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "app:\n  name: test\n")

	w, err := NewWatcher(path, NewLoader(), WithWatcherLogger(quietLogger()))
	require.NoError(t, err)
	defer w.Stop()

	var order []string
	w.OnChange(func(*Config) { order = append(order, "first") })
	w.OnChange(func(*Config) { panic("boom") })
	w.OnChange(func(*Config) { order = append(order, "third") })

	w.reload()

	assert.Equal(t, []string{"first", "third"}, order)
	assert.Equal(t, 1, w.Reloads())
}

func TestWatcher_Lifecycle(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "app:\n  name: test\n")

	t.Run("context cancel", func(t *testing.T) {
		w, err := NewWatcher(path, NewLoader())
		require.NoError(t, err)
		defer w.Stop()

		ctx, cancel := context.WithCancel(context.Background())
		errc := make(chan error, 1)
		go func() { errc <- w.Watch(ctx) }()
		time.Sleep(50 * time.Millisecond)
		cancel()

		select {
		case err := <-errc:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("watcher did not stop on cancel")
		}
	})

	t.Run("second watch rejected", func(t *testing.T) {
		w, err := NewWatcher(path, NewLoader())
		require.NoError(t, err)
		startWatcher(t, w)

		err = w.Watch(context.Background())
		assert.True(t, errors.Is(err, ErrWatcherRunning))
	})

	t.Run("stop ends watch and is idempotent", func(t *testing.T) {
		w, err := NewWatcher(path, NewLoader())
		require.NoError(t, err)
		errc := make(chan error, 1)
		go func() { errc <- w.Watch(context.Background()) }()
		time.Sleep(50 * time.Millisecond)

		require.NoError(t, w.Stop())
		require.NoError(t, w.Stop())
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("watcher did not stop")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		w, err := NewWatcher(filepath.Join(dir, "absent.yaml"), NewLoader())
		require.NoError(t, err)
		defer w.Stop()
		assert.Error(t, w.Watch(context.Background()))
	})
}

func TestHotReloadable(t *testing.T) {
	base := ExtractHotReloadable(DefaultConfig())
	assert.False(t, base.Changed(base))

	next := base
	next.LogLevel = "debug"
	assert.True(t, base.Changed(next))

	next = base
	next.Optimizer.CacheTTL = 5 * time.Minute
	assert.True(t, base.Changed(next))
}

func TestDiff(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	b.Log.Level = "warn"
	b.Optimizer.BoostThreshold = 0.9
	b.Server.Port = 9000
	b.Tracing.Headers = map[string]string{"x-api-key": "k"}

	hot, restart := Diff(a, b)
	assert.Equal(t, []string{"log.level", "optimizer.boost_threshold"}, hot)
	assert.Equal(t, []string{"server.port", "tracing.headers"}, restart)

	hot, restart = Diff(a, DefaultConfig())
	assert.Empty(t, hot)
	assert.Empty(t, restart)
}

func TestDiff_SourceGuardIsRestartOnly(t *testing.T) {
	b := DefaultConfig()
	b.Optimizer.SourceTimeout = 9 * time.Second
	b.Optimizer.SourceRateLimit = 1
	b.Optimizer.SourceBurst = 2

	hot, restart := Diff(DefaultConfig(), b)
	assert.Empty(t, hot)
	assert.Equal(t, []string{
		"optimizer.source_burst",
		"optimizer.source_rate_limit",
		"optimizer.source_timeout",
	}, restart)

	assert.False(t, ExtractHotReloadable(DefaultConfig()).Changed(ExtractHotReloadable(b)))
}

func TestHotReloadable_ApplyKeepsSourceGuard(t *testing.T) {
	running := DefaultConfig()
	next := DefaultConfig()
	next.Log.Level = "debug"
	next.Optimizer.CacheTTL = 5 * time.Minute
	next.Optimizer.SourceTimeout = 9 * time.Second
	next.Server.Port = 9000

	live := ExtractHotReloadable(next).Apply(running)
	assert.Equal(t, "debug", live.Log.Level)
	assert.Equal(t, 5*time.Minute, live.Optimizer.CacheTTL)
	assert.Equal(t, running.Optimizer.SourceTimeout, live.Optimizer.SourceTimeout)
	assert.Equal(t, running.Optimizer.GuardConfig(), live.Optimizer.GuardConfig())
	assert.Equal(t, 8080, live.Server.Port)
	assert.Equal(t, "info", running.Log.Level, "running config is not mutated")
}

func TestLoader_ReloadDropsRemovedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeConfig(t, path, "optimizer:\n  cache_ttl: 5m\n")

	loader := NewLoader()
	cfg, err := loader.Load(path, map[string]any{"server.port": 9000})
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, cfg.Optimizer.CacheTTL)

	writeConfig(t, path, "log:\n  level: warn\n")
	cfg, err = loader.Reload(path)
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Optimizer.CacheTTL, "removed key falls back to its default")
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 9000, cfg.Server.Port, "overrides survive reload")
}
