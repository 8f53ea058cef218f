package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goclaw/memopt/config"
	"github.com/goclaw/memopt/pkg/logger"
	"github.com/goclaw/memopt/pkg/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logger.Logger {
	return logger.New(&logger.Config{Level: logger.ErrorLevel, Format: "json", Writer: io.Discard})
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestParseFlags_Overrides(t *testing.T) {
	opts, err := parseFlags([]string{"-port", "9000", "-storage", "badger", "-cache", "redis", "-debug"}, io.Discard)
	require.NoError(t, err)

	overrides := opts.overrides()
	assert.Equal(t, 9000, overrides["server.port"])
	assert.Equal(t, "badger", overrides["storage.type"])
	assert.Equal(t, "redis", overrides["cache.type"])
	assert.Equal(t, "debug", overrides["log.level"])
	assert.Equal(t, true, overrides["app.debug"])
}

func TestParseFlags_Empty(t *testing.T) {
	opts, err := parseFlags(nil, io.Discard)
	require.NoError(t, err)
	assert.Empty(t, opts.overrides())
	assert.True(t, opts.watch)
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run(context.Background(), []string{"-version"}, &out, io.Discard))
	assert.True(t, strings.HasPrefix(out.String(), "memopt "))
}

func TestRun_InvalidConfig(t *testing.T) {
	err := run(context.Background(), []string{"-storage", "postgres"}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestNewApp_MemoryBackends(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false

	a, err := newApp(cfg, testLogger())
	require.NoError(t, err)
	defer a.close()

	assert.Nil(t, a.redis)
	assert.False(t, a.metrics.Enabled())

	ctx := context.Background()
	for name, check := range a.checks() {
		assert.NoError(t, check(ctx), name)
	}
}

func TestNewApp_BadgerStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Storage.Type = "badger"
	cfg.Storage.Badger.Path = filepath.Join(t.TempDir(), "outcomes")

	a, err := newApp(cfg, testLogger())
	require.NoError(t, err)

	rec := memory.ConversationAnalysis{
		ConversationID: "c1", UserID: "u1", BotID: "b1",
		Outcome: memory.OutcomeGood, Timestamp: time.Now(),
	}
	require.NoError(t, a.store.Record(context.Background(), rec))

	got, err := a.store.GetConversationAnalyses(context.Background(), "u1", "b1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NoError(t, a.close())
}

func TestApp_ApplyConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Metrics.Enabled = false
	log := testLogger()
	a, err := newApp(cfg, log)
	require.NoError(t, err)
	defer a.close()

	next := config.DefaultConfig()
	next.Log.Level = "debug"
	next.Optimizer.BoostThreshold = 0.9
	next.Optimizer.MinSampleSize = 20
	next.Metrics.Enabled = true
	next.Optimizer.SourceTimeout = 9 * time.Second
	a.applyConfig(next)

	assert.Equal(t, logger.DebugLevel, log.GetLevel())
	assert.Equal(t, 0.9, a.optimizer.Config().BoostThreshold)
	assert.Equal(t, 20, a.analyzer.Config().MinSampleSize)
	assert.False(t, a.cfg.Metrics.Enabled, "restart-only keys keep the running value")
	assert.Equal(t, "debug", a.cfg.Log.Level)
	assert.Equal(t, config.DefaultConfig().Optimizer.SourceTimeout, a.cfg.Optimizer.SourceTimeout,
		"the source guard is built once and keeps its startup settings")

	invalid := config.DefaultConfig()
	invalid.Optimizer.PenaltyThreshold = 0.95
	a.applyConfig(invalid)
	assert.Equal(t, 0.9, a.optimizer.Config().BoostThreshold)
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	port := freePort(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := fmt.Sprintf(`
server:
  host: 127.0.0.1
  port: %d
log:
  level: error
  output: stderr
metrics:
  enabled: false
`, port)
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, []string{"-config", path}, io.Discard, io.Discard)
	}()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}
