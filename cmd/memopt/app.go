package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goclaw/memopt/config"
	"github.com/goclaw/memopt/pkg/api"
	"github.com/goclaw/memopt/pkg/api/handlers"
	"github.com/goclaw/memopt/pkg/cache"
	"github.com/goclaw/memopt/pkg/effectiveness"
	"github.com/goclaw/memopt/pkg/logger"
	"github.com/goclaw/memopt/pkg/metrics"
	"github.com/goclaw/memopt/pkg/outcome"
	"github.com/goclaw/memopt/pkg/relevance"
	"github.com/redis/go-redis/v9"
)

// app holds the wired components of a running memopt process.
type app struct {
	mu        sync.Mutex
	cfg       *config.Config
	log       logger.Logger
	metrics   *metrics.Manager
	store     outcome.Store
	redis     *redis.Client
	analyzer  *effectiveness.Analyzer
	optimizer *relevance.Optimizer
	health    *handlers.HealthHandler
	server    *api.HTTPServer
}

// newApp wires storage, caches, the engine and the HTTP surface from cfg.
func newApp(cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewManager(cfg.Metrics.MetricsManagerConfig())
	} else {
		a.metrics = metrics.NoOpManager()
	}

	store, err := openStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store
	log.Info("Initialized outcome store", "type", cfg.Storage.Type)

	source := outcome.NewGuarded(store, cfg.Optimizer.GuardConfig(), a.metrics)

	a.analyzer = effectiveness.NewAnalyzer(source, cfg.Optimizer.AnalyzerConfig(),
		effectiveness.WithLogger(log.With("component", "effectiveness")),
		effectiveness.WithMetrics(a.metrics),
		effectiveness.WithMetricsSink(a.metrics.Sink()),
	)

	optOpts := []relevance.Option{
		relevance.WithLogger(log.With("component", "relevance")),
		relevance.WithMetrics(a.metrics),
		relevance.WithMetricsSink(a.metrics.Sink()),
	}
	if cfg.Cache.Type == "redis" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:        cfg.Cache.Redis.Address,
			Password:    cfg.Cache.Redis.Password,
			DB:          cfg.Cache.Redis.DB,
			DialTimeout: cfg.Cache.Redis.DialTimeout,
		})
		optOpts = append(optOpts, redisCaches(a.redis, cfg, log)...)
		log.Info("Using Redis recommendation cache", "address", cfg.Cache.Redis.Address, "db", cfg.Cache.Redis.DB)
	}
	a.optimizer = relevance.NewOptimizer(a.analyzer, cfg.Optimizer.RelevanceConfig(), optOpts...)

	a.health = handlers.NewHealthHandler(a.checks())
	a.server = api.NewHTTPServer(cfg, log, &api.Handlers{
		Optimizer: handlers.NewOptimizerHandler(a.optimizer, a.analyzer, log.With("component", "api")),
		Outcomes:  handlers.NewOutcomeHandler(store, log.With("component", "api")),
		Health:    a.health,
		Metrics:   a.metrics,
	})
	return a, nil
}

func openStore(cfg config.StorageConfig) (outcome.Store, error) {
	switch cfg.Type {
	case "badger":
		store, err := outcome.OpenBadgerStore(cfg.Badger.StoreConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open badger outcome store: %w", err)
		}
		return store, nil
	default:
		return outcome.NewMemoryStore(), nil
	}
}

// redisCaches builds the optimizer caches on a shared Redis. Each cache gets
// its own key space under the configured prefix.
func redisCaches(client *redis.Client, cfg *config.Config, log logger.Logger) []relevance.Option {
	rcfg := cfg.Optimizer.RelevanceConfig()
	prefix := cfg.Cache.Redis.Prefix
	onErr := func(op, key string, err error) {
		log.Warn("recommendation cache unavailable", "op", op, "key", key, "error", err)
	}

	params := cache.NewRedis[relevance.RetrievalOptimization](client, prefix+"params:", relevance.ParamsCacheTTL(rcfg))
	params.OnError = onErr
	boosts := cache.NewRedis[[]relevance.VectorOptimization](client, prefix+"boosts:", rcfg.ManualBoostTTL)
	boosts.OnError = onErr
	recs := cache.NewRedis[relevance.VectorRecommendations](client, prefix+"vector-recs:", rcfg.CacheTTL)
	recs.OnError = onErr

	return []relevance.Option{
		relevance.WithParamsCache(params),
		relevance.WithBoostCache(boosts),
		relevance.WithRecommendationCache(recs),
	}
}

func (a *app) checks() map[string]handlers.CheckFunc {
	checks := map[string]handlers.CheckFunc{
		"outcome_store": func(ctx context.Context) error {
			_, err := a.store.GetConversationAnalyses(ctx, "health", "health", 1)
			return err
		},
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}
	}
	return checks
}

// applyConfig pushes hot-reloadable settings into the running components.
func (a *app) applyConfig(cfg *config.Config) {
	if err := cfg.Validate(); err != nil {
		a.log.Error("Reloaded config is invalid, keeping current", "error", err)
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	hot, restart := config.Diff(a.cfg, cfg)
	if len(restart) > 0 {
		a.log.Warn("Reloaded config changes need a restart", "keys", restart)
	}
	old := config.ExtractHotReloadable(a.cfg)
	next := config.ExtractHotReloadable(cfg)
	if !old.Changed(next) {
		return
	}

	a.log.SetLevel(logger.ParseLevel(next.LogLevel))
	a.analyzer.SetConfig(next.Optimizer.AnalyzerConfig())
	a.optimizer.SetConfig(next.Optimizer.RelevanceConfig())
	// Restart-only values keep describing what is actually running.
	a.cfg = next.Apply(a.cfg)
	a.log.Info("Applied reloaded configuration", "keys", hot)
}

// close releases storage and cache connections.
func (a *app) close() error {
	var errs []error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close outcome store: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// shutdown drains the HTTP server then closes resources.
func (a *app) shutdown(timeout time.Duration) error {
	a.health.SetDraining(true)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
