// Command memopt serves the memory effectiveness analyzer and relevance
// optimizer over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/goclaw/memopt/config"
	"github.com/goclaw/memopt/pkg/logger"
	"github.com/goclaw/memopt/pkg/telemetry/tracing"
	"github.com/goclaw/memopt/pkg/version"
)

// options are the command line flags.
type options struct {
	configPath string
	version    bool
	watch      bool

	// CLI overrides
	port        int
	logLevel    string
	storageType string
	cacheType   string
	debug       bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("memopt", flag.ContinueOnError)
	fs.SetOutput(stderr)

	o := &options{}
	fs.StringVar(&o.configPath, "config", "", "Path to configuration file")
	fs.BoolVar(&o.version, "version", false, "Print version information")
	fs.BoolVar(&o.watch, "watch", true, "Reload optimizer settings and log level when the config file changes")
	fs.IntVar(&o.port, "port", 0, "Override server port")
	fs.StringVar(&o.logLevel, "log-level", "", "Override log level")
	fs.StringVar(&o.storageType, "storage", "", "Override outcome storage type (memory, badger)")
	fs.StringVar(&o.cacheType, "cache", "", "Override recommendation cache type (memory, redis)")
	fs.BoolVar(&o.debug, "debug", false, "Enable debug mode")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "memopt - memory effectiveness analysis and retrieval optimization\n\n")
		fmt.Fprintf(stderr, "Usage: memopt [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  memopt -config config.yaml\n")
		fmt.Fprintf(stderr, "  memopt -port 9090 -log-level debug -storage badger\n")
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *options) overrides() map[string]interface{} {
	overrides := make(map[string]interface{})
	if o.port != 0 {
		overrides["server.port"] = o.port
	}
	if o.logLevel != "" {
		overrides["log.level"] = o.logLevel
	}
	if o.storageType != "" {
		overrides["storage.type"] = o.storageType
	}
	if o.cacheType != "" {
		overrides["cache.type"] = o.cacheType
	}
	if o.debug {
		overrides["app.debug"] = true
		overrides["log.level"] = "debug"
	}
	return overrides
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "memopt: %v\n", err)
		os.Exit(1)
	}
}

// run starts memopt and blocks until ctx is cancelled or the HTTP server fails.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if opts.version {
		fmt.Fprintln(stdout, version.Get().String())
		return nil
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(opts.configPath, opts.overrides())
	if err != nil {
		return fmt.Errorf("failed to load configuration:\n%w", err)
	}
	if cfg.App.Version == "" || cfg.App.Version == "dev" {
		cfg.App.Version = version.Version
	}

	log := logger.New(&logger.Config{
		Level:   logger.ParseLevel(cfg.Log.Level),
		Format:  cfg.Log.Format,
		Output:  cfg.Log.Output,
		Service: cfg.App.Name,
	})
	defer log.Close()
	logger.SetGlobal(log)

	log.Info("Starting memopt",
		"version", version.Version,
		"git_commit", version.GitCommit,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	shutdownTracing, err := tracing.Init(ctx, cfg.TracingProviderConfig(), cfg.App.Name, cfg.App.Version)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), cfg.Tracing.Timeout)
		defer cancel()
		if err := shutdownTracing(tctx); err != nil {
			log.Warn("Tracing shutdown failed", "error", err)
		}
	}()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.metrics.Enabled() {
		go func() {
			log.Info("Starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
			if err := a.metrics.StartServer(ctx, cfg.Metrics.Port, cfg.Metrics.Path); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("Metrics server error", "error", err)
			}
		}()
	}

	if opts.watch && opts.configPath != "" {
		watcher, err := config.NewWatcher(opts.configPath, loader, config.WithWatcherLogger(log))
		if err != nil {
			log.Warn("Config hot reload disabled", "error", err)
		} else {
			watcher.OnChange(a.applyConfig)
			go func() {
				if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					log.Warn("Config watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()
		}
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	log.Info("memopt is running",
		"http_address", cfg.Server.Address(),
		"metrics_port", cfg.Metrics.Port,
		"storage", cfg.Storage.Type,
		"cache", cfg.Cache.Type,
	)

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Shutdown requested")
	case runErr = <-serverErr:
		log.Error("HTTP server error", "error", runErr)
	}

	if err := a.shutdown(cfg.Server.HTTP.ShutdownTimeout); err != nil {
		log.Error("Error during shutdown", "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	log.Info("memopt stopped")
	return runErr
}
