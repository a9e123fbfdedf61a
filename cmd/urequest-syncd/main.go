// Package main implements the uRequest sync daemon. It keeps a live
// copy of the audience song-request list synchronized with the backend
// over NATS, serving it resiliently through a bounded cache, a circuit
// breaker, and a priority request queue, and exposes metrics and health
// over HTTP.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fusioneventsak/urequest-live-sub001/config"
	"github.com/fusioneventsak/urequest-live-sub001/errors"
	"github.com/fusioneventsak/urequest-live-sub001/health"
	"github.com/fusioneventsak/urequest-live-sub001/metric"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/breaker"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/cache"
	"github.com/fusioneventsak/urequest-live-sub001/pkg/queue"
	"github.com/fusioneventsak/urequest-live-sub001/realtime"
	"github.com/fusioneventsak/urequest-live-sub001/syncer"
	"github.com/fusioneventsak/urequest-live-sub001/types"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "urequest-syncd"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Daemon failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting uRequest sync daemon",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	return runDaemon(cfg, cliCfg.ShutdownTimeout, logger)
}

func runDaemon(cfg *config.Config, shutdownTimeout time.Duration, logger *slog.Logger) error {
	ctx := context.Background()
	adapter := &slogAdapter{logger: logger}

	metricsRegistry := metric.NewMetricsRegistry()

	transport := buildTransport(cfg, adapter)
	manager, err := realtime.NewManager(transport, cfg.Realtime.ManagerConfig(),
		realtime.WithMetrics(metricsRegistry),
		realtime.WithLogger(adapter))
	if err != nil {
		return fmt.Errorf("create connection manager: %w", err)
	}

	requestCache, err := cache.NewFromConfig[[]types.Request](ctx, cfg.Cache,
		cache.WithMetrics[[]types.Request](metricsRegistry, "requests"),
		cache.WithLogger[[]types.Request](adapter))
	if err != nil {
		return fmt.Errorf("create cache: %w", err)
	}

	breakerOpts := []breaker.RegistryOption{breaker.WithMetrics(metricsRegistry)}
	for name, section := range cfg.Breaker.Overrides {
		breakerOpts = append(breakerOpts, breaker.WithOverride(name, section.Settings()))
	}
	breakers := breaker.NewRegistry(cfg.Breaker.Defaults.Settings(), breakerOpts...)

	requestQueue, err := queue.New[[]types.Request](cfg.Queue,
		queue.WithMetrics[[]types.Request](metricsRegistry, "requests"),
		queue.WithLogger[[]types.Request](adapter))
	if err != nil {
		return fmt.Errorf("create queue: %w", err)
	}

	requestSyncer, err := syncer.New(cfg.Syncer,
		buildFetcher(transport, cfg.Realtime.FetchSubject),
		requestCache,
		breakers.Get(cfg.Syncer.Service),
		requestQueue,
		manager,
		syncer.WithMetrics(metricsRegistry),
		syncer.WithLogger(adapter))
	if err != nil {
		return fmt.Errorf("create syncer: %w", err)
	}

	monitor := health.NewMonitor()
	monitor.RegisterCheck("realtime", func() health.Status {
		return health.ConnectionStatus(manager)
	})
	monitor.RegisterCheck("breakers", func() health.Status {
		return health.Aggregate("breakers", health.BreakerRegistryStatuses(breakers))
	})
	monitor.RegisterCheck("queue", func() health.Status {
		return health.QueueStatus(requestQueue, cfg.Queue.MaxQueueSize)
	})
	monitor.RegisterCheck("cache", func() health.Status {
		return health.CacheStatus(requestCache)
	})

	var metricServer *metric.Server
	if cfg.Metrics.Enabled {
		metricServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metricsRegistry)
		if err := metricServer.Handle("/healthz", monitor.Handler(appName)); err != nil {
			return fmt.Errorf("register health endpoint: %w", err)
		}
		if err := metricServer.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		slog.Info("Metrics server listening",
			"port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
	}

	// A failed first connect is not fatal; the manager keeps retrying on
	// its backoff schedule and the syncer serves from cache meanwhile.
	if err := manager.Init(ctx); err != nil {
		return fmt.Errorf("initialize connection manager: %w", err)
	}
	if err := requestSyncer.Start(ctx); err != nil {
		return fmt.Errorf("start syncer: %w", err)
	}

	slog.Info("uRequest sync daemon started",
		"nats_url", cfg.Realtime.URL,
		"topic", cfg.Syncer.Topic,
		"fetch_subject", cfg.Realtime.FetchSubject)

	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdown(shutdownCtx, requestSyncer, manager, requestQueue, requestCache, metricServer)

	slog.Info("uRequest sync daemon shutdown complete")
	return nil
}

// buildTransport assembles the NATS transport from config.
func buildTransport(cfg *config.Config, logger realtime.Logger) *realtime.NATSTransport {
	opts := []realtime.NATSOption{
		realtime.WithName(cfg.Realtime.Name),
		realtime.WithTimeout(cfg.Realtime.ConnectTimeout),
		realtime.WithTransportLogger(logger),
	}
	if cfg.Realtime.Username != "" && cfg.Realtime.Password != "" {
		opts = append(opts, realtime.WithCredentials(cfg.Realtime.Username, cfg.Realtime.Password))
	}
	if cfg.Realtime.Token != "" {
		opts = append(opts, realtime.WithToken(cfg.Realtime.Token))
	}
	return realtime.NewNATSTransport(cfg.Realtime.URL, opts...)
}

// buildFetcher returns the backend fetch: a request/reply round trip on
// the fetch subject, decoding the JSON request list.
func buildFetcher(transport *realtime.NATSTransport, subject string) syncer.Fetcher {
	return func(ctx context.Context) ([]types.Request, error) {
		data, err := transport.Request(ctx, subject, nil)
		if err != nil {
			return nil, err
		}

		var requests []types.Request
		if err := json.Unmarshal(data, &requests); err != nil {
			return nil, errors.WrapInvalid(err, "main", "fetchRequests", "decode request list")
		}
		return requests, nil
	}
}

// shutdown tears components down in dependency order: consumers before
// the infrastructure they consume.
func shutdown(
	ctx context.Context,
	requestSyncer *syncer.Syncer,
	manager *realtime.Manager,
	requestQueue *queue.Queue[[]types.Request],
	requestCache cache.Cache[[]types.Request],
	metricServer *metric.Server,
) {
	requestSyncer.Close()
	manager.Cleanup()

	if err := requestQueue.Close(); err != nil {
		slog.Error("Queue close failed", "error", err)
	}
	if err := requestCache.Close(); err != nil {
		slog.Error("Cache close failed", "error", err)
	}

	if metricServer != nil {
		if err := metricServer.Stop(ctx); err != nil {
			slog.Error("Metrics server stop failed", "error", err)
		}
	}
}
