package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/keyguard/internal/adapters/http/api"
	"github.com/okian/keyguard/internal/adapters/http/site"
	"github.com/okian/keyguard/internal/adapters/http/swagger"
	app "github.com/okian/keyguard/internal/app"
	"github.com/okian/keyguard/internal/config"
	"github.com/okian/keyguard/pkg/logger"
	"github.com/okian/keyguard/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	serviceMetricsInterval    = 5 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.Get()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// defaults -> optional file -> env
	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal(ctx, "failed to load config", logger.Error(err))
	}

	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc := app.New(append(app.FromConfig(cfg), app.WithLogger(log.Named("service")))...)
	if err := svc.Start(ctx); err != nil {
		log.Fatal(ctx, "failed to start service", logger.Error(err))
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)
	go startServiceMetricsUpdater(ctx, svc)

	if path := os.Getenv(config.EnvConfigPath); cfg.WatchConfig && path != "" {
		go watchConfig(ctx, path, svc, log)
	}

	mux, err := newMux(ctx, svc, cfg, log)
	if err != nil {
		log.Fatal(ctx, "failed to build routes", logger.Error(err))
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("store", cfg.StoreDriver),
			logger.String("modelVersion", cfg.ModelVersion),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error(ctx, "HTTP server failed", logger.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
}

// newMux registers the docs site, API docs and business routes.
func newMux(ctx context.Context, svc *app.Service, cfg *config.Config, log logger.Logger) (*http.ServeMux, error) {
	mux := http.NewServeMux()

	site.Register(ctx, mux)
	swagger.Register(ctx, mux)

	apiServer, err := api.NewServer(svc, svc,
		api.WithMaxEvents(cfg.MaxEvents),
		api.WithLogger(log.Named("http")),
	)
	if err != nil {
		return nil, err
	}
	apiServer.Register(mux)
	return mux, nil
}

// watchConfig hot-reloads thresholds, enrollment minimums and log level.
func watchConfig(ctx context.Context, path string, svc *app.Service, log logger.Logger) {
	onChange := func(cfg *config.Config) {
		if err := svc.ApplyConfig(ctx, cfg); err != nil {
			log.Warn(ctx, "rejected config reload", logger.String("path", path), logger.Error(err))
			return
		}
		if err := logger.SetLevelString(cfg.LogLevel); err != nil {
			log.Warn(ctx, "invalid log_level in reload", logger.String("log_level", cfg.LogLevel))
		}
	}
	onError := func(err error) {
		log.Warn(ctx, "config reload failed", logger.String("path", path), logger.Error(err))
	}

	log.Info(ctx, "watching config", logger.String("path", path))
	if err := config.Watch(ctx, path, config.DefaultDebounce, onChange, onError); err != nil {
		log.Error(ctx, "config watcher stopped", logger.Error(err))
	}
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// startServiceMetricsUpdater refreshes the queue, worker and enrollment gauges.
func startServiceMetricsUpdater(ctx context.Context, svc *app.Service) {
	ticker := time.NewTicker(serviceMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// GetStats pushes the gauges as a side effect.
			_ = svc.GetStats()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
