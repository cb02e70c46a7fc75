package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"autumn/modules/cache"
	"autumn/modules/config"
	"autumn/modules/debounce"
	"autumn/modules/glob"
	"autumn/modules/metrics"
	"autumn/modules/pipeline"
	"autumn/modules/reload"
	"autumn/modules/watcher"
)

// app wires one loaded configuration into a runnable pipeline.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *metrics.Recorder
	resolver *glob.Resolver
	notifier *reload.Notifier
	pipeline *pipeline.Pipeline
	watcher  *watcher.Watcher

	mu   sync.Mutex
	last *pipeline.Report

	metricsSrv *http.Server
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	entries, err := cfg.PipelineEntries()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics.New(nil),
		resolver: glob.NewResolver(logger),
	}
	a.notifier = reload.NewNotifier(reload.WithMetrics(a.metrics), reload.WithLogger(logger))

	manifest := loadManifest(cfg.Build.Manifest, logger)
	opts := []pipeline.Option{
		pipeline.WithResolver(a.resolver),
		pipeline.WithManifest(manifest, cfg.Build.Manifest),
		pipeline.WithConcurrency(cfg.Build.Concurrency),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(logger),
	}
	if d := cfg.ReloadDirective(); d != nil {
		opts = append(opts, pipeline.WithReload(a.notifier, *d))
	}
	a.pipeline = pipeline.New(entries, opts...)

	gate := debounce.New(cfg.Watch.QuietPeriod.Duration)
	a.watcher = watcher.New(gate,
		watcher.WithResolver(a.resolver),
		watcher.WithMetrics(a.metrics),
		watcher.WithLogger(logger),
	)
	return a, nil
}

// loadManifest falls back to an empty manifest when the stored one cannot
// be read; it is rebuilt by the next run.
func loadManifest(path string, logger *slog.Logger) *cache.Manifest {
	if path == "" {
		return cache.NewManifest()
	}
	m, err := cache.Load(path)
	if err != nil {
		logger.Warn("Ignoring unreadable manifest", "path", path, "error", err)
		return cache.NewManifest()
	}
	return m
}

func (a *app) build(ctx context.Context) {
	report := a.pipeline.Run(ctx)
	a.mu.Lock()
	a.last = report
	a.mu.Unlock()
}

func (a *app) lastReport() *pipeline.Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.last
}

// Start runs the pipeline once. With watch set it then blocks, rebuilding on
// change, until ctx is cancelled. Without it the result of the single run
// is returned.
func (a *app) Start(ctx context.Context, watch bool) error {
	if err := a.serveMetrics(); err != nil {
		return err
	}

	session, err := a.watcher.Watch(ctx, a.watchPatterns(), func() { a.build(ctx) }, watch)
	if err != nil {
		return fmt.Errorf("starting watch: %w", err)
	}

	if !watch {
		if r := a.lastReport(); r != nil {
			return r.Err()
		}
		return nil
	}

	select {
	case <-ctx.Done():
		a.logger.Info("Stopping watch", "group", session.ID)
	case <-session.Done():
	}
	return session.Close()
}

// watchPatterns falls back to every entry's files when watch.patterns is unset.
func (a *app) watchPatterns() []string {
	if len(a.cfg.Watch.Patterns) > 0 {
		return a.cfg.Watch.Patterns
	}
	return a.pipeline.Patterns()
}

func (a *app) serveMetrics() error {
	addr := a.cfg.Metrics.Listen
	if addr == "" {
		return nil
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	r.Mount("/debug", middleware.Profiler())

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	a.metricsSrv = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := a.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics listener stopped", "addr", addr, "error", err)
		}
	}()
	a.logger.Info("Serving metrics", "addr", addr)
	return nil
}

func (a *app) Close() error {
	var errs []error
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.metricsSrv.Shutdown(ctx))
		cancel()
	}
	errs = append(errs, a.notifier.Close())
	return errors.Join(errs...)
}
