package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/koios/inkboard/internal/cache"
	"github.com/koios/inkboard/internal/config"
	"github.com/koios/inkboard/internal/delivery"
	"github.com/koios/inkboard/internal/devices"
	"github.com/koios/inkboard/internal/fleet"
	"github.com/koios/inkboard/internal/handlers"
	"github.com/koios/inkboard/internal/metrics"
	"github.com/koios/inkboard/internal/render"
	"github.com/koios/inkboard/internal/scheduler"
	"github.com/koios/inkboard/internal/screens"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	screenFlag := flag.String("screen", "", "render and push a single screen, then exit")
	previewFlag := flag.Bool("preview", false, "write preview PNGs instead of pushing to devices")
	flag.Parse()

	// Load configuration
	cfg, cfgErr := config.Load()

	// Initialize logger
	level := "info"
	if cfg != nil {
		level = cfg.LogLevel
	}
	logger, err := newLogger(level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if cfgErr != nil {
		logger.Fatal("Failed to load configuration", zap.Error(cfgErr))
	}

	metrics.Init()

	// Cache with optional Redis mirror
	cacheOpts := []cache.Option{
		cache.WithObserver(func(o cache.Outcome) { metrics.IncCacheLookup(string(o)) }),
	}
	if cfg.Redis.Addr != "" {
		mirror := cache.NewRedisMirror(&cfg.Redis, "inkboard")
		defer mirror.Close()

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := mirror.Ping(pingCtx); err != nil {
			logger.Warn("Redis unavailable, cache mirror disabled",
				zap.String("addr", cfg.Redis.Addr),
				zap.Error(err))
		} else {
			cacheOpts = append(cacheOpts, cache.WithMirror(mirror))
			logger.Info("Cache mirror enabled", zap.String("addr", cfg.Redis.Addr))
		}
		pingCancel()
	}
	dataCache := cache.New(logger, cacheOpts...)

	// Fleet backend and devices
	client := fleet.NewClient(&cfg.Fleet, logger)
	registry := devices.NewRegistry(client, cfg.Fleet.DeviceIDs, cfg.Canvas.Width, cfg.Canvas.Height, logger)

	// Screens
	dispatcher := render.NewDispatcher(cfg.Canvas.Width, cfg.Canvas.Height,
		time.Duration(cfg.Playlist.RenderTimeout)*time.Second, logger)
	set := screens.NewSet(dataCache, client, registry.FallbackID(), cfg.Weather,
		cfg.Canvas.Width, cfg.Canvas.Height, logger)
	if err := set.Register(dispatcher); err != nil {
		logger.Fatal("Failed to register screens", zap.Error(err))
	}

	deliverer := delivery.NewDeliverer(registry, client, logger)

	logger.Info("Inkboard starting",
		zap.String("fleet", cfg.Fleet.BaseURL()),
		zap.Strings("device_ids", cfg.Fleet.DeviceIDs),
		zap.Int("canvas_width", cfg.Canvas.Width),
		zap.Int("canvas_height", cfg.Canvas.Height),
		zap.Strings("screens", dispatcher.Names()))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// One-shot modes
	if *screenFlag != "" || *previewFlag {
		names := dispatcher.Names()
		if *screenFlag != "" {
			names = []string{*screenFlag}
		}
		if err := runOnce(ctx, dispatcher, deliverer, names, *previewFlag, logger); err != nil {
			logger.Fatal("One-shot run failed", zap.Error(err))
		}
		return
	}

	sched, err := scheduler.New(scheduler.Config{
		Playlist: knownScreens(dispatcher, cfg.Playlist.Screens, logger),
		Interval: time.Duration(cfg.Playlist.IntervalSeconds) * time.Second,
		Window: scheduler.ActiveWindow{
			StartMinute: cfg.Playlist.ActiveHours.StartMinute,
			EndMinute:   cfg.Playlist.ActiveHours.EndMinute,
		},
	}, dispatcher, deliverer, logger)
	if err != nil {
		logger.Fatal("Failed to create scheduler", zap.Error(err))
	}

	// Status API
	var httpServer *http.Server
	if cfg.Server.Port > 0 {
		catalog, err := screens.LoadCatalog(cfg.Server.CatalogFile)
		if err != nil {
			logger.Fatal("Failed to load screen catalog", zap.Error(err))
		}
		catalog.MarkAvailable(dispatcher.Names())

		mux := http.NewServeMux()
		handlers.NewStatusHandler(handlers.Dependencies{
			Scheduler: sched,
			Cache:     dataCache,
			Delivery:  deliverer,
			Devices:   registry,
			Renderer:  dispatcher,
			Catalog:   catalog,
		}, logger).RegisterRoutes(mux)

		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:      mux,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeout+cfg.Playlist.RenderTimeout) * time.Second,
		}

		go func() {
			logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.Port))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server failed", zap.Error(err))
				cancel()
			}
		}()
	}

	// Rotation
	done := make(chan error, 1)
	go func() {
		done <- sched.Run(ctx)
	}()

	stopped := false
	select {
	case <-ctx.Done():
		logger.Info("Shutting down...")
	case err := <-done:
		logger.Error("Scheduler stopped unexpectedly", zap.Error(err))
		stopped = true
		cancel()
	}

	// Give outstanding requests a deadline for completion
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown failed", zap.Error(err))
		}
	}

	if stopped {
		return
	}
	select {
	case <-done:
		logger.Info("Shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("Shutdown timeout exceeded")
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

// knownScreens drops playlist entries with no producer.
func knownScreens(d *render.Dispatcher, playlist []string, logger *zap.Logger) []string {
	registered := mapset.NewSet(d.Names()...)

	known := make([]string, 0, len(playlist))
	for _, name := range playlist {
		if !registered.Contains(name) {
			logger.Warn("Unknown screen in playlist, skipping", zap.String("screen", name))
			continue
		}
		known = append(known, name)
	}
	return known
}

// runOnce renders each named screen and either pushes it or writes
// preview_<name>.png to the working directory.
func runOnce(ctx context.Context, d *render.Dispatcher, deliverer *delivery.Deliverer, names []string, preview bool, logger *zap.Logger) error {
	var errs []error
	for _, name := range names {
		img, err := d.Render(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if !preview {
			report := deliverer.Deliver(ctx, img)
			logger.Info("Screen pushed",
				zap.String("screen", name),
				zap.Int("delivered", report.Delivered()),
				zap.Int("devices", len(report.Results)))
			continue
		}

		width, height := d.Canvas()
		data, err := delivery.Encode(img, width, height)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode %s: %w", name, err))
			continue
		}
		path := fmt.Sprintf("preview_%s.png", name)
		if err := os.WriteFile(path, data, 0644); err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", path, err))
			continue
		}
		logger.Info("Preview written", zap.String("screen", name), zap.String("path", path))
	}
	return errors.Join(errs...)
}
