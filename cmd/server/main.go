package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pv/poleko-monitor-go/internal/api"
	"github.com/pv/poleko-monitor-go/internal/config"
	"github.com/pv/poleko-monitor-go/internal/device"
	"github.com/pv/poleko-monitor-go/internal/instrument"
	"github.com/pv/poleko-monitor-go/internal/logger"
	"github.com/pv/poleko-monitor-go/internal/monitor"
	"github.com/pv/poleko-monitor-go/internal/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.Parse()
	logger.Init(cfg.LogFormat, logger.ParseLevel(cfg.LogLevel))

	if err := run(cfg); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.DBPath, storage.Options{QueryTimeout: cfg.QueryTimeout})
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("Using SQLite storage", "path", store.Path())

	catalog := device.NewCatalog()
	if err := instrument.Register(catalog); err != nil {
		return err
	}

	// A kind whose table cannot be created stays unusable; the others run.
	if err := store.EnsureSchema(ctx, catalog.Tables()); err != nil {
		logger.Warn("Some measurement tables are unavailable", "error", err)
	}

	hub := api.NewSSEHub()
	manager := monitor.NewManager(store, catalog, monitor.Env{
		Client:         instrument.NewHTTPClient(cfg.RequestTimeout),
		BufferSize:     cfg.BufferSize,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger.With("monitor"),
	})
	manager.SetEventCallback(hub.Publish)

	if _, err := manager.Load(ctx); err != nil {
		return fmt.Errorf("load devices: %w", err)
	}
	if cfg.DevicesFile != "" {
		if err := seedDevices(ctx, manager, catalog, cfg.DevicesFile); err != nil {
			return err
		}
	}
	if cfg.Autostart {
		if err := manager.StartAll(); err != nil {
			logger.Warn("Some devices did not start", "error", err)
		}
	}

	handlers := api.NewHandlers(manager, catalog, hub)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewServer(handlers),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", "addr", "http://localhost"+httpServer.Addr,
			"devices", manager.Len(), "buffer", cfg.BufferSize)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if cfg.Retention > 0 {
		g.Go(func() error {
			runPruner(gctx, manager, cfg.Retention, cfg.PruneInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Server shutdown error", "error", err)
		}
		// Final flushes must land before the store is closed.
		if err := manager.StopAll(shutdownCtx); err != nil {
			logger.Warn("Device shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("Server stopped")
	return err
}

// seedDevices registers devices listed in the YAML file that are not
// already known. Stored devices keep their stored settings, including the
// refresh override. Bad entries are logged and skipped.
func seedDevices(ctx context.Context, manager *monitor.Manager, catalog *device.Catalog, path string) error {
	entries, err := config.LoadDevicesFromYAML(path)
	if err != nil {
		return err
	}

	added := 0
	for _, e := range entries {
		ep, err := device.ParseEndpoint(e.IP, e.Port)
		if err != nil {
			logger.Warn("Skipping seed device", "ip", e.IP, "port", e.Port, "error", err)
			continue
		}
		if _, err := manager.Get(ep); err == nil {
			continue
		}

		dev, err := catalog.Build(device.Info{Endpoint: ep, Label: e.Label, Kind: e.Kind, Refresh: e.Refresh})
		if err != nil {
			logger.Warn("Skipping seed device", "device", ep.String(), "error", err)
			continue
		}

		if _, err := manager.Add(ctx, dev); err != nil {
			logger.Warn("Skipping seed device", "device", ep.String(), "error", err)
			continue
		}
		added++
	}

	logger.Info("Seed devices registered", "file", path, "added", added, "listed", len(entries))
	return nil
}

func runPruner(ctx context.Context, manager *monitor.Manager, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prune := func() {
		n, err := manager.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			logger.Warn("Prune failed", "error", err)
			return
		}
		if n > 0 {
			logger.Info("Pruned old measurements", "rows", n, "retention", retention)
		}
	}

	prune()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
