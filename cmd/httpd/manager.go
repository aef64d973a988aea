package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/infodancer/httpd/internal/config"
	"github.com/infodancer/httpd/internal/logging"
	"github.com/infodancer/httpd/internal/manager"
	"github.com/infodancer/httpd/internal/metrics"
	"github.com/infodancer/httpd/internal/sandbox"
	"github.com/prometheus/client_golang/prometheus"
)

func runManager(flags *config.Flags) {
	cfg := loadConfig(flags)
	logger := logging.NewLogger(cfg.LogLevel)

	// Resolve config path to absolute so workers find it regardless of cwd.
	configPath, err := filepath.Abs(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error resolving config path: %v\n", err)
		os.Exit(1)
	}

	// Locate our own executable for worker spawning.
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error determining executable path: %v\n", err)
		os.Exit(1)
	}

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	mgr, err := manager.New(&cfg, execPath, configPath, collector, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error starting server: %v\n", err)
		os.Exit(1)
	}

	// Workers are wired and the listener is bound; nothing privileged
	// remains to do.
	if err := sandbox.Privdrop(cfg.Chroot, cfg.User); err != nil {
		fmt.Fprintf(os.Stderr, "privdrop: %v\n", err)
		os.Exit(1)
	}
	if err := sandbox.Pledge("stdio sendfd proc inet"); err != nil {
		fmt.Fprintf(os.Stderr, "pledge: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGCHLD)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	// Metrics HTTP server runs in the manager. Request-level metrics are
	// not aggregated from the workers in this release.
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics server started", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	}

	err = mgr.Serve(ctx)
	if cerr := mgr.Close(); cerr != nil {
		logger.Debug("shutdown", "error", cerr.Error())
	}
	if err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
