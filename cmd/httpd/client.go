package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/infodancer/httpd/internal/client"
	"github.com/infodancer/httpd/internal/config"
	"github.com/infodancer/httpd/internal/logging"
	"github.com/infodancer/httpd/internal/metrics"
	"github.com/infodancer/httpd/internal/peer"
	"github.com/infodancer/httpd/internal/sandbox"
)

func runClient(flags *config.Flags) {
	cfg := loadConfig(flags)
	logger := logging.NewLogger(cfg.LogLevel)

	if err := sandbox.Privdrop(cfg.Chroot, cfg.User); err != nil {
		fmt.Fprintf(os.Stderr, "client: privdrop: %v\n", err)
		os.Exit(1)
	}
	if err := sandbox.Pledge("stdio recvfd sendfd"); err != nil {
		fmt.Fprintf(os.Stderr, "client: pledge: %v\n", err)
		os.Exit(1)
	}

	parent, err := peer.Parent()
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: parent socket: %v\n", err)
		os.Exit(1)
	}

	w, err := client.New(parent, client.Options{
		KeepAlive:      cfg.Timeouts.KeepAliveTimeout(),
		MaxConnections: cfg.Limits.MaxConnections,
	}, &metrics.NoopCollector{}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}

	if err := w.Run(workerContext(logger)); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "client: %v\n", err)
		os.Exit(1)
	}
}

// workerContext returns a context cancelled when the worker receives
// SIGTERM from the manager.
func workerContext(logger *slog.Logger) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Debug("worker shutting down", "signal", sig.String())
		cancel()
	}()
	return ctx
}
