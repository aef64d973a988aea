package main

import (
	"context"
	"fmt"
	"os"

	"github.com/infodancer/httpd/internal/config"
	"github.com/infodancer/httpd/internal/cryptoworker"
	"github.com/infodancer/httpd/internal/logging"
	"github.com/infodancer/httpd/internal/peer"
	"github.com/infodancer/httpd/internal/sandbox"
)

func runCrypto(flags *config.Flags) {
	cfg := loadConfig(flags)
	logger := logging.NewLogger(cfg.LogLevel)

	if err := sandbox.Privdrop(cfg.Chroot, cfg.User); err != nil {
		fmt.Fprintf(os.Stderr, "crypto: privdrop: %v\n", err)
		os.Exit(1)
	}
	if err := sandbox.Pledge("stdio recvfd"); err != nil {
		fmt.Fprintf(os.Stderr, "crypto: pledge: %v\n", err)
		os.Exit(1)
	}

	parent, err := peer.Parent()
	if err != nil {
		fmt.Fprintf(os.Stderr, "crypto: parent socket: %v\n", err)
		os.Exit(1)
	}

	w, err := cryptoworker.New(parent, cryptoworker.Options{
		HandshakeTimeout: cfg.Timeouts.HandshakeTimeout(),
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crypto: %v\n", err)
		os.Exit(1)
	}

	if err := w.Run(workerContext(logger)); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "crypto: %v\n", err)
		os.Exit(1)
	}
}
