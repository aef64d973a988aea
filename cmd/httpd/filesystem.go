package main

import (
	"context"
	"fmt"
	"os"

	"github.com/infodancer/httpd/internal/config"
	"github.com/infodancer/httpd/internal/fsworker"
	"github.com/infodancer/httpd/internal/logging"
	"github.com/infodancer/httpd/internal/peer"
	"github.com/infodancer/httpd/internal/sandbox"
)

func runFilesystem(flags *config.Flags) {
	cfg := loadConfig(flags)
	logger := logging.NewLogger(cfg.LogLevel)

	// The filesystem worker chroots to the document root: locations in
	// the configuration are paths inside it.
	if err := sandbox.Privdrop(cfg.Root, cfg.User); err != nil {
		fmt.Fprintf(os.Stderr, "filesystem: privdrop: %v\n", err)
		os.Exit(1)
	}
	if err := sandbox.Pledge("stdio sendfd recvfd rpath unveil"); err != nil {
		fmt.Fprintf(os.Stderr, "filesystem: pledge: %v\n", err)
		os.Exit(1)
	}

	parent, err := peer.Parent()
	if err != nil {
		fmt.Fprintf(os.Stderr, "filesystem: parent socket: %v\n", err)
		os.Exit(1)
	}

	w, err := fsworker.New(parent, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "filesystem: %v\n", err)
		os.Exit(1)
	}

	if err := w.Run(workerContext(logger)); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "filesystem: %v\n", err)
		os.Exit(1)
	}
}
