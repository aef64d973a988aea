// Package client implements the client worker: it receives accepted
// connections from the manager, reads HTTP requests off them, resolves
// each path through the filesystem worker, and writes HTTP responses.
// It never touches the filesystem itself; the MIME database arrives as an
// open descriptor and every file it serves arrives the same way.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/infodancer/httpd/internal/metrics"
	"github.com/infodancer/httpd/internal/mimedb"
	"github.com/infodancer/httpd/internal/peer"
	"github.com/infodancer/httpd/internal/wire"
)

// Options holds the client worker's tunables, taken from the local
// configuration file before the privilege drop.
type Options struct {
	KeepAlive      time.Duration
	MaxConnections int
}

// Worker owns the accept loop. The filesystem peer and the MIME database
// are shared read-only between connection goroutines; sends on the peer
// are single datagrams, so no further synchronization is needed.
type Worker struct {
	parent    *peer.Peer
	fs        *peer.Peer
	mime      *mimedb.DB
	tls       bool
	keepAlive time.Duration
	limiter   *ConnectionLimiter
	collector metrics.Collector
	logger    *slog.Logger
}

// New performs the client worker's startup handshake with the manager:
// one datagram carrying the filesystem seqpacket and the open mime.types
// file, then a plain datagram carrying the ClientConfig.
func New(parent *peer.Peer, opts Options, collector metrics.Collector, logger *slog.Logger) (*Worker, error) {
	buf := make([]byte, peer.MaxMessage)
	_, files, err := parent.RecvWithFDs(buf, 2)
	if err != nil {
		return nil, fmt.Errorf("receive fs/mime descriptors: %w", err)
	}

	fs, err := peer.FromFile(files[0])
	if err != nil {
		files[1].Close()
		return nil, fmt.Errorf("fs socket: %w", err)
	}

	mime, err := mimedb.Parse(files[1])
	files[1].Close()
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("parse mime database: %w", err)
	}

	n, err := parent.Recv(buf)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("receive client config: %w", err)
	}
	var cc wire.ClientConfig
	if err := wire.Decode(buf[:n], &cc); err != nil {
		fs.Close()
		return nil, err
	}

	keepAlive := opts.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 60 * time.Second
	}
	maxConns := opts.MaxConnections
	if maxConns <= 0 {
		maxConns = 100
	}

	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	return &Worker{
		parent:    parent,
		fs:        fs,
		mime:      mime,
		tls:       cc.TLS,
		keepAlive: keepAlive,
		limiter:   NewConnectionLimiter(maxConns),
		collector: collector,
		logger:    logger,
	}, nil
}

// Run accepts connection handoffs until ctx is cancelled or the parent
// socket closes. Each connection runs on its own goroutine.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.parent.Close()
	}()

	for {
		buf := make([]byte, 1)
		n, f, err := w.parent.RecvWithFD(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, peer.ErrMissingFD) || errors.Is(err, peer.ErrTruncated) {
				w.logger.Error("dropping malformed accept frame", slog.String("error", err.Error()))
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive connection: %w", err)
		}

		// A tagged frame overrides the deployment default; an empty
		// payload falls back to it (plain-only deployments).
		tlsInner := w.tls
		if n == 1 {
			tlsInner = buf[0] == wire.AcceptTLS
		}

		conn, err := net.FileConn(f)
		f.Close()
		if err != nil {
			w.logger.Error("bad connection descriptor", slog.String("error", err.Error()))
			continue
		}

		if !w.limiter.TryAcquire() {
			w.logger.Warn("connection limit reached, dropping connection")
			conn.Close()
			continue
		}

		go func() {
			defer w.limiter.Release()
			w.handleConn(conn, tlsInner)
		}()
	}
}

// Close releases the worker's sockets.
func (w *Worker) Close() error {
	err := w.fs.Close()
	if perr := w.parent.Close(); err == nil {
		err = perr
	}
	return err
}
