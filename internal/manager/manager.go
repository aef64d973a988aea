// Package manager implements the coordinating parent process. It is the
// only process that ever binds the listening socket or opens files on
// behalf of the workers; once the workers are wired together it drops its
// own filesystem view entirely and spends its life accepting connections
// and passing descriptors.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/infodancer/httpd/internal/config"
	"github.com/infodancer/httpd/internal/metrics"
	"github.com/infodancer/httpd/internal/peer"
	"github.com/infodancer/httpd/internal/wire"
)

// Manager owns the listener and the worker processes.
type Manager struct {
	cfg       *config.Config
	logger    *slog.Logger
	collector metrics.Collector

	fs     *Process
	client *Process
	crypto *Process // nil when TLS is not configured

	listener net.Listener
}

// New performs the manager's startup sequence. The order is load-bearing:
// files are opened while filesystem access is still permitted, workers
// are spawned and wired before the listener binds, and the caller
// privilege-drops only after New returns.
func New(cfg *config.Config, execPath, configPath string, collector metrics.Collector, logger *slog.Logger) (*Manager, error) {
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}

	// Open every file the workers will need before anything else; after
	// the privilege drop nobody can come back for them.
	var certFile, keyFile *os.File
	if cfg.TLS.Enabled() {
		var err error
		certFile, err = os.Open(cfg.TLS.CertFile)
		if err != nil {
			return nil, fmt.Errorf("open certificate: %w", err)
		}
		defer certFile.Close()
		keyFile, err = os.Open(cfg.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("open key: %w", err)
		}
		defer keyFile.Close()
	}

	mimeFile, err := os.Open(cfg.MimeTypes)
	if err != nil {
		return nil, fmt.Errorf("open mime.types: %w", err)
	}
	defer mimeFile.Close()

	m := &Manager{cfg: cfg, logger: logger, collector: collector}

	m.fs, err = startProcess(execPath, "filesystem", configPath, logger)
	if err != nil {
		return nil, err
	}
	m.client, err = startProcess(execPath, "client", configPath, logger)
	if err != nil {
		m.stopWorkers()
		return nil, err
	}
	if cfg.TLS.Enabled() {
		m.crypto, err = startProcess(execPath, "crypto", configPath, logger)
		if err != nil {
			m.stopWorkers()
			return nil, err
		}
		// The cert and key must arrive before the crypto worker narrows
		// away its ability to receive them.
		if err := m.crypto.Peer().SendFDs(nil, certFile, keyFile); err != nil {
			m.stopWorkers()
			return nil, fmt.Errorf("send cert/key: %w", err)
		}
	}

	if err := m.wire(mimeFile); err != nil {
		m.stopWorkers()
		return nil, err
	}

	m.listener, err = net.Listen("tcp", cfg.Listen)
	if err != nil {
		m.stopWorkers()
		return nil, fmt.Errorf("listen %s: %w", cfg.Listen, err)
	}

	logger.Info("listening",
		slog.String("address", cfg.Listen),
		slog.Bool("tls", cfg.TLS.Enabled()))

	return m, nil
}

// wire connects the filesystem and client workers: one seqpacket pair,
// the filesystem end riding on the same datagram as the server config,
// the client end on the same datagram as the open mime database. The
// ClientConfig follows as a plain datagram.
func (m *Manager) wire(mimeFile *os.File) error {
	a, b, err := peer.Pair()
	if err != nil {
		return err
	}
	defer a.Close()
	defer b.Close()

	locations := make([]wire.Location, len(m.cfg.Locations))
	for i, l := range m.cfg.Locations {
		locations[i] = wire.Location{Path: l.Path, Blocked: l.Blocked}
	}
	cfgData, err := wire.Encode(&wire.ServerConfig{Locations: locations})
	if err != nil {
		return err
	}

	aFile, err := a.File()
	if err != nil {
		return fmt.Errorf("dup fs socket: %w", err)
	}
	err = m.fs.Peer().SendWithFD(cfgData, aFile)
	aFile.Close()
	if err != nil {
		return fmt.Errorf("send fs config: %w", err)
	}

	bFile, err := b.File()
	if err != nil {
		return fmt.Errorf("dup client socket: %w", err)
	}
	err = m.client.Peer().SendFDs(nil, bFile, mimeFile)
	bFile.Close()
	if err != nil {
		return fmt.Errorf("send client sockets: %w", err)
	}

	ccData, err := wire.Encode(&wire.ClientConfig{TLS: m.cfg.TLS.Enabled()})
	if err != nil {
		return err
	}
	if err := m.client.Peer().Send(ccData); err != nil {
		return fmt.Errorf("send client config: %w", err)
	}

	return nil
}

// Serve accepts connections until ctx is cancelled, dispatching each to
// the workers. One failed handoff never stops the loop.
func (m *Manager) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		m.listener.Close()
	}()

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		m.collector.ConnectionAccepted()

		if err := m.handoff(conn); err != nil {
			m.collector.HandoffFailed()
			m.logger.Error("handoff failed", slog.String("error", err.Error()))
		}
	}
}

// handoff converts the accepted connection to an owned descriptor and
// dispatches it. Plain mode sends the TCP socket straight to the client
// worker; TLS mode inserts a unix stream pair with the crypto worker
// bridging the encrypted side.
func (m *Manager) handoff(conn net.Conn) error {
	defer conn.Close()

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("unexpected connection type %T", conn)
	}
	tcpFile, err := tcpConn.File()
	if err != nil {
		return fmt.Errorf("dup connection: %w", err)
	}
	defer tcpFile.Close()

	if m.crypto == nil {
		if err := m.client.Peer().SendWithFD([]byte{wire.AcceptTCP}, tcpFile); err != nil {
			return fmt.Errorf("send connection: %w", err)
		}
		m.collector.HandoffCompleted("plain")
		return nil
	}

	inner, outer, err := peer.StreamPair()
	if err != nil {
		return err
	}
	defer inner.Close()
	defer outer.Close()

	if err := m.crypto.Peer().SendFDs(nil, tcpFile, inner); err != nil {
		return fmt.Errorf("send to crypto: %w", err)
	}
	if err := m.client.Peer().SendWithFD([]byte{wire.AcceptTLS}, outer); err != nil {
		return fmt.Errorf("send to client: %w", err)
	}
	m.collector.HandoffCompleted("tls")
	return nil
}

// Close shuts down the listener and the workers.
func (m *Manager) Close() error {
	var firstErr error
	if m.listener != nil {
		if err := m.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			firstErr = err
		}
	}
	if err := m.stopWorkers(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// stopWorkers terminates every spawned worker, keeping the first error.
func (m *Manager) stopWorkers() error {
	var firstErr error
	for _, p := range []*Process{m.crypto, m.fs, m.client} {
		if p == nil {
			continue
		}
		if err := p.Stop(); err != nil {
			m.logger.Debug("worker exit", slog.String("error", err.Error()))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.crypto, m.fs, m.client = nil, nil, nil
	return firstErr
}
