// Package cryptoworker implements the TLS termination worker. It holds
// the certificate and key (received as open descriptors before its
// capability to receive them is dropped), accepts TLS on client sockets
// handed over by the manager, and bridges the decrypted byte stream to
// the unix socket whose far end the client worker reads.
package cryptoworker

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/infodancer/httpd/internal/peer"
	"github.com/infodancer/httpd/internal/wire"
)

// Worker terminates TLS for handed-off connections.
type Worker struct {
	parent    *peer.Peer
	tlsConfig *tls.Config
	handshake time.Duration
	logger    *slog.Logger
}

// Options holds the crypto worker's tunables.
type Options struct {
	HandshakeTimeout time.Duration
}

// New receives the certificate and key descriptors from the manager (one
// datagram, two descriptors, in that order) and builds the TLS server
// configuration advertising HTTP/1.1 and HTTP/1.0 over ALPN.
func New(parent *peer.Peer, opts Options, logger *slog.Logger) (*Worker, error) {
	_, files, err := parent.RecvWithFDs(nil, 2)
	if err != nil {
		return nil, fmt.Errorf("receive cert/key descriptors: %w", err)
	}
	certFile, keyFile := files[0], files[1]
	defer certFile.Close()
	defer keyFile.Close()

	certPEM, err := io.ReadAll(certFile)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	keyPEM, err := io.ReadAll(keyFile)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse keypair: %w", err)
	}

	handshake := opts.HandshakeTimeout
	if handshake <= 0 {
		handshake = 30 * time.Second
	}

	return &Worker{
		parent: parent,
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"http/1.1", "http/1.0"},
			MinVersion:   tls.VersionTLS12,
		},
		handshake: handshake,
		logger:    logger,
	}, nil
}

// Run serves connection handoffs until ctx is cancelled or the parent
// socket closes. Each handoff datagram carries two descriptors: the TCP
// socket from the client and the inner end of the plaintext unix pair.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.parent.Close()
	}()

	for {
		_, files, err := w.parent.RecvWithFDs(nil, 2)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, peer.ErrMissingFD) || errors.Is(err, peer.ErrTruncated) {
				w.logger.Error("dropping malformed handoff", slog.String("error", err.Error()))
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive handoff: %w", err)
		}
		go w.bridge(ctx, files[0], files[1])
	}
}

// bridge terminates TLS on tcpFD and shuttles plaintext to innerFD until
// either side closes. Failures end this connection only; both sockets are
// closed on the way out.
func (w *Worker) bridge(ctx context.Context, tcpFD, innerFD *os.File) {
	tcpConn, err := net.FileConn(tcpFD)
	tcpFD.Close()
	if err != nil {
		innerFD.Close()
		w.logger.Error("bad tcp descriptor", slog.String("error", err.Error()))
		return
	}
	defer tcpConn.Close()

	innerConn, err := net.FileConn(innerFD)
	innerFD.Close()
	if err != nil {
		w.logger.Error("bad inner descriptor", slog.String("error", err.Error()))
		return
	}
	defer innerConn.Close()

	tlsConn := tls.Server(tcpConn, w.tlsConfig)

	hsCtx, cancel := context.WithTimeout(ctx, w.handshake)
	err = tlsConn.HandshakeContext(hsCtx)
	cancel()
	if err != nil {
		w.logger.Debug("handshake failed", slog.String("error", err.Error()))
		return
	}

	// The client worker cannot observe the handshake; the first
	// plaintext byte tells it which HTTP version was negotiated.
	version := versionByte(tlsConn.ConnectionState().NegotiatedProtocol)
	if _, err := innerConn.Write([]byte{version}); err != nil {
		w.logger.Debug("write version byte", slog.String("error", err.Error()))
		return
	}

	if err := copyBidirectional(tlsConn, innerConn); err != nil {
		w.logger.Debug("connection ended", slog.String("error", err.Error()))
	}
}

// versionByte maps a negotiated ALPN protocol to its wire byte.
func versionByte(proto string) byte {
	switch proto {
	case "http/1.0":
		return wire.AlpnHTTP10
	case "http/1.1":
		return wire.AlpnHTTP11
	default:
		return wire.AlpnUnknown
	}
}

// halfCloser is implemented by both ends of the bridge: *tls.Conn and
// *net.UnixConn. CloseWrite propagates one side's EOF to the other
// without tearing down the opposite direction.
type halfCloser interface {
	io.ReadWriter
	CloseWrite() error
}

// copyBidirectional shuttles bytes both ways until both directions reach
// EOF, half-closing each side as its source dries up. The first error
// from either direction is returned.
func copyBidirectional(a, b net.Conn) error {
	var wg sync.WaitGroup
	errs := make(chan error, 2)

	shuttle := func(dst, src net.Conn) {
		defer wg.Done()
		_, err := io.Copy(dst, src)
		if hc, ok := dst.(halfCloser); ok {
			_ = hc.CloseWrite()
		}
		if err != nil {
			// Unblock the opposite direction; a failed bridge has no
			// bytes left worth delivering.
			a.Close()
			b.Close()
			errs <- err
		}
	}

	wg.Add(2)
	go shuttle(a, b)
	go shuttle(b, a)
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}
