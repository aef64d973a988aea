// Package fsworker implements the filesystem worker: the only process in
// the system holding read capability on the document tree. It resolves
// paths against the configured location whitelist and answers each request
// with an open file descriptor, a materialized directory listing, or a
// classified error.
package fsworker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/infodancer/httpd/internal/peer"
	"github.com/infodancer/httpd/internal/sandbox"
	"github.com/infodancer/httpd/internal/wire"
)

// Worker serves path resolution requests from the client worker.
type Worker struct {
	locations []wire.Location
	clients   *peer.Peer
	logger    *slog.Logger
}

// New receives the initial control message from the manager: the server
// configuration plus the seqpacket the client worker sends requests on.
// Each configured location is unveiled (read-only, or an explicit deny for
// blocked ones) before the capability set narrows to its serving shape.
func New(parent *peer.Peer, logger *slog.Logger) (*Worker, error) {
	buf := make([]byte, peer.MaxMessage)
	n, f, err := parent.RecvWithFD(buf)
	if err != nil {
		return nil, fmt.Errorf("receive config: %w", err)
	}

	var cfg wire.ServerConfig
	if err := wire.Decode(buf[:n], &cfg); err != nil {
		f.Close()
		return nil, err
	}

	clients, err := peer.FromFile(f)
	if err != nil {
		return nil, fmt.Errorf("client socket: %w", err)
	}

	for _, loc := range cfg.Locations {
		perms := "r"
		if loc.Blocked {
			perms = ""
		}
		if err := sandbox.Unveil(loc.Path, perms); err != nil {
			clients.Close()
			return nil, fmt.Errorf("unveil %q: %w", loc.Path, err)
		}
	}
	if err := sandbox.Pledge("stdio sendfd recvfd rpath"); err != nil {
		clients.Close()
		return nil, fmt.Errorf("pledge: %w", err)
	}

	return &Worker{
		locations: cfg.Locations,
		clients:   clients,
		logger:    logger,
	}, nil
}

// Run serves requests until ctx is cancelled or the request socket
// closes. Each request is handled on its own goroutine so a slow readdir
// cannot starve other connections; ordering toward any one requester is
// preserved by its dedicated reply socket.
func (w *Worker) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		w.clients.Close()
	}()

	for {
		buf := make([]byte, peer.MaxMessage)
		n, f, err := w.clients.RecvWithFD(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, peer.ErrMissingFD) || errors.Is(err, peer.ErrTruncated) {
				w.logger.Error("dropping malformed request", slog.String("error", err.Error()))
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("receive request: %w", err)
		}
		go w.serve(buf[:n], f)
	}
}

// serve handles one request: decode, resolve, reply on the one-shot
// socket, close it.
func (w *Worker) serve(payload []byte, replyFD *os.File) {
	reply, err := peer.FromFile(replyFD)
	if err != nil {
		w.logger.Error("bad reply socket", slog.String("error", err.Error()))
		return
	}
	defer reply.Close()

	var req wire.OpenRequest
	if err := wire.Decode(payload, &req); err != nil {
		w.logger.Error("undecodable request", slog.String("error", err.Error()))
		return
	}

	resp, file := w.open(req.Path)
	if file != nil {
		defer file.Close()
	}

	data, err := wire.Encode(&resp)
	if err != nil {
		w.logger.Error("encode response", slog.String("error", err.Error()))
		return
	}

	if file != nil {
		err = reply.SendWithFD(data, file)
	} else {
		err = reply.Send(data)
	}
	if err != nil {
		w.logger.Debug("send response",
			slog.String("path", req.Path),
			slog.String("error", err.Error()))
	}
}
