package client

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/infodancer/httpd/internal/httpmsg"
	"github.com/infodancer/httpd/internal/wire"
)

// handleConn runs the per-connection request loop. On TLS deployments the
// stream opens with a single ALPN version byte written by the crypto
// worker; the HTTP bytes follow. The loop serves requests until the
// keep-alive policy ends the connection, the idle timeout elapses, or an
// error occurs.
func (w *Worker) handleConn(conn net.Conn, tlsInner bool) {
	defer conn.Close()

	br := bufio.NewReader(conn)
	bw := bufio.NewWriter(conn)

	alpn := wire.AlpnUnknown
	if tlsInner {
		_ = conn.SetReadDeadline(time.Now().Add(w.keepAlive))
		b, err := br.ReadByte()
		if err != nil {
			w.logger.Debug("no version byte", slog.String("error", err.Error()))
			return
		}
		alpn = b
	}

	for {
		_ = conn.SetReadDeadline(time.Now().Add(w.keepAlive))
		req, err := httpmsg.ReadRequest(br)
		if err != nil {
			w.finishRead(bw, err)
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		w.collector.RequestProcessed(string(req.Method))

		// Keep-alive follows the request's own version; on TLS the
		// negotiated protocol can only downgrade it.
		keepAlive := req.Version == httpmsg.Version11
		if tlsInner && alpn == wire.AlpnHTTP10 {
			keepAlive = false
		}

		if err := w.respond(conn, bw, req); err != nil {
			w.logger.Debug("write response", slog.String("error", err.Error()))
			return
		}

		if !keepAlive {
			return
		}
	}
}

// finishRead ends a connection whose request read failed. Timeouts and
// closed streams end silently; a malformed request gets a 400 before the
// drop so the client is not left waiting.
func (w *Worker) finishRead(bw *bufio.Writer, err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed):
		return
	case errors.As(err, &netErr) && netErr.Timeout():
		return
	}

	w.logger.Debug("bad request", slog.String("error", err.Error()))
	resp := httpmsg.NewResponse(httpmsg.Version11, httpmsg.StatusBadRequest, 0)
	if werr := resp.Write(bw); werr == nil {
		_ = bw.Flush()
	}
	w.collector.ResponseSent(int(httpmsg.StatusBadRequest))
}

// respond resolves one request through the filesystem worker and writes
// the response. Headers go through bw; file bodies are flushed past it so
// the copy can go straight to the socket.
func (w *Worker) respond(conn net.Conn, bw *bufio.Writer, req *httpmsg.Request) error {
	resp, file := w.resolve(req.Path)
	if file != nil {
		defer file.Close()
	}

	switch resp.Kind {
	case wire.KindFile:
		st, err := file.Stat()
		if err != nil {
			return w.writeError(bw, req, httpmsg.StatusInternalError)
		}
		length := st.Size()

		r := httpmsg.NewResponse(req.Version, httpmsg.StatusOK, length)
		r.AddHeader("Content-Type", w.mime.Lookup(resp.File.Name))
		if err := r.Write(bw); err != nil {
			return err
		}
		if req.Method == httpmsg.MethodGet {
			if err := bw.Flush(); err != nil {
				return err
			}
			if _, err := io.Copy(conn, file); err != nil {
				return err
			}
			w.collector.BytesServed(length)
		}
		w.collector.ResponseSent(int(httpmsg.StatusOK))

	case wire.KindDir:
		body := dirIndex(resp.Entries)
		r := httpmsg.NewResponse(req.Version, httpmsg.StatusOK, int64(len(body)))
		r.AddHeader("Content-Type", "text/html")
		if err := r.Write(bw); err != nil {
			return err
		}
		if req.Method == httpmsg.MethodGet {
			if _, err := bw.Write(body); err != nil {
				return err
			}
			w.collector.BytesServed(int64(len(body)))
		}
		w.collector.ResponseSent(int(httpmsg.StatusOK))

	case wire.KindError:
		return w.writeError(bw, req, statusFor(resp.Err))
	}

	return bw.Flush()
}

func (w *Worker) writeError(bw *bufio.Writer, req *httpmsg.Request, status httpmsg.Status) error {
	r := httpmsg.NewResponse(req.Version, status, 0)
	if err := r.Write(bw); err != nil {
		return err
	}
	w.collector.ResponseSent(int(status))
	return bw.Flush()
}

// resolve applies the index.html fallback and queries the filesystem
// worker. A path ending in "/" first tries <path>index.html; when that
// does not name a regular file the original path is resolved instead,
// normally yielding a directory listing.
func (w *Worker) resolve(path string) (*wire.OpenResponse, *os.File) {
	if strings.HasSuffix(path, "/") {
		resp, file, err := w.queryOpen(path + "index.html")
		if err == nil && resp.Kind == wire.KindFile {
			return resp, file
		}
		if file != nil {
			file.Close()
		}
	}

	resp, file, err := w.queryOpen(path)
	if err != nil {
		w.logger.Error("filesystem query failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return &wire.OpenResponse{Kind: wire.KindError, Err: wire.ErrIo}, nil
	}
	return resp, file
}

// statusFor maps a filesystem error kind to a response status.
func statusFor(kind wire.ErrorKind) httpmsg.Status {
	switch kind {
	case wire.ErrNotFound:
		return httpmsg.StatusNotFound
	case wire.ErrNotAllowed:
		return httpmsg.StatusForbidden
	default:
		// SpecialFile and Io both surface as internal errors.
		return httpmsg.StatusInternalError
	}
}
