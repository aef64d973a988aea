package client

import (
	"fmt"
	"os"

	"github.com/infodancer/httpd/internal/peer"
	"github.com/infodancer/httpd/internal/wire"
)

// queryOpen performs one request/response exchange with the filesystem
// worker. Every request travels with one end of a fresh seqpacket pair;
// the response comes back on the other end, so replies can never be
// attributed to the wrong requester and no correlation ids are needed.
// The reply socket is closed after the single exchange.
func (w *Worker) queryOpen(path string) (*wire.OpenResponse, *os.File, error) {
	local, remote, err := peer.Pair()
	if err != nil {
		return nil, nil, err
	}
	defer local.Close()

	rf, err := remote.File()
	remote.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("reply socket: %w", err)
	}

	data, err := wire.Encode(&wire.OpenRequest{Path: path})
	if err != nil {
		rf.Close()
		return nil, nil, err
	}
	err = w.fs.SendWithFD(data, rf)
	rf.Close()
	if err != nil {
		return nil, nil, fmt.Errorf("send open request: %w", err)
	}

	buf := make([]byte, peer.MaxMessage)
	n, f, err := local.RecvMaybeFD(buf)
	if err != nil {
		return nil, nil, fmt.Errorf("receive open response: %w", err)
	}

	var resp wire.OpenResponse
	if err := wire.Decode(buf[:n], &resp); err != nil {
		if f != nil {
			f.Close()
		}
		return nil, nil, err
	}

	if resp.Kind == wire.KindFile {
		if f == nil {
			return nil, nil, peer.ErrMissingFD
		}
	} else if f != nil {
		// Only file responses carry a descriptor.
		f.Close()
		f = nil
	}

	return &resp, f, nil
}
