// Package peer implements the seqpacket IPC channel used between the
// manager and its worker processes. Each datagram carries at most one
// logical message; file descriptors ride in the datagram's ancillary data
// and arrive atomically with it.
//
// Every worker inherits exactly one peer from its parent at fd 3 (see
// ParentFD); further peers are built from socketpairs created with Pair
// and shipped across existing peers as ancillary descriptors.
package peer

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ParentFD is the descriptor number at which every worker inherits the
// seqpacket to its parent. The manager maps it there via ExtraFiles when
// spawning; workers never open it themselves.
const ParentFD = 3

// MaxMessage is the size of the receive buffer for a single datagram.
// Every wire message fits well inside this.
const MaxMessage = 4096

// oobSpace is the ancillary buffer size used on receives. Large enough
// for several SCM_RIGHTS descriptors; messages in this protocol carry at
// most two.
const oobSpace = 128

var (
	// ErrMissingFD is returned when a message that must carry a file
	// descriptor arrives without one.
	ErrMissingFD = errors.New("peer: message arrived without expected file descriptor")
	// ErrTruncated is returned when the kernel truncated the ancillary
	// data of a datagram.
	ErrTruncated = errors.New("peer: ancillary data truncated")
)

// Peer is one end of a seqpacket socket.
type Peer struct {
	conn *net.UnixConn
}

// Pair creates a connected seqpacket socketpair and returns both ends.
func Pair() (*Peer, *Peer, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}

	a, err := FromFile(os.NewFile(uintptr(fds[0]), "seqpacket"))
	if err != nil {
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := FromFile(os.NewFile(uintptr(fds[1]), "seqpacket"))
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, b, nil
}

// StreamPair creates a connected stream socketpair and returns both ends
// as files, ready to pass across process boundaries. Used by the manager
// to build the plaintext channel between the crypto and client workers.
func StreamPair() (*os.File, *os.File, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair: %w", err)
	}
	return os.NewFile(uintptr(fds[0]), "unix-stream"),
		os.NewFile(uintptr(fds[1]), "unix-stream"), nil
}

// FromFile wraps an already-open seqpacket descriptor in a Peer. The
// *os.File is consumed: the connection holds its own duplicate and f is
// closed before returning.
func FromFile(f *os.File) (*Peer, error) {
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		return nil, fmt.Errorf("fileconn: %w", err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		conn.Close()
		return nil, fmt.Errorf("peer: fd is a %T, not a unix socket", conn)
	}
	return &Peer{conn: uc}, nil
}

// Parent returns the peer inherited from the parent process at ParentFD.
// Only valid in processes spawned by the manager.
func Parent() (*Peer, error) {
	return FromFile(os.NewFile(uintptr(ParentFD), "parent"))
}

// File returns a duplicate of the underlying descriptor, suitable for
// exec.Cmd.ExtraFiles or for sending across another peer. The caller
// closes the returned file.
func (p *Peer) File() (*os.File, error) {
	return p.conn.File()
}

// Close closes the peer.
func (p *Peer) Close() error {
	return p.conn.Close()
}

// Send transmits one datagram with no ancillary data.
func (p *Peer) Send(data []byte) error {
	_, _, err := p.conn.WriteMsgUnix(data, nil, nil)
	return err
}

// SendWithFD transmits one datagram carrying a single file descriptor.
func (p *Peer) SendWithFD(data []byte, f *os.File) error {
	return p.SendFDs(data, f)
}

// SendFDs transmits one datagram carrying the given file descriptors in
// order. The files remain owned by the caller.
func (p *Peer) SendFDs(data []byte, files ...*os.File) error {
	fds := make([]int, len(files))
	for i, f := range files {
		fds[i] = int(f.Fd())
	}
	oob := unix.UnixRights(fds...)
	_, oobn, err := p.conn.WriteMsgUnix(data, oob, nil)
	if err != nil {
		return err
	}
	if oobn != len(oob) {
		return fmt.Errorf("peer: short ancillary write (%d of %d)", oobn, len(oob))
	}
	return nil
}

// Recv reads one datagram into buf and returns its length. Any ancillary
// descriptors attached to the datagram are closed; callers expecting
// descriptors use RecvWithFD or RecvWithFDs.
func (p *Peer) Recv(buf []byte) (int, error) {
	n, files, err := p.recvMsg(buf)
	closeAll(files)
	return n, err
}

// RecvWithFD reads one datagram and its attached file descriptor. It
// fails with ErrMissingFD if the datagram carries none; extra trailing
// descriptors are discarded.
func (p *Peer) RecvWithFD(buf []byte) (int, *os.File, error) {
	n, files, err := p.RecvWithFDs(buf, 1)
	if err != nil {
		return n, nil, err
	}
	return n, files[0], nil
}

// RecvWithFDs reads one datagram that must carry at least want file
// descriptors. The first want descriptors are returned in order; any
// extra trailing ones are discarded. Fails with ErrMissingFD when fewer
// than want arrive.
func (p *Peer) RecvWithFDs(buf []byte, want int) (int, []*os.File, error) {
	n, files, err := p.recvMsg(buf)
	if err != nil {
		closeAll(files)
		return n, nil, err
	}
	if len(files) < want {
		closeAll(files)
		return n, nil, ErrMissingFD
	}
	closeAll(files[want:])
	return n, files[:want], nil
}

// RecvMaybeFD reads one datagram that may or may not carry a file
// descriptor. Returns nil for the file when none was attached; extra
// trailing descriptors are discarded.
func (p *Peer) RecvMaybeFD(buf []byte) (int, *os.File, error) {
	n, files, err := p.recvMsg(buf)
	if err != nil {
		closeAll(files)
		return n, nil, err
	}
	if len(files) == 0 {
		return n, nil, nil
	}
	closeAll(files[1:])
	return n, files[0], nil
}

// recvMsg reads one datagram and extracts all SCM_RIGHTS descriptors from
// its ancillary data. All descriptors are extracted even when parsing
// partially fails, so that none leak into the process unaccounted.
func (p *Peer) recvMsg(buf []byte) (int, []*os.File, error) {
	oob := make([]byte, oobSpace)
	n, oobn, flags, _, err := p.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return 0, nil, err
	}
	if flags&unix.MSG_CTRUNC != 0 {
		return 0, nil, ErrTruncated
	}
	// A zero-length read with no ancillary data is how a closed
	// seqpacket peer presents; every real message in this protocol has a
	// payload, a descriptor, or both.
	if n == 0 && oobn == 0 {
		return 0, nil, io.EOF
	}
	if oobn == 0 {
		return n, nil, nil
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return n, nil, fmt.Errorf("parse control message: %w", err)
	}

	var files []*os.File
	var rightsErr error
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			rightsErr = err
			continue
		}
		for _, fd := range fds {
			files = append(files, os.NewFile(uintptr(fd), "received"))
		}
	}
	if rightsErr != nil {
		closeAll(files)
		return n, nil, fmt.Errorf("parse unix rights: %w", rightsErr)
	}
	return n, files, nil
}

func closeAll(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}
