// Package wire defines the messages exchanged between the manager and its
// workers. Payloads are CBOR-encoded and sized to fit in one seqpacket
// datagram; file descriptors travel as ancillary data alongside the
// message they belong to.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Location describes one filesystem prefix with an allow/deny bit.
// Ordered; longest prefix wins on match, first wins on equal length.
type Location struct {
	Path    string `cbor:"path"`
	Blocked bool   `cbor:"blocked"`
}

// ServerConfig is shipped once from the manager to the filesystem worker
// on its initial control message, together with the seqpacket it will
// serve client requests on.
type ServerConfig struct {
	Locations []Location `cbor:"locations"`
}

// ClientConfig is shipped once from the manager to the client worker. TLS
// tells the client worker to expect an ALPN version byte ahead of each
// connection's plaintext.
type ClientConfig struct {
	TLS bool `cbor:"tls"`
}

// OpenRequest asks the filesystem worker to resolve and open a path. Sent
// by the client worker together with one end of a fresh reply seqpacket.
type OpenRequest struct {
	Path string `cbor:"path"`
}

// ResponseKind tags the shape of an OpenResponse.
type ResponseKind uint8

const (
	// KindFile is a regular file; the response datagram carries its
	// descriptor as ancillary data.
	KindFile ResponseKind = iota
	// KindDir is a directory listing, materialized in the filesystem
	// worker because directory descriptors cannot be passed under pledge.
	KindDir
	// KindError carries an ErrorKind and no descriptor.
	KindError
)

// ErrorKind classifies filesystem failures at the worker boundary; raw OS
// errors never cross the process boundary.
type ErrorKind uint8

const (
	ErrNotFound ErrorKind = iota
	ErrNotAllowed
	ErrSpecialFile
	ErrIo
)

// FileInfo names one file or directory entry.
type FileInfo struct {
	Name string `cbor:"name"`
}

// OpenResponse is the filesystem worker's reply to an OpenRequest, sent on
// the one-shot reply socket that accompanied the request.
type OpenResponse struct {
	Kind    ResponseKind `cbor:"kind"`
	File    *FileInfo    `cbor:"file,omitempty"`
	Entries []FileInfo   `cbor:"entries,omitempty"`
	Err     ErrorKind    `cbor:"err,omitempty"`
}

// Accept frame tags. The manager prefixes each connection handoff to the
// client worker with one byte naming what kind of socket rides along.
const (
	// AcceptTLS tags the client worker's end of a unix stream pair whose
	// other end the crypto worker bridges to a TLS session.
	AcceptTLS byte = 0
	// AcceptTCP tags a raw TCP connection.
	AcceptTCP byte = 1
)

// ALPN version bytes. The crypto worker writes one as the first plaintext
// byte after the handshake so the client worker learns the negotiated
// HTTP version without observing the handshake itself.
const (
	AlpnHTTP10  byte = 0
	AlpnHTTP11  byte = 1
	AlpnUnknown byte = 2
)

// Encode marshals a wire message to CBOR.
func Encode(v any) ([]byte, error) {
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	if len(data) > MaxPayload {
		return nil, fmt.Errorf("message too large for one datagram (%d bytes)", len(data))
	}
	return data, nil
}

// Decode unmarshals a CBOR wire message.
func Decode(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

// MaxPayload bounds an encoded message to one seqpacket datagram.
const MaxPayload = 4096
