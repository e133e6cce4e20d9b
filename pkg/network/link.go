// Package network manages peer links: dialing and accepting, length-framed
// I/O, per-link read loops, session establishment and packet dispatch. It
// sits between the radio (or TCP) adapter below and the routing engine
// above.
package network

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/Thrinadh-25/MeshIt/pkg/protocol"
)

var (
	ErrFrameTooLarge = errors.New("frame exceeds maximum payload size")
	ErrEmptyFrame    = errors.New("zero-length frame")
	ErrNotConnected  = errors.New("no link for address")
)

// Link is one established byte-stream connection to a remote peer. The
// radio adapter (RFCOMM, or TCP in tests and demos) provides it; everything
// above speaks frames.
type Link interface {
	io.ReadWriteCloser

	// RemoteAddr identifies the remote end of the link (radio address).
	RemoteAddr() string
}

// Dialer establishes outbound links.
type Dialer interface {
	Dial(address string) (Link, error)
}

// WriteFrame writes payloadLen(4 BE) || payload to the link. The write is
// a single buffer so concurrent callers never interleave header and body.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if len(payload) > protocol.MaxPayloadFrame {
		return ErrFrameTooLarge
	}
	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame. A length outside (0, 10 MiB]
// poisons the link; the caller must close it.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if n > protocol.MaxPayloadFrame {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
