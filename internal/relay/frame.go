// Package relay implements the peer-to-peer video frame transport announced
// through the command protocol: a streamer listens on its own endpoint and
// fans JPEG frames out to viewers that connect directly. The central server
// never carries frame bytes.
//
// Wire format: a 4-byte big-endian unsigned length followed by exactly that
// many payload bytes, repeated.
package relay

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single frame read. Generous for JPEG-encoded
// 320x240 frames; anything larger means a corrupt or hostile peer.
const DefaultMaxFrameSize = 8 << 20

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame. max caps the accepted payload
// size; 0 applies DefaultMaxFrameSize.
func ReadFrame(r io.Reader, max uint32) ([]byte, error) {
	if max == 0 {
		max = DefaultMaxFrameSize
	}

	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(hdr[:])
	if size > max {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit %d", size, max)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}
