package aimx

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Framing constants.
const (
	// frameHeaderSize is the length prefix: 4 bytes, big-endian.
	frameHeaderSize = 4

	// maxFrameSize caps a frame body in either direction.
	maxFrameSize = 64 * 1024
)

// readFrame reads one length-prefixed frame body.
//
// Returns errFrameTooLarge when the declared length exceeds
// maxFrameSize; the caller must treat the stream as unrecoverable. An
// empty frame is corruption for the same reason: no valid request
// encodes to zero bytes.
func readFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header)
	if size == 0 {
		return nil, fmt.Errorf("aimx: empty frame")
	}
	if size > maxFrameSize {
		return nil, fmt.Errorf("%w: declared %d bytes", errFrameTooLarge, size)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return body, nil
}

// writeFrame writes one length-prefixed frame.
func writeFrame(w io.Writer, body []byte) error {
	if len(body) > maxFrameSize {
		return fmt.Errorf("%w: %d bytes", errFrameTooLarge, len(body))
	}

	frame := make([]byte, frameHeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[frameHeaderSize:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
