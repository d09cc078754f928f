// Package frame implements the dispatcher's wire codec: a 4-byte
// unsigned big-endian length prefix followed by exactly that many bytes
// of UTF-8 JSON. See spec §4.1 / §6.
package frame

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameBytes is the hard cap on a single frame's payload length.
// A length prefix at or above this aborts the connection (spec §4.1, §6).
const MaxFrameBytes = 10 * 1024 * 1024

// ErrFrameTooLarge is returned when a frame's declared length is >= MaxFrameBytes.
var ErrFrameTooLarge = errors.New("frame: payload exceeds maximum frame size")

const lengthPrefixBytes = 4

// Reader decodes length-prefixed frames from an underlying stream. It
// retains no fixed buffer of its own beyond what bufio.Reader needs —
// partial reads are handled transparently by io.ReadFull, so a caller
// that reads one frame at a time never needs to manage a tail buffer.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps r for frame-at-a-time decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// ReadFrame blocks until one full frame is available, returning its raw
// JSON payload. It returns ErrFrameTooLarge (without consuming the
// payload) when the declared length is at or above MaxFrameBytes — the
// caller must close the connection in that case, per spec §4.1: framing
// errors are not recoverable.
func (d *Reader) ReadFrame() ([]byte, error) {
	var lenBuf [lengthPrefixBytes]byte
	if _, err := io.ReadFull(d.r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n >= MaxFrameBytes {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		return nil, fmt.Errorf("frame: truncated payload: %w", err)
	}
	return payload, nil
}

// WriteFrame encodes payload with its 4-byte big-endian length prefix and
// writes both in a single call so partial writes can't interleave frames
// from concurrent writers sharing the same connection.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) >= MaxFrameBytes {
		return ErrFrameTooLarge
	}
	buf := make([]byte, lengthPrefixBytes+len(payload))
	binary.BigEndian.PutUint32(buf[:lengthPrefixBytes], uint32(len(payload)))
	copy(buf[lengthPrefixBytes:], payload)
	_, err := w.Write(buf)
	return err
}
