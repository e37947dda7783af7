// Package session implements the Session Framer (C2) and Session Loop (C3):
// the line-delimited JSON duplex wrapping one accepted TCP stream, and the
// per-session cooperative loop that multiplexes outbound mailbox delivery
// against inbound command dispatch.
//
// Grounded on the teacher's client.go handleClient loop (accept → handshake →
// spawn reader → dispatch loop → teardown), generalized from its
// gorilla/websocket + quic transport to the plain line-delimited TCP duplex
// spec.md §4.2–§4.3 specifies.
package session

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/commanderxa/nexus/internal/protocol"
)

// DefaultMaxFrameSize is the recommended bound for control frames (spec.md
// §4.2: "recommended 64 KiB").
const DefaultMaxFrameSize = 64 * 1024

// Framer wraps a byte stream as a sequence of newline-delimited JSON frames.
// It also serves as the raw byte source for file-transfer payloads (C7):
// because Go's bufio.Reader transparently drains its own lookahead buffer
// before reading more from the underlying stream, reading raw bytes directly
// off the same *bufio.Reader used for framed lines never loses pipelined
// bytes — there is no separate "rebuild" step required, only a change in how
// the caller interprets the byte stream (FramedLines vs RawBytes, spec.md §9).
type Framer struct {
	rw      io.ReadWriter
	reader  *bufio.Reader
	maxSize int
}

// NewFramer wraps rw (typically a net.Conn) as a Framer bounding inbound
// frames to maxSize bytes.
func NewFramer(rw io.ReadWriter, maxSize int) *Framer {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &Framer{rw: rw, reader: bufio.NewReaderSize(rw, maxSize+1), maxSize: maxSize}
}

// ReadFrame reads the next newline-delimited frame, stripped of its
// terminator. Returns protocol.ErrFrameTooLarge if no newline appears within
// maxSize bytes; returns io.EOF on clean stream closure.
func (f *Framer) ReadFrame() ([]byte, error) {
	line, err := f.reader.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		return nil, protocol.ErrFrameTooLarge
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) == 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: %v", protocol.ErrFramerIO, err)
	}
	if len(line) > f.maxSize+1 {
		return nil, protocol.ErrFrameTooLarge
	}
	line = bytes.TrimRight(line, "\r\n")
	out := make([]byte, len(line))
	copy(out, line)
	return out, nil
}

// SendFrame writes one frame followed by a newline.
func (f *Framer) SendFrame(b []byte) error {
	if _, err := f.rw.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrFramerIO, err)
	}
	return nil
}

// Raw exposes the underlying buffered reader for exact-length payload reads
// during file transfer (C7). Using the same *bufio.Reader instance is what
// makes the FramedLines↔RawBytes switch lossless.
func (f *Framer) Raw() io.Reader {
	return f.reader
}
