package session

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/commanderxa/nexus/internal/protocol"
)

type loopback struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }

func TestReadFrame(t *testing.T) {
	rw := &loopback{in: bytes.NewBufferString("{\"a\":1}\n{\"b\":2}\n"), out: &bytes.Buffer{}}
	f := NewFramer(rw, DefaultMaxFrameSize)

	first, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("read first: %v", err)
	}
	if string(first) != `{"a":1}` {
		t.Fatalf("unexpected first frame: %q", first)
	}

	second, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("read second: %v", err)
	}
	if string(second) != `{"b":2}` {
		t.Fatalf("unexpected second frame: %q", second)
	}

	if _, err := f.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadFrameTooLarge(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 100)
	rw := &loopback{in: bytes.NewBuffer(append(big, '\n')), out: &bytes.Buffer{}}
	f := NewFramer(rw, 10)

	if _, err := f.ReadFrame(); !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestSendFrame(t *testing.T) {
	rw := &loopback{in: &bytes.Buffer{}, out: &bytes.Buffer{}}
	f := NewFramer(rw, DefaultMaxFrameSize)

	if err := f.SendFrame([]byte(`{"status":"Ok"}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := rw.out.String(); got != "{\"status\":\"Ok\"}\n" {
		t.Fatalf("unexpected written bytes: %q", got)
	}
}

func TestRawReadAfterFramedLines(t *testing.T) {
	// Simulates a File envelope line immediately followed by its raw payload
	// bytes, all buffered ahead of time the way a fast sender might pipeline
	// them (spec.md §4.7, §9).
	rw := &loopback{in: bytes.NewBufferString("{\"command\":2}\nHELLOPAYLOAD"), out: &bytes.Buffer{}}
	f := NewFramer(rw, DefaultMaxFrameSize)

	line, err := f.ReadFrame()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if string(line) != `{"command":2}` {
		t.Fatalf("unexpected frame: %q", line)
	}

	payload := make([]byte, len("HELLOPAYLOAD"))
	if _, err := io.ReadFull(f.Raw(), payload); err != nil {
		t.Fatalf("raw read: %v", err)
	}
	if string(payload) != "HELLOPAYLOAD" {
		t.Fatalf("unexpected raw payload: %q", payload)
	}
}
