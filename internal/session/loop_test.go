package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/metrics"
	"github.com/commanderxa/nexus/internal/protocol"
	"github.com/commanderxa/nexus/internal/registry"
)

type fakeAuth struct {
	valid map[string]string
}

func (f *fakeAuth) Validate(_ context.Context, token string) (string, error) {
	if u, ok := f.valid[token]; ok {
		return u, nil
	}
	return "", errors.New("invalid token")
}

type recordingHandler struct{ calls int }

func (h *recordingHandler) Handle(context.Context, []byte, string) error { h.calls++; return nil }

type noopFileHandler struct{}

func (noopFileHandler) Handle(context.Context, []byte, io.Reader, string) error { return nil }

func writeLine(t *testing.T, conn net.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := conn.Write(append(b, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestHandshakeSuccessRegistersConnection(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	reg := registry.New(zap.NewNop())
	auth := &fakeAuth{valid: map[string]string{"good-token": "user-1"}}
	msgs := &recordingHandler{}
	calls := &recordingHandler{}

	framer := NewFramer(serverConn, DefaultMaxFrameSize)
	loop := New(framer, reg, auth, msgs, calls, noopFileHandler{}, metrics.NoopCollector{}, zap.NewNop(), "1.2.3.4:1")

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	writeLine(t, clientConn, protocol.Envelope{Token: "good-token"})

	buf := make([]byte, 256)
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(buf[:n-1], &resp); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if resp.Status != protocol.StatusOk || resp.Content != protocol.ConnectionEstablished {
		t.Fatalf("unexpected ack: %+v", resp)
	}

	if reg.ClientCount() != 1 {
		t.Fatalf("expected 1 registered client, got %d", reg.ClientCount())
	}

	clientConn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after peer close")
	}

	if reg.ClientCount() != 0 {
		t.Fatalf("expected registry cleared after teardown, got %d", reg.ClientCount())
	}
}

func TestHandshakeFailureSendsInvalidJWT(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	reg := registry.New(zap.NewNop())
	auth := &fakeAuth{valid: map[string]string{}}

	framer := NewFramer(serverConn, DefaultMaxFrameSize)
	loop := New(framer, reg, auth, &recordingHandler{}, &recordingHandler{}, noopFileHandler{}, metrics.NoopCollector{}, zap.NewNop(), "addr")

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	writeLine(t, clientConn, protocol.Envelope{Token: "bad"})

	buf := make([]byte, 64)
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	n, err := clientConn.Read(buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(buf[:n-1]) != invalidJWTLine {
		t.Fatalf("unexpected response: %q", buf[:n])
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after auth failure")
	}
	if reg.ClientCount() != 0 {
		t.Fatal("expected no registry entry on auth failure")
	}
}

func TestDispatchRoutesMessageCommand(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer clientConn.Close()

	reg := registry.New(zap.NewNop())
	auth := &fakeAuth{valid: map[string]string{"tok": "user-1"}}
	msgs := &recordingHandler{}

	framer := NewFramer(serverConn, DefaultMaxFrameSize)
	loop := New(framer, reg, auth, msgs, &recordingHandler{}, noopFileHandler{}, metrics.NoopCollector{}, zap.NewNop(), "addr")

	done := make(chan error, 1)
	go func() { done <- loop.Run(context.Background()) }()

	writeLine(t, clientConn, protocol.Envelope{Token: "tok"})
	ackBuf := make([]byte, 256)
	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := clientConn.Read(ackBuf); err != nil {
		t.Fatalf("read ack: %v", err)
	}

	writeLine(t, clientConn, protocol.Envelope{Command: protocol.CommandMessage, Token: "tok"})

	deadline := time.Now().Add(time.Second)
	for msgs.calls == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if msgs.calls != 1 {
		t.Fatalf("expected message handler invoked once, got %d", msgs.calls)
	}

	clientConn.Close()
	<-done
}
