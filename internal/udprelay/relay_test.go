package udprelay

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/metrics"
	"github.com/commanderxa/nexus/internal/protocol"
)

type fakeResolver struct {
	addrs map[string]string
}

func (f *fakeResolver) LookupAddr(userUUID, connUUID string) (string, bool) {
	addr, ok := f.addrs[userUUID+"/"+connUUID]
	return addr, ok
}

func listenUDP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	return conn
}

func TestRelayForwardsOnHit(t *testing.T) {
	dst := listenUDP(t)
	defer dst.Close()

	resolver := &fakeResolver{addrs: map[string]string{
		"bob/conn-b1": dst.LocalAddr().String(),
	}}

	relay, err := Listen("127.0.0.1:0", resolver, metrics.NoopCollector{}, zap.NewNop())
	if err != nil {
		t.Fatalf("listen relay: %v", err)
	}
	defer relay.Close()
	go relay.Run()

	frame := protocol.EncodeMediaCallUDP(protocol.MediaCall{
		UUID:    "call-1",
		Message: []byte("hello"),
		Sides:   protocol.CallSides{Sender: "alice", Receiver: "bob"},
		Peers:   protocol.CallPeers{Sender: "conn-a1", Receiver: "conn-b1"},
	})

	src, err := net.DialUDP("udp", nil, relay.conn.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer src.Close()
	if _, err := src.Write(frame); err != nil {
		t.Fatalf("write: %v", err)
	}

	dst.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, scratchBufferSize)
	n, err := dst.Read(buf)
	if err != nil {
		t.Fatalf("expected forwarded datagram: %v", err)
	}
	if string(buf[:n]) != string(frame) {
		t.Fatalf("forwarded frame does not match original bytes")
	}
}

func TestRelayDropsOnMiss(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string]string{}}
	relay, err := Listen("127.0.0.1:0", resolver, metrics.NoopCollector{}, zap.NewNop())
	if err != nil {
		t.Fatalf("listen relay: %v", err)
	}
	defer relay.Close()

	frame := protocol.EncodeMediaCallUDP(protocol.MediaCall{
		UUID:  "call-2",
		Sides: protocol.CallSides{Sender: "alice", Receiver: "ghost"},
		Peers: protocol.CallPeers{Sender: "conn-a1", Receiver: "conn-ghost"},
	})

	relay.relayOne(frame)
	if relay.Misses() != 1 {
		t.Fatalf("expected 1 miss, got %d", relay.Misses())
	}
}

func TestRelayDropsUnparseableFrame(t *testing.T) {
	resolver := &fakeResolver{addrs: map[string]string{}}
	relay, err := Listen("127.0.0.1:0", resolver, metrics.NoopCollector{}, zap.NewNop())
	if err != nil {
		t.Fatalf("listen relay: %v", err)
	}
	defer relay.Close()

	relay.relayOne([]byte{0x01, 0x02})
	if relay.Misses() != 1 {
		t.Fatalf("expected 1 miss for garbage frame, got %d", relay.Misses())
	}
}
