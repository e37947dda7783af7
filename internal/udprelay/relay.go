// Package udprelay implements the UDP Relay (C8): a single bound socket
// receiving media frames and forwarding them verbatim to the resolved
// destination address, consulting the Connection Registry read-only.
//
// Grounded on original_source/nexus/src/stream/udp.rs's single-buffer,
// select-loop design, generalized from tokio::select! over a forwarding
// channel to a plain blocking receive loop — this repo has no UDP-side
// producer needing the same duplexing the TCP session loop does.
package udprelay

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/metrics"
	"github.com/commanderxa/nexus/internal/protocol"
)

// scratchBufferSize bounds one datagram read. Larger frames are truncated
// and dropped (spec.md §4.8).
const scratchBufferSize = 2048

// AddrResolver is the slice of C1 the relay needs: read-only lookup, never
// mutation (invariant 5).
type AddrResolver interface {
	LookupAddr(userUUID, connUUID string) (string, bool)
}

// Relay is C8.
type Relay struct {
	conn      *net.UDPConn
	registry  AddrResolver
	collector metrics.Collector
	log       *zap.Logger
	misses    atomic.Uint64
}

// Listen binds a UDP socket at addr.
func Listen(addr string, registry AddrResolver, collector metrics.Collector, log *zap.Logger) (*Relay, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("udprelay: resolve addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("udprelay: listen: %w", err)
	}
	return &Relay{conn: conn, registry: registry, collector: collector, log: log}, nil
}

// Close closes the underlying socket.
func (r *Relay) Close() error {
	return r.conn.Close()
}

// Run blocks, relaying datagrams until the socket is closed. The relay has
// no state of its own and performs no persistence (spec.md §4.8).
func (r *Relay) Run() error {
	buf := make([]byte, scratchBufferSize) // single fixed-size scratch area, reused across datagrams.
	for {
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.log.Warn("udp read error", zap.Error(err))
			continue
		}
		r.relayOne(buf[:n])
	}
}

func (r *Relay) relayOne(frame []byte) {
	call, err := protocol.DecodeMediaCallUDP(frame)
	if err != nil {
		r.misses.Add(1)
		r.collector.UDPRelayMiss()
		r.log.Debug("udp frame parse failed, dropping", zap.Error(err))
		return
	}

	addr, ok := r.registry.LookupAddr(call.Sides.Receiver, call.Peers.Receiver)
	if !ok {
		r.misses.Add(1)
		r.collector.UDPRelayMiss()
		r.log.Debug("udp relay miss, dropping", zap.String("user", call.Sides.Receiver), zap.String("conn", call.Peers.Receiver))
		return
	}

	dst, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		r.log.Warn("udp relay: resolve destination failed", zap.String("addr", addr), zap.Error(err))
		return
	}

	// Forward the exact bytes received — invariant I6.
	if _, err := r.conn.WriteToUDP(frame, dst); err != nil {
		r.log.Warn("udp relay: forward failed", zap.Error(err))
	}
}

// Misses returns the running count of relay misses (unknown receiver or
// parse failure), for metrics.
func (r *Relay) Misses() uint64 {
	return r.misses.Load()
}
