// Package callsignal implements Call Signalling (C6): the state machine over
// {Start, Accept, Accepted, End}, its DB mutation, and the differentiated
// fan-out rules spec.md §4.6 specifies — including server-only synthesis of
// the Accepted index.
//
// Grounded on original_source/nexus/src/ops/call.rs for the exact fan-out
// and DB-mutation semantics, reworked per spec.md §9's redesign notes: End
// on a missing row is a no-op, and duration is updated on both Accept and
// End rather than left at zero.
package callsignal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/metrics"
	"github.com/commanderxa/nexus/internal/protocol"
	"github.com/commanderxa/nexus/internal/registry"
	"github.com/commanderxa/nexus/internal/store"
)

// Persister is the slice of C9 the call engine needs.
type Persister interface {
	InsertCall(ctx context.Context, c store.Call) error
	UpdateCall(ctx context.Context, uuid string, createdAt, duration int64, accepted bool) (bool, error)
	SelectCall(ctx context.Context, uuid string) (store.Call, error)
}

// Fanout is the slice of C1 the call engine needs for delivery.
type Fanout interface {
	Snapshot(userUUID string) []registry.Session
}

// Engine is C6.
type Engine struct {
	store     Persister
	reg       Fanout
	collector metrics.Collector
	log       *zap.Logger
	now       func() int64
}

// New constructs an Engine.
func New(store Persister, reg Fanout, collector metrics.Collector, log *zap.Logger) *Engine {
	return &Engine{store: store, reg: reg, collector: collector, log: log, now: func() int64 { return time.Now().Unix() }}
}

// Handle processes one Call envelope, implementing session.CallHandler.
func (e *Engine) Handle(ctx context.Context, body []byte, connUUID string) error {
	var req protocol.CallRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("callsignal: decode call request: %w", err)
	}

	switch req.Index {
	case protocol.IndexStart:
		e.handleStart(ctx, req.Call, connUUID)
		e.collector.CallEventRelayed(req.Index.String())
	case protocol.IndexAccept:
		e.handleAccept(ctx, req.Call, connUUID)
		e.collector.CallEventRelayed(req.Index.String())
	case protocol.IndexEnd:
		e.handleEnd(ctx, req.Call)
		e.collector.CallEventRelayed(req.Index.String())
	case protocol.IndexAccepted:
		// Accepted is server-only; an inbound Accepted is dropped with no
		// store mutation and no fan-out (spec.md §4.6 step 4).
		e.log.Debug("ignoring inbound Accepted index", zap.String("call", req.Call.UUID))
	default:
		e.log.Warn("unknown call index", zap.Uint8("index", uint8(req.Index)))
	}
	return nil
}

func (e *Engine) handleStart(ctx context.Context, call protocol.MediaCall, connUUID string) {
	call.Peers.Sender = connUUID

	if !call.Secret {
		row := store.Call{
			UUID:         call.UUID,
			SenderUUID:   call.Sides.Sender,
			ReceiverUUID: call.Sides.Receiver,
			Secret:       false,
			Accepted:     false,
			CreatedAt:    call.CreatedAt,
		}
		if err := e.store.InsertCall(ctx, row); err != nil {
			e.log.Warn("call insert failed", zap.String("call", call.UUID), zap.Error(err))
		}
	}

	for _, s := range e.reg.Snapshot(call.Sides.Receiver) {
		e.send(s, call, protocol.IndexStart)
	}
	for _, s := range e.reg.Snapshot(call.Sides.Sender) {
		if s.ConnectionUUID == connUUID {
			continue
		}
		e.send(s, call, protocol.IndexStart)
	}
}

func (e *Engine) handleAccept(ctx context.Context, call protocol.MediaCall, connUUID string) {
	call.Peers.Receiver = connUUID

	if !call.Secret {
		// The client-supplied CreatedAt is untrusted; prefer the row this
		// engine itself persisted on Start so duration math can't be skewed
		// by a forged or stale envelope.
		createdAt := call.CreatedAt
		if row, err := e.store.SelectCall(ctx, call.UUID); err == nil {
			createdAt = row.CreatedAt
		}

		duration := e.duration(createdAt, true)
		if existed, err := e.store.UpdateCall(ctx, call.UUID, createdAt, duration, true); err != nil {
			e.log.Warn("call accept update failed", zap.String("call", call.UUID), zap.Error(err))
		} else if !existed {
			e.log.Debug("accept for call with no persisted row", zap.String("call", call.UUID))
		}
	}

	for _, s := range e.reg.Snapshot(call.Sides.Sender) {
		if s.ConnectionUUID == call.Peers.Sender {
			e.send(s, call, protocol.IndexAccept)
		} else {
			e.send(s, call, protocol.IndexAccepted)
		}
	}
	for _, s := range e.reg.Snapshot(call.Sides.Receiver) {
		if s.ConnectionUUID == call.Peers.Receiver {
			continue // the accepting client already knows locally.
		}
		e.send(s, call, protocol.IndexAccepted)
	}
}

func (e *Engine) handleEnd(ctx context.Context, call protocol.MediaCall) {
	if !call.Secret {
		// Source createdAt/accepted from the persisted row when one exists
		// so a client can't shorten or lengthen its own billed duration by
		// replaying a forged envelope; fall back to the envelope's own
		// fields for secret calls or a Start that never persisted.
		createdAt, accepted := call.CreatedAt, call.Accepted
		if row, err := e.store.SelectCall(ctx, call.UUID); err == nil {
			createdAt, accepted = row.CreatedAt, row.Accepted
		}

		duration := e.duration(createdAt, accepted)
		if _, err := e.store.UpdateCall(ctx, call.UUID, createdAt, duration, accepted); err != nil {
			e.log.Warn("call end update failed", zap.String("call", call.UUID), zap.Error(err))
		}
		// A missing row (existed == false) is a no-op, not an error —
		// spec.md §9 design note (a).
	}

	for _, s := range e.reg.Snapshot(call.Sides.Sender) {
		e.send(s, call, protocol.IndexEnd)
	}
	for _, s := range e.reg.Snapshot(call.Sides.Receiver) {
		e.send(s, call, protocol.IndexEnd)
	}
}

// duration computes the snapshot stored at an Accept/End event: zero for an
// unaccepted call, elapsed wall-clock seconds since Start otherwise
// (invariant 6).
func (e *Engine) duration(createdAt int64, accepted bool) int64 {
	if !accepted {
		return 0
	}
	d := e.now() - createdAt
	if d < 0 {
		d = 0
	}
	return d
}

func (e *Engine) send(s registry.Session, call protocol.MediaCall, index protocol.IndexToken) {
	wire, err := protocol.Encode(protocol.CallRequest{Call: call, Index: index, CreatedAt: call.CreatedAt})
	if err != nil {
		e.log.Warn("encode call envelope failed", zap.Error(err))
		return
	}
	registry.Send(s, string(wire))
}
