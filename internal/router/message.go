// Package router implements the Message Router (C5): persist non-secret
// messages, then fan out to every session of the receiver and every session
// of the sender except the originator (spec.md §4.5).
package router

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/commanderxa/nexus/internal/metrics"
	"github.com/commanderxa/nexus/internal/protocol"
	"github.com/commanderxa/nexus/internal/registry"
	"github.com/commanderxa/nexus/internal/store"
)

// Persister is the slice of C9 the router needs.
type Persister interface {
	InsertMessage(ctx context.Context, m store.Message) error
}

// Fanout is the slice of C1 the router needs for delivery.
type Fanout interface {
	Snapshot(userUUID string) []registry.Session
}

// Router is C5.
type Router struct {
	store     Persister
	reg       Fanout
	collector metrics.Collector
	log       *zap.Logger
}

// New constructs a Router.
func New(store Persister, reg Fanout, collector metrics.Collector, log *zap.Logger) *Router {
	return &Router{store: store, reg: reg, collector: collector, log: log}
}

// Handle processes one Message envelope body, implementing
// session.MessageHandler.
func (r *Router) Handle(ctx context.Context, body []byte, connUUID string) error {
	var req protocol.MessageRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("router: decode message request: %w", err)
	}
	msg := req.Message
	r.collector.MessageRelayed()

	// Invariant 4: in-memory status.sent is set before persistence and
	// before fan-out.
	msg.Status.Sent = true

	if !msg.Secret {
		row := store.Message{
			UUID:         msg.UUID,
			Ciphertext:   []byte(msg.Content.Text),
			Nonce:        msg.Nonce,
			SenderUUID:   msg.Sides.Sender,
			ReceiverUUID: msg.Sides.Receiver,
			Sent:         true,
			Read:         msg.Status.Read,
			Edited:       msg.Status.Edited,
			Type:         "Text",
			Secret:       false,
			CreatedAt:    msg.CreatedAt,
			EditedAt:     msg.EditedAt,
		}
		if err := r.store.InsertMessage(ctx, row); err != nil {
			// spec.md §4.5, §7: persistence faults never block fan-out.
			r.log.Warn("message persistence failed", zap.String("uuid", msg.UUID), zap.Error(err))
		}
	}

	serialized, err := protocol.Encode(msg)
	if err != nil {
		return fmt.Errorf("router: encode message: %w", err)
	}
	wire := string(serialized)

	for _, s := range r.reg.Snapshot(msg.Sides.Receiver) {
		registry.Send(s, wire)
	}
	for _, s := range r.reg.Snapshot(msg.Sides.Sender) {
		if s.ConnectionUUID == connUUID {
			continue // multi-device echo: every sender session but the originator.
		}
		registry.Send(s, wire)
	}

	return nil
}
