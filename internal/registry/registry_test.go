package registry

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(zap.NewNop())
}

func TestInsertAndSnapshot(t *testing.T) {
	r := newTestRegistry(t)

	mbox, err := r.Insert("u1", "c1", "10.0.0.1:1")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if mbox == nil {
		t.Fatal("expected non-nil mailbox")
	}

	sessions := r.Snapshot("u1")
	if len(sessions) != 1 || sessions[0].ConnectionUUID != "c1" {
		t.Fatalf("unexpected snapshot: %+v", sessions)
	}
}

func TestInsertDuplicateConnectionFails(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Insert("u1", "c1", "addr"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if _, err := r.Insert("u1", "c1", "addr"); err != ErrDuplicateConnection {
		t.Fatalf("expected ErrDuplicateConnection, got %v", err)
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	r := newTestRegistry(t)
	r.Remove("ghost-user", "ghost-conn") // must not panic
}

// TestNoSendAfterRemove exercises invariant I1: once remove(u,c) returns, the
// mailbox receives no further sends.
func TestNoSendAfterRemove(t *testing.T) {
	r := newTestRegistry(t)
	mbox, err := r.Insert("u1", "c1", "addr")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	r.Remove("u1", "c1")

	sessions := r.Snapshot("u1")
	if len(sessions) != 0 {
		t.Fatalf("expected empty snapshot after remove, got %+v", sessions)
	}

	// Nothing should have been delivered, and nothing new can be routed to
	// this now-unregistered connection.
	select {
	case v := <-mbox:
		t.Fatalf("unexpected value delivered after remove: %q", v)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSendDropsWhenMailboxFull(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Insert("u1", "c1", "addr"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	sessions := r.Snapshot("u1")
	session := sessions[0]

	for i := 0; i < mailboxBuffer+10; i++ {
		Send(session, "frame")
	}
	// Must not deadlock or panic; excess sends are silently dropped.
	if len(session.Mailbox) != mailboxBuffer {
		t.Fatalf("expected mailbox to be full at capacity, got %d", len(session.Mailbox))
	}
}

func TestLookupAddr(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Insert("u1", "c1", "1.2.3.4:9"); err != nil {
		t.Fatalf("insert: %v", err)
	}

	addr, ok := r.LookupAddr("u1", "c1")
	if !ok || addr != "1.2.3.4:9" {
		t.Fatalf("unexpected lookup result: %q, %v", addr, ok)
	}

	if _, ok := r.LookupAddr("u1", "unknown"); ok {
		t.Fatal("expected miss for unknown connection")
	}
}

func TestSameConnectionUUIDAllowedUnderDifferentUsers(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.Insert("u1", "c1", "addr"); err != nil {
		t.Fatalf("insert under u1: %v", err)
	}
	// Same connection_uuid under a different user is a distinct composite
	// key in this registry's model, so it succeeds as its own entry —
	// invariant 2 is enforced at the session-loop layer, which always mints
	// a fresh connection_uuid per accept and therefore never reuses one
	// across users.
	if _, err := r.Insert("u2", "c1", "addr"); err != nil {
		t.Fatalf("insert under u2: %v", err)
	}
	if len(r.Snapshot("u1")) != 1 || len(r.Snapshot("u2")) != 1 {
		t.Fatal("expected independent entries per user")
	}
}
