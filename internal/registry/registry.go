// Package registry implements the Connection Registry (C1): the
// process-wide, in-memory mapping from user to the set of that user's live
// sessions. It is the only structure in the system mutated by more than one
// goroutine (spec.md §5), so every operation is serialized under a single
// mutex; fan-out reads copy the inner session list and release the lock
// before pushing to mailboxes, so a slow consumer never holds up the router.
//
// Grounded on the teacher's room.go client map together with
// internal/core/channel_state.go's channel-mailbox idiom, generalized from a
// single flat client map to the two-level user→session mapping spec.md §3
// requires.
package registry

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handle is one live session's registry entry: its outbound mailbox and the
// remote address the UDP relay (C8) resolves against.
type Handle struct {
	ConnectionUUID string
	RemoteAddr     string
	Mailbox        chan string
}

// Session is a read-only snapshot of one registry entry, returned by
// Snapshot so callers never hold a reference into the registry's own maps.
type Session struct {
	ConnectionUUID string
	RemoteAddr     string
	Mailbox        chan string
}

// ErrDuplicateConnection is returned by Insert when the connection_uuid
// already exists under that user (spec.md §4.1).
var ErrDuplicateConnection = fmt.Errorf("registry: duplicate connection")

// mailboxBuffer is the channel capacity for one session's outbound mailbox.
// Spec.md §5 calls mailboxes "unbounded"; Go channels require a concrete
// buffer, so this repo picks a large buffer and never blocks a full one —
// see Send, which drops rather than blocks, matching "a send that
// finds the consumer dropped is discarded silently" (spec.md §4.1).
const mailboxBuffer = 4096

// Registry is the two-level user_uuid → connection_uuid → Handle mapping.
type Registry struct {
	mu    sync.Mutex
	users map[string]map[string]*Handle
	log   *zap.Logger
}

// New constructs an empty Registry.
func New(log *zap.Logger) *Registry {
	return &Registry{
		users: make(map[string]map[string]*Handle),
		log:   log,
	}
}

// Insert creates a fresh mailbox for (userUUID, connUUID) and returns it.
// Fails with ErrDuplicateConnection if connUUID is already registered under
// userUUID (spec.md §4.1, invariant 2).
func (r *Registry) Insert(userUUID, connUUID, remoteAddr string) (chan string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userUUID]
	if !ok {
		conns = make(map[string]*Handle)
		r.users[userUUID] = conns
	}
	if _, exists := conns[connUUID]; exists {
		return nil, ErrDuplicateConnection
	}

	mailbox := make(chan string, mailboxBuffer)
	conns[connUUID] = &Handle{ConnectionUUID: connUUID, RemoteAddr: remoteAddr, Mailbox: mailbox}
	r.log.Debug("connection registered", zap.String("user", userUUID), zap.String("conn", connUUID))
	return mailbox, nil
}

// Remove deletes (userUUID, connUUID) if present; a remove of an unknown key
// is a no-op (spec.md §4.1 — the session may already have been reaped).
func (r *Registry) Remove(userUUID, connUUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userUUID]
	if !ok {
		return
	}
	delete(conns, connUUID)
	if len(conns) == 0 {
		delete(r.users, userUUID)
	}
	r.log.Debug("connection removed", zap.String("user", userUUID), zap.String("conn", connUUID))
}

// Snapshot copies the current session list for userUUID. The lock is held
// only for the copy; callers push to the returned mailboxes without the
// registry's lock held (spec.md §4.1, §5, §9).
func (r *Registry) Snapshot(userUUID string) []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userUUID]
	if !ok {
		return nil
	}
	out := make([]Session, 0, len(conns))
	for _, h := range conns {
		out = append(out, Session{ConnectionUUID: h.ConnectionUUID, RemoteAddr: h.RemoteAddr, Mailbox: h.Mailbox})
	}
	return out
}

// LookupAddr resolves the remote address bound to one connection, for the
// UDP relay (C8). Read-only: never mutates the registry (invariant 5).
func (r *Registry) LookupAddr(userUUID, connUUID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns, ok := r.users[userUUID]
	if !ok {
		return "", false
	}
	h, ok := conns[connUUID]
	if !ok {
		return "", false
	}
	return h.RemoteAddr, true
}

// Send pushes frame to one session's mailbox, non-blocking. If the mailbox
// is full or the session has since been removed, the send is dropped
// silently — fan-out must never block on a slow or dead consumer (spec.md
// §4.1, §7 "UnknownReceiver").
func Send(session Session, frame string) {
	select {
	case session.Mailbox <- frame:
	default:
	}
}

// ClientCount returns the total number of live sessions across all users,
// for health/metrics endpoints.
func (r *Registry) ClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, conns := range r.users {
		n += len(conns)
	}
	return n
}

// UserCount returns the number of distinct users with at least one live
// session.
func (r *Registry) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}
