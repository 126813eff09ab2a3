package session

import (
	"log/slog"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/YuhIcey/staterelay/internal/protocol"
)

// Table is the concurrent mapping from player identity to session record.
// It is the only contended shared structure in the server; a single coarse
// mutex guards all mutation, and broadcast paths take a Snapshot before
// doing any network I/O so the lock is never held across a send.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	logger   *slog.Logger
}

// NewTable creates an empty session table.
func NewTable(logger *slog.Logger) *Table {
	return &Table{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// TryAdd inserts a session under its identity. It returns false and leaves
// the table unchanged if the identity is already present; the caller must
// treat that as "already connected", never overwrite.
func (t *Table) TryAdd(sess *Session) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	identity := sess.Identity()
	if _, exists := t.sessions[identity]; exists {
		t.logger.Warn("Rejected duplicate session",
			slog.String("identity", identity),
		)
		return false
	}

	t.sessions[identity] = sess
	return true
}

// Remove deletes the session for an identity. It returns false if no such
// session exists.
func (t *Table) Remove(identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.sessions[identity]; !exists {
		return false
	}

	delete(t.sessions, identity)
	return true
}

// Get looks up a session by exact, case-sensitive identity.
func (t *Table) Get(identity string) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sess, exists := t.sessions[identity]
	return sess, exists
}

// UpdateDatagramEndpoint binds the datagram origin for an identity. Unknown
// identities are ignored; datagrams may race session teardown.
func (t *Table) UpdateDatagramEndpoint(identity string, addr *net.UDPAddr) {
	t.mu.RLock()
	sess, exists := t.sessions[identity]
	t.mu.RUnlock()

	if !exists {
		return
	}

	sess.SetDatagramAddr(addr)
}

// UpdateState applies a player state update to the identity's session and
// reports whether it was accepted under the sequence policy.
func (t *Table) UpdateState(identity string, state protocol.PlayerState, now time.Time) bool {
	t.mu.RLock()
	sess, exists := t.sessions[identity]
	t.mu.RUnlock()

	if !exists {
		return false
	}

	return sess.ApplyState(state, now)
}

// Snapshot returns a point-in-time copy of all sessions, ordered by
// identity. Iterating the snapshot is safe while the table mutates.
func (t *Table) Snapshot() []*Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sessions := make([]*Session, 0, len(t.sessions))
	for _, sess := range t.sessions {
		sessions = append(sessions, sess)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Identity() < sessions[j].Identity()
	})

	return sessions
}

// Count returns the number of live sessions.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}
