package session

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/YuhIcey/staterelay/internal/protocol"
)

// streamWriteTimeout bounds a single envelope write so one stalled
// recipient cannot wedge a broadcast worker indefinitely.
const streamWriteTimeout = 5 * time.Second

// Session is the server-side record of one connected player: identity,
// last known state, and the transport handles used to reach the client.
// The stream connection is owned exclusively by the session; all sends go
// through SendStream. The datagram endpoint starts unset and is learned
// from the first datagram carrying the session's identity.
type Session struct {
	identity string
	conn     net.Conn

	// sendMu serializes writes on the stream connection.
	sendMu sync.Mutex

	mu           sync.RWMutex
	state        protocol.PlayerState
	connected    bool
	lastUpdate   time.Time
	datagramAddr *net.UDPAddr
	lastSeq      uint32
}

// SessionInfo is a point-in-time view of a session for monitoring surfaces.
type SessionInfo struct {
	Identity         string           `json:"identity"`
	Connected        bool             `json:"connected"`
	LastUpdate       time.Time        `json:"last_update"`
	HasDatagramAddr  bool             `json:"has_datagram_endpoint"`
	DatagramAddr     string           `json:"datagram_endpoint,omitempty"`
	Position         protocol.Vector3 `json:"position"`
	Health           float64          `json:"health"`
	IsDead           bool             `json:"is_dead"`
	AcceptedSequence uint32           `json:"accepted_sequence"`
}

// New creates a session for an authenticated stream connection.
func New(identity string, conn net.Conn, state protocol.PlayerState, now time.Time) *Session {
	return &Session{
		identity:   identity,
		conn:       conn,
		state:      state,
		connected:  true,
		lastUpdate: now,
	}
}

// Identity returns the session's stable external key.
func (s *Session) Identity() string {
	return s.identity
}

// SendStream writes one envelope on the session's stream connection.
func (s *Session) SendStream(kind protocol.Kind, payload []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("session %s has no stream connection", s.identity)
	}

	if err := s.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return fmt.Errorf("setting write deadline for %s: %w", s.identity, err)
	}

	if _, err := s.conn.Write(protocol.EncodeEnvelope(kind, payload)); err != nil {
		return fmt.Errorf("writing %s envelope to %s: %w", kind, s.identity, err)
	}

	return nil
}

// CloseStream closes the stream connection, unblocking the connection's
// read loop if it is mid-decode.
func (s *Session) CloseStream() {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	if s.conn != nil {
		s.conn.Close()
	}
}

// Connected reports whether the stream handle is still usable for sends.
func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// ApplyState installs a newer player state and advances the activity
// timestamp. Updates whose sequence is older than the last accepted one are
// rejected; equal or newer sequences win, so a client restarting its
// counter at the same value is not locked out.
func (s *Session) ApplyState(state protocol.PlayerState, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if state.Sequence < s.lastSeq {
		return false
	}

	s.state = state
	s.lastSeq = state.Sequence
	s.lastUpdate = now
	return true
}

// Touch advances the activity timestamp without changing state.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastUpdate = now
	s.mu.Unlock()
}

// State returns a copy of the last accepted player state.
func (s *Session) State() protocol.PlayerState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastUpdate returns the time of the last accepted packet.
func (s *Session) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// SetDatagramAddr records the client's datagram origin.
func (s *Session) SetDatagramAddr(addr *net.UDPAddr) {
	s.mu.Lock()
	s.datagramAddr = addr
	s.mu.Unlock()
}

// DatagramAddr returns the learned datagram endpoint, or nil if the client
// has not sent a datagram yet. A nil endpoint means the session is skipped
// by datagram broadcast.
func (s *Session) DatagramAddr() *net.UDPAddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.datagramAddr
}

// Info returns a snapshot of the session for monitoring.
func (s *Session) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := SessionInfo{
		Identity:         s.identity,
		Connected:        s.connected,
		LastUpdate:       s.lastUpdate,
		Position:         s.state.Position,
		Health:           s.state.Health,
		IsDead:           s.state.IsDead,
		AcceptedSequence: s.lastSeq,
	}
	if s.datagramAddr != nil {
		info.HasDatagramAddr = true
		info.DatagramAddr = s.datagramAddr.String()
	}
	return info
}
