package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/YuhIcey/staterelay/internal/config"
	"github.com/YuhIcey/staterelay/internal/metrics"
	"github.com/YuhIcey/staterelay/internal/protocol"
	"github.com/YuhIcey/staterelay/internal/session"
)

// admissionTimeout bounds how long a dialed connection may sit silent
// before its first envelope arrives. A client that never speaks is cut
// loose instead of holding a goroutine open.
const admissionTimeout = 10 * time.Second

// BanChecker is the slice of the roster the connection gate needs.
type BanChecker interface {
	IsBanned(identity string) bool
}

// IdentityFunc extracts a player identity from the first envelope payload
// seen on a stream connection. It is pluggable so a stronger handshake can
// replace payload sniffing without touching the listener loop.
type IdentityFunc func(payload []byte) (string, error)

// DefaultIdentity reads the identity field of a PlayerState-shaped payload.
func DefaultIdentity(payload []byte) (string, error) {
	state, err := protocol.DecodePlayerState(payload)
	if err != nil {
		return "", err
	}
	if state.Identity == "" {
		return "", fmt.Errorf("first envelope carries no identity")
	}
	return state.Identity, nil
}

// StreamServer accepts stream connections and runs one goroutine per
// connection: gate the first envelope (ban, capacity, password), create
// the session, then route every decoded envelope to the dispatcher until
// the stream breaks or the client disconnects.
type StreamServer struct {
	addr       string
	cfg        *config.ServerConfig
	logger     *slog.Logger
	table      *session.Table
	bans       BanChecker
	dispatcher *Dispatcher
	metrics    *metrics.Metrics

	// Identify gates the first envelope. Defaults to DefaultIdentity.
	Identify IdentityFunc

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	// pending tracks connections that have not passed admission yet. They
	// are in no session table, so Stop must close them directly.
	pendingMu sync.Mutex
	pending   map[net.Conn]struct{}
}

// NewStreamServer creates a stream listener bound to addr when started.
func NewStreamServer(addr string, cfg *config.ServerConfig, logger *slog.Logger,
	table *session.Table, bans BanChecker, dispatcher *Dispatcher, m *metrics.Metrics) *StreamServer {

	ctx, cancel := context.WithCancel(context.Background())

	return &StreamServer{
		addr:       addr,
		cfg:        cfg,
		logger:     logger,
		table:      table,
		bans:       bans,
		dispatcher: dispatcher,
		metrics:    m,
		Identify:   DefaultIdentity,
		ctx:        ctx,
		cancel:     cancel,
		pending:    make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and begins accepting connections. A bind
// failure is fatal; the server must not run half-listening.
func (s *StreamServer) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	s.logger.Info("Stream listener started",
		slog.String("address", listener.Addr().String()),
	)

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and all live stream connections, then waits for
// the per-connection goroutines to drain.
func (s *StreamServer) Stop() {
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.pendingMu.Lock()
	for conn := range s.pending {
		conn.Close()
	}
	s.pendingMu.Unlock()

	for _, sess := range s.table.Snapshot() {
		sess.CloseStream()
	}

	s.wg.Wait()
	s.logger.Info("Stream listener stopped")
}

// Addr returns the bound listener address.
func (s *StreamServer) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *StreamServer) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("Accept failed", slog.String("error", err.Error()))
			continue
		}

		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn owns one stream connection from accept to teardown.
func (s *StreamServer) handleConn(conn net.Conn) {
	defer s.wg.Done()

	remote := conn.RemoteAddr().String()

	s.pendingMu.Lock()
	s.pending[conn] = struct{}{}
	s.pendingMu.Unlock()

	sess, firstKind, firstPayload, ok := s.admit(conn, remote)

	s.pendingMu.Lock()
	delete(s.pending, conn)
	s.pendingMu.Unlock()

	if !ok {
		conn.Close()
		return
	}

	identity := sess.Identity()
	s.metrics.SessionsCreated.Inc()
	s.metrics.ActiveSessions.Set(float64(s.table.Count()))
	s.logger.Info("Session connected",
		slog.String("identity", identity),
		slog.String("remote_addr", remote),
		slog.Int("occupancy", s.table.Count()),
		slog.Int("max_players", s.cfg.MaxPlayers),
	)

	if s.cfg.MOTD != "" {
		motd := protocol.EncodeChatText(s.cfg.Name, s.cfg.MOTD)
		if err := sess.SendStream(protocol.KindChatMessage, motd); err != nil {
			s.logger.Warn("Failed to send MOTD",
				slog.String("identity", identity),
				slog.String("error", err.Error()),
			)
		}
	}

	// The first envelope is routed too; it announces the new player.
	s.dispatcher.HandleStream(sess, firstKind, firstPayload)

	if firstKind != protocol.KindDisconnect {
		for {
			kind, payload, err := protocol.DecodeStreamEnvelope(conn)
			if err != nil {
				// A kick or shutdown closes the socket out from under the
				// read; only count truncation on a connection we still own.
				if errors.Is(err, protocol.ErrTruncatedStream) && s.ctx.Err() == nil && sess.Connected() {
					s.metrics.RecordFramingError(metrics.TransportStream)
					s.logger.Debug("Stream truncated",
						slog.String("identity", identity),
						slog.String("error", err.Error()),
					)
				}
				break
			}

			s.metrics.RecordPacketReceived(metrics.TransportStream)
			s.dispatcher.HandleStream(sess, kind, payload)

			if kind == protocol.KindDisconnect {
				break
			}
		}
	}

	// The dispatcher already removed the session on an explicit
	// Disconnect; every other exit path cleans up here.
	if s.table.Remove(identity) {
		s.metrics.SessionsRemoved.Inc()
		s.logger.Info("Session disconnected",
			slog.String("identity", identity),
			slog.Int("occupancy", s.table.Count()),
			slog.Int("max_players", s.cfg.MaxPlayers),
		)
	}
	s.metrics.ActiveSessions.Set(float64(s.table.Count()))
	sess.CloseStream()
}

// admit reads the first envelope and runs the connection gate in order:
// identity extraction, ban roster, capacity, password. Rejections get a
// best-effort Disconnect notice before the connection closes.
func (s *StreamServer) admit(conn net.Conn, remote string) (*session.Session, protocol.Kind, []byte, bool) {
	conn.SetReadDeadline(time.Now().Add(admissionTimeout))
	kind, payload, err := protocol.DecodeStreamEnvelope(conn)
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		s.metrics.RecordFramingError(metrics.TransportStream)
		s.logger.Debug("Connection dropped before first envelope",
			slog.String("remote_addr", remote),
			slog.String("error", err.Error()),
		)
		return nil, 0, nil, false
	}
	s.metrics.RecordPacketReceived(metrics.TransportStream)

	identity, err := s.Identify(payload)
	if err != nil {
		s.metrics.RecordConnectReject("malformed")
		s.logger.Warn("Rejected connection with unreadable first envelope",
			slog.String("remote_addr", remote),
			slog.String("error", err.Error()),
		)
		return nil, 0, nil, false
	}

	if s.bans.IsBanned(identity) {
		s.metrics.RecordConnectReject("banned")
		s.logger.Info("Rejected banned identity",
			slog.String("identity", identity),
			slog.String("remote_addr", remote),
		)
		s.sendRejection(conn, "You are banned from this server")
		return nil, 0, nil, false
	}

	if s.table.Count() >= s.cfg.MaxPlayers {
		s.metrics.RecordConnectReject("capacity")
		s.logger.Info("Rejected connection, server full",
			slog.String("identity", identity),
			slog.Int("occupancy", s.table.Count()),
			slog.Int("max_players", s.cfg.MaxPlayers),
		)
		s.sendRejection(conn, "Server is full")
		return nil, 0, nil, false
	}

	// The raw first payload doubles as the password token when password
	// protection is on; the comparison is byte-exact.
	if s.cfg.PasswordRequired && !bytes.Equal(payload, []byte(s.cfg.Password)) {
		s.metrics.RecordConnectReject("password")
		s.logger.Info("Rejected connection, wrong password",
			slog.String("identity", identity),
			slog.String("remote_addr", remote),
		)
		s.sendRejection(conn, "Wrong password")
		return nil, 0, nil, false
	}

	state := protocol.PlayerState{Identity: identity}
	if decoded, err := protocol.DecodePlayerState(payload); err == nil {
		state = *decoded
	}

	sess := session.New(identity, conn, state, time.Now())
	if !s.table.TryAdd(sess) {
		s.metrics.RecordConnectReject("duplicate")
		s.logger.Info("Rejected connection, identity already connected",
			slog.String("identity", identity),
			slog.String("remote_addr", remote),
		)
		s.sendRejection(conn, "Identity already connected")
		return nil, 0, nil, false
	}

	return sess, kind, payload, true
}

// sendRejection writes a Disconnect notice before the gate closes the
// connection. Failures are irrelevant; the connection dies either way.
func (s *StreamServer) sendRejection(conn net.Conn, reason string) {
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	notice := protocol.EncodeDisconnectNotice(reason)
	conn.Write(protocol.EncodeEnvelope(protocol.KindDisconnect, notice))
}
