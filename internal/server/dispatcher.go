package server

import (
	"log/slog"
	"net"
	"time"

	"github.com/YuhIcey/staterelay/internal/metrics"
	"github.com/YuhIcey/staterelay/internal/protocol"
	"github.com/YuhIcey/staterelay/internal/session"
)

// Dispatcher routes decoded envelopes by kind: it mutates authoritative
// state (session state, world state) where a kind demands it and hands the
// envelope to the broadcaster. It is transport-agnostic; the listeners tell
// it who sent the packet.
type Dispatcher struct {
	table   *session.Table
	world   *session.World
	bc      *Broadcaster
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewDispatcher creates a dispatcher over the shared state and broadcaster.
func NewDispatcher(table *session.Table, world *session.World, bc *Broadcaster, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		table:   table,
		world:   world,
		bc:      bc,
		logger:  logger,
		metrics: m,
	}
}

// HandleStream routes one envelope received on a session's stream
// connection.
func (d *Dispatcher) HandleStream(sess *session.Session, kind protocol.Kind, payload []byte) {
	sess.Touch(time.Now())
	d.route(kind, payload, sess.Identity())
}

// HandleDatagram routes one envelope received as a datagram. The sender's
// network origin is bound to its session here; this is the only place the
// datagram endpoint is learned.
func (d *Dispatcher) HandleDatagram(kind protocol.Kind, payload []byte, remoteAddr *net.UDPAddr) {
	sender, ok := protocol.ExtractIdentity(payload)
	if ok {
		d.table.UpdateDatagramEndpoint(sender, remoteAddr)
		if sess, exists := d.table.Get(sender); exists {
			sess.Touch(time.Now())
		}
	}

	d.route(kind, payload, sender)
}

// route interprets one envelope. Sender may be empty for anonymous
// payloads; broadcasts then go to the full table.
func (d *Dispatcher) route(kind protocol.Kind, payload []byte, sender string) {
	switch kind {
	case protocol.KindConnect:
		// Capacity, ban and password were already enforced at accept time.
		// The remaining duty is announcing the new player's state to the
		// sessions that were already here.
		d.bc.BroadcastDatagram(kind, payload, sender)

	case protocol.KindDisconnect:
		if sender != "" && d.table.Remove(sender) {
			d.metrics.SessionsRemoved.Inc()
			d.metrics.ActiveSessions.Set(float64(d.table.Count()))
			d.logger.Info("Session disconnected",
				slog.String("identity", sender),
				slog.Int("occupancy", d.table.Count()),
			)
		}
		d.bc.BroadcastDatagram(kind, payload, sender)

	case protocol.KindInventoryUpdate, protocol.KindQuestUpdate, protocol.KindChatMessage:
		// Opaque to the server; relayed verbatim to everyone else.
		d.bc.BroadcastStream(kind, payload, sender)

	case protocol.KindPlayerUpdate:
		state, err := protocol.DecodePlayerState(payload)
		if err != nil {
			d.metrics.PayloadErrors.Inc()
			d.logger.Debug("Dropping undecodable player update",
				slog.String("sender", sender),
				slog.String("error", err.Error()),
			)
			return
		}
		if sender == "" {
			sender = state.Identity
		}
		if !d.table.UpdateState(sender, *state, time.Now()) {
			// Unknown session or a stale sequence; stale state must not
			// reach other players.
			return
		}
		d.bc.BroadcastDatagram(kind, payload, sender)

	case protocol.KindWorldState:
		state, err := protocol.DecodeWorldState(payload)
		if err != nil {
			d.metrics.PayloadErrors.Inc()
			d.logger.Debug("Dropping undecodable world state",
				slog.String("sender", sender),
				slog.String("error", err.Error()),
			)
			return
		}
		d.world.Set(*state)
		d.bc.BroadcastDatagram(kind, payload, sender)

	case protocol.KindCombatState, protocol.KindDamage, protocol.KindSurvivalStats, protocol.KindAnimationState:
		d.bc.BroadcastDatagram(kind, payload, sender)

	default:
		// Unknown kinds are a forward-compatibility escape hatch, not an
		// error.
		d.logger.Debug("Ignoring unknown packet kind",
			slog.Int("kind", int(kind)),
			slog.String("sender", sender),
		)
	}
}
