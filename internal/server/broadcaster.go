package server

import (
	"log/slog"
	"net"
	"sync"

	"github.com/YuhIcey/staterelay/internal/metrics"
	"github.com/YuhIcey/staterelay/internal/protocol"
	"github.com/YuhIcey/staterelay/internal/session"
)

// DatagramWriter sends one datagram to a peer endpoint. The datagram
// listener implements it once its socket is bound.
type DatagramWriter interface {
	WriteToPeer(data []byte, addr *net.UDPAddr) error
}

// Broadcaster fans one envelope out to every live session, optionally
// excluding the sender. It snapshots the session table before touching the
// network, and each recipient gets an independent send whose failure is
// logged and counted but never propagated: one dead client must not stall
// or fail delivery to the rest.
type Broadcaster struct {
	table   *session.Table
	writer  DatagramWriter
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBroadcaster creates a broadcaster over the session table. The datagram
// writer must be set before any datagram broadcast runs.
func NewBroadcaster(table *session.Table, writer DatagramWriter, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		table:   table,
		writer:  writer,
		logger:  logger,
		metrics: m,
	}
}

// BroadcastStream sends one envelope to every session with a live stream
// handle, skipping excludeIdentity when non-empty. It returns once every
// send has been attempted.
func (b *Broadcaster) BroadcastStream(kind protocol.Kind, payload []byte, excludeIdentity string) {
	var wg sync.WaitGroup

	for _, sess := range b.table.Snapshot() {
		if excludeIdentity != "" && sess.Identity() == excludeIdentity {
			continue
		}
		if !sess.Connected() {
			continue
		}

		wg.Add(1)
		go func(sess *session.Session) {
			defer wg.Done()

			err := sess.SendStream(kind, payload)
			b.metrics.RecordBroadcastSend(metrics.TransportStream, err != nil)
			if err != nil {
				b.logger.Warn("Stream broadcast send failed",
					slog.String("identity", sess.Identity()),
					slog.String("kind", kind.String()),
					slog.String("error", err.Error()),
				)
			}
		}(sess)
	}

	wg.Wait()
}

// BroadcastDatagram sends one envelope to every session whose datagram
// endpoint is known, skipping excludeIdentity when non-empty. Sessions that
// have not sent a datagram yet are silently skipped.
func (b *Broadcaster) BroadcastDatagram(kind protocol.Kind, payload []byte, excludeIdentity string) {
	data := protocol.EncodeEnvelope(kind, payload)

	var wg sync.WaitGroup

	for _, sess := range b.table.Snapshot() {
		if excludeIdentity != "" && sess.Identity() == excludeIdentity {
			continue
		}

		addr := sess.DatagramAddr()
		if addr == nil {
			continue
		}

		wg.Add(1)
		go func(sess *session.Session, addr *net.UDPAddr) {
			defer wg.Done()

			err := b.writer.WriteToPeer(data, addr)
			b.metrics.RecordBroadcastSend(metrics.TransportDatagram, err != nil)
			if err != nil {
				b.logger.Warn("Datagram broadcast send failed",
					slog.String("identity", sess.Identity()),
					slog.String("endpoint", addr.String()),
					slog.String("kind", kind.String()),
					slog.String("error", err.Error()),
				)
			}
		}(sess, addr)
	}

	wg.Wait()
}
