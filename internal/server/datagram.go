package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/YuhIcey/staterelay/internal/metrics"
	"github.com/YuhIcey/staterelay/internal/protocol"
)

// numDatagramWorkers decodes and dispatches received datagrams
// concurrently. Real-time packets carry no cross-sender ordering
// guarantee, so parallel handling is safe.
const numDatagramWorkers = 4

// DatagramServer receives the real-time packet family over UDP. One
// receive loop copies datagrams into a bounded channel; worker goroutines
// decode the envelope and route it to the dispatcher with the sender's
// origin address. Malformed datagrams are counted and dropped, never fatal.
// The bound socket is also the send path for datagram broadcasts.
type DatagramServer struct {
	addr       string
	bufferSize int
	logger     *slog.Logger
	metrics    *metrics.Metrics

	conn       *net.UDPConn
	packetChan chan *inboundDatagram

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	recvWg   sync.WaitGroup
	stopOnce sync.Once

	// Counters for the stats surface.
	mu               sync.RWMutex
	packetsReceived  uint64
	packetsProcessed uint64
	decodeErrors     uint64
	droppedQueueFull uint64
}

// inboundDatagram is one received datagram with its origin.
type inboundDatagram struct {
	data       []byte
	remoteAddr *net.UDPAddr
}

// DatagramStatistics is a snapshot of the listener's counters.
type DatagramStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	DecodeErrors     uint64 `json:"decode_errors"`
	DroppedQueueFull uint64 `json:"dropped_queue_full"`
	QueueSize        int    `json:"queue_size"`
	QueueCapacity    int    `json:"queue_capacity"`
}

// NewDatagramServer creates a datagram listener for addr.
func NewDatagramServer(addr string, bufferSize int, logger *slog.Logger, m *metrics.Metrics) *DatagramServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &DatagramServer{
		addr:       addr,
		bufferSize: bufferSize,
		logger:     logger,
		metrics:    m,
		packetChan: make(chan *inboundDatagram, 1000),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Bind opens the UDP socket. A bind failure is fatal to startup; Bind is
// separate from Run so the broadcaster can hold the socket before traffic
// flows.
func (s *DatagramServer) Bind() error {
	addr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", s.addr, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP %s: %w", s.addr, err)
	}
	s.conn = conn

	if err := s.conn.SetReadBuffer(s.bufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.bufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("Datagram listener started",
		slog.String("address", conn.LocalAddr().String()),
		slog.Int("buffer_size", s.bufferSize),
	)

	return nil
}

// Run starts the receive loop and worker pool. Bind must have succeeded.
func (s *DatagramServer) Run(dispatcher *Dispatcher) {
	for i := 0; i < numDatagramWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i, dispatcher)
	}

	s.recvWg.Add(1)
	go s.receiveLoop()
}

// Stop stops the receive loop and drains the workers. The receive loop must
// be fully out before the packet channel closes; it may be one enqueue away
// from the channel when the socket dies.
func (s *DatagramServer) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()

		if s.conn != nil {
			if err := s.conn.Close(); err != nil {
				s.logger.Warn("Error closing UDP socket", slog.String("error", err.Error()))
			}
		}

		s.recvWg.Wait()
		close(s.packetChan)
		s.wg.Wait()

		stats := s.Statistics()
		s.logger.Info("Datagram listener stopped",
			slog.Uint64("packets_received", stats.PacketsReceived),
			slog.Uint64("packets_processed", stats.PacketsProcessed),
			slog.Uint64("decode_errors", stats.DecodeErrors),
		)
	})
}

// Addr returns the bound socket address.
func (s *DatagramServer) Addr() string {
	if s.conn != nil {
		return s.conn.LocalAddr().String()
	}
	return s.addr
}

// WriteToPeer sends one already-encoded envelope to a peer endpoint. It
// implements DatagramWriter for the broadcaster.
func (s *DatagramServer) WriteToPeer(data []byte, addr *net.UDPAddr) error {
	if s.conn == nil {
		return fmt.Errorf("datagram socket not bound")
	}
	if _, err := s.conn.WriteToUDP(data, addr); err != nil {
		return fmt.Errorf("sending %d bytes to %s: %w", len(data), addr, err)
	}
	return nil
}

func (s *DatagramServer) receiveLoop() {
	defer s.recvWg.Done()

	buffer := make([]byte, s.bufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// A short read deadline keeps the loop responsive to shutdown.
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error("Failed to read datagram", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		s.metrics.RecordPacketReceived(metrics.TransportDatagram)

		// The read buffer is reused; the datagram gets its own copy.
		data := make([]byte, n)
		copy(data, buffer[:n])

		select {
		case s.packetChan <- &inboundDatagram{data: data, remoteAddr: remoteAddr}:
		default:
			s.mu.Lock()
			s.droppedQueueFull++
			s.mu.Unlock()
			s.logger.Warn("Datagram queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

func (s *DatagramServer) worker(id int, dispatcher *Dispatcher) {
	defer s.wg.Done()

	s.logger.Debug("Datagram worker started", slog.Int("worker_id", id))

	for pkt := range s.packetChan {
		kind, payload, err := protocol.DecodeDatagramEnvelope(pkt.data)
		if err != nil {
			s.mu.Lock()
			s.decodeErrors++
			s.mu.Unlock()
			s.metrics.RecordFramingError(metrics.TransportDatagram)

			s.logger.Debug("Discarding malformed datagram",
				slog.String("remote_addr", pkt.remoteAddr.String()),
				slog.Int("packet_size", len(pkt.data)),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.mu.Lock()
		s.packetsProcessed++
		s.mu.Unlock()

		dispatcher.HandleDatagram(kind, payload, pkt.remoteAddr)
	}

	s.logger.Debug("Datagram worker stopped", slog.Int("worker_id", id))
}

// Statistics returns a snapshot of the listener counters.
func (s *DatagramServer) Statistics() DatagramStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return DatagramStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		DecodeErrors:     s.decodeErrors,
		DroppedQueueFull: s.droppedQueueFull,
		QueueSize:        len(s.packetChan),
		QueueCapacity:    cap(s.packetChan),
	}
}
