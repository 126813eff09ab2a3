package server

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuhIcey/staterelay/internal/protocol"
	"github.com/YuhIcey/staterelay/internal/session"
)

type datagramFixture struct {
	srv   *DatagramServer
	table *session.Table
}

func startDatagramServer(t *testing.T) *datagramFixture {
	t.Helper()

	logger := testLogger()
	table := session.NewTable(logger)
	world := session.NewWorld()
	m := testMetrics()

	srv := NewDatagramServer("127.0.0.1:0", 64*1024, logger, m)
	require.NoError(t, srv.Bind())

	bc := NewBroadcaster(table, srv, logger, m)
	disp := NewDispatcher(table, world, bc, logger, m)
	srv.Run(disp)
	t.Cleanup(srv.Stop)

	return &datagramFixture{srv: srv, table: table}
}

// dialDatagram opens a client UDP socket connected to the listener.
func dialDatagram(t *testing.T, f *datagramFixture) *net.UDPConn {
	t.Helper()

	addr, err := net.ResolveUDPAddr("udp", f.srv.Addr())
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendPlayerUpdate(t *testing.T, conn *net.UDPConn, state *protocol.PlayerState) {
	t.Helper()
	payload, err := protocol.EncodePlayerState(state)
	require.NoError(t, err)
	_, err = conn.Write(protocol.EncodeEnvelope(protocol.KindPlayerUpdate, payload))
	require.NoError(t, err)
}

func TestDatagramRelayBetweenPeers(t *testing.T) {
	f := startDatagramServer(t)

	// Sessions exist from the reliable handshake before datagrams flow.
	require.True(t, f.table.TryAdd(session.New("A", nil, protocol.PlayerState{Identity: "A"}, time.Now())))
	require.True(t, f.table.TryAdd(session.New("B", nil, protocol.PlayerState{Identity: "B"}, time.Now())))

	connA := dialDatagram(t, f)
	connB := dialDatagram(t, f)

	// B's first datagram teaches the server its endpoint.
	sendPlayerUpdate(t, connB, &protocol.PlayerState{Identity: "B", Sequence: 1})
	sessB, _ := f.table.Get("B")
	waitFor(t, func() bool { return sessB.DatagramAddr() != nil }, "B endpoint learned")

	sendPlayerUpdate(t, connA, &protocol.PlayerState{Identity: "A", Health: 72, Sequence: 1})

	require.NoError(t, connB.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64*1024)
	n, err := connB.Read(buf)
	require.NoError(t, err)

	kind, payload, err := protocol.DecodeDatagramEnvelope(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, protocol.KindPlayerUpdate, kind)

	state, err := protocol.DecodePlayerState(payload)
	require.NoError(t, err)
	assert.Equal(t, "A", state.Identity)
	assert.Equal(t, float64(72), state.Health)

	sessA, _ := f.table.Get("A")
	waitFor(t, func() bool { return sessA.State().Sequence == 1 }, "A state applied")
}

func TestMalformedDatagramDoesNotStallTheLoop(t *testing.T) {
	f := startDatagramServer(t)

	require.True(t, f.table.TryAdd(session.New("A", nil, protocol.PlayerState{Identity: "A"}, time.Now())))

	conn := dialDatagram(t, f)

	// Too short to carry an envelope header.
	_, err := conn.Write([]byte{0x10, 0x01})
	require.NoError(t, err)

	// A valid packet right behind it is still processed.
	sendPlayerUpdate(t, conn, &protocol.PlayerState{Identity: "A", Health: 50, Sequence: 3})

	sessA, _ := f.table.Get("A")
	waitFor(t, func() bool { return sessA.State().Sequence == 3 }, "valid packet processed after malformed one")

	stats := f.srv.Statistics()
	assert.GreaterOrEqual(t, stats.DecodeErrors, uint64(1))
}

func TestStopWithInFlightTrafficIsClean(t *testing.T) {
	f := startDatagramServer(t)

	require.True(t, f.table.TryAdd(session.New("A", nil, protocol.PlayerState{Identity: "A"}, time.Now())))

	conn := dialDatagram(t, f)
	for i := 1; i <= 50; i++ {
		sendPlayerUpdate(t, conn, &protocol.PlayerState{Identity: "A", Sequence: uint32(i)})
	}

	// Stop while datagrams are still in flight; the receive loop may be
	// mid-enqueue when the socket closes. This must never panic, and a
	// second Stop from cleanup is a no-op.
	f.srv.Stop()

	stats := f.srv.Statistics()
	assert.GreaterOrEqual(t, stats.PacketsReceived, stats.PacketsProcessed)
}

func TestDatagramFromUnknownIdentityIgnored(t *testing.T) {
	f := startDatagramServer(t)

	require.True(t, f.table.TryAdd(session.New("A", nil, protocol.PlayerState{Identity: "A"}, time.Now())))
	sessA, _ := f.table.Get("A")
	addrA := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
	sessA.SetDatagramAddr(addrA)

	conn := dialDatagram(t, f)
	sendPlayerUpdate(t, conn, &protocol.PlayerState{Identity: "Ghost", Sequence: 1})

	waitFor(t, func() bool { return f.srv.Statistics().PacketsProcessed >= 1 }, "packet processed")

	// No session for Ghost: nothing changes, nothing is relayed.
	assert.Equal(t, 1, f.table.Count())
	assert.Equal(t, addrA.String(), sessA.DatagramAddr().String())
}
