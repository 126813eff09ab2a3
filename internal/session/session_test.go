package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuhIcey/staterelay/internal/protocol"
)

func TestSendStreamWritesEnvelope(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	sess := New("Aerin", server, protocol.PlayerState{Identity: "Aerin"}, time.Now())
	defer sess.CloseStream()

	done := make(chan error, 1)
	go func() {
		done <- sess.SendStream(protocol.KindChatMessage, []byte("hi"))
	}()

	kind, payload, err := protocol.DecodeStreamEnvelope(client)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindChatMessage, kind)
	assert.Equal(t, []byte("hi"), payload)
	require.NoError(t, <-done)
}

func TestSendStreamWithoutConnection(t *testing.T) {
	sess := New("Aerin", nil, protocol.PlayerState{}, time.Now())
	assert.Error(t, sess.SendStream(protocol.KindChatMessage, []byte("hi")))
}

func TestCloseStreamMarksDisconnected(t *testing.T) {
	_, server := net.Pipe()
	sess := New("Aerin", server, protocol.PlayerState{}, time.Now())

	assert.True(t, sess.Connected())
	sess.CloseStream()
	assert.False(t, sess.Connected())
}

func TestInfoReportsEndpointState(t *testing.T) {
	sess := New("Aerin", nil, protocol.PlayerState{Identity: "Aerin", Health: 75}, time.Now())

	info := sess.Info()
	assert.Equal(t, "Aerin", info.Identity)
	assert.False(t, info.HasDatagramAddr)
	assert.Equal(t, float64(75), info.Health)

	sess.SetDatagramAddr(&net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 26001})
	info = sess.Info()
	assert.True(t, info.HasDatagramAddr)
	assert.Equal(t, "10.0.0.1:26001", info.DatagramAddr)
}

func TestWorldLastWriterWins(t *testing.T) {
	world := NewWorld()

	world.Set(protocol.WorldState{GameTime: 10, WeatherID: 1, CellID: "Seyda Neen", Sequence: 3})
	world.Set(protocol.WorldState{GameTime: 8, WeatherID: 2, CellID: "Balmora", Sequence: 1})

	// No conflict detection: the later write wins even with a lower sequence.
	state := world.Get()
	assert.Equal(t, "Balmora", state.CellID)
	assert.Equal(t, uint32(1), state.Sequence)
}
