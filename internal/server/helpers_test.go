package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/YuhIcey/staterelay/internal/config"
	"github.com/YuhIcey/staterelay/internal/metrics"
	"github.com/YuhIcey/staterelay/internal/protocol"
	"github.com/YuhIcey/staterelay/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMetrics() *metrics.Metrics {
	return metrics.New(prometheus.NewRegistry())
}

func testServerConfig() *config.ServerConfig {
	cfg := config.Default().Server
	cfg.Name = "test-relay"
	cfg.MOTD = "welcome"
	return &cfg
}

// fakeBans is a stand-in ban roster.
type fakeBans map[string]bool

func (f fakeBans) IsBanned(identity string) bool { return f[identity] }

// sentDatagram records one datagram handed to the fake writer.
type sentDatagram struct {
	data []byte
	addr *net.UDPAddr
}

// fakeDatagramWriter captures datagram broadcast sends.
type fakeDatagramWriter struct {
	mu   sync.Mutex
	sent []sentDatagram
	fail bool
}

func (f *fakeDatagramWriter) WriteToPeer(data []byte, addr *net.UDPAddr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("injected send failure")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.sent = append(f.sent, sentDatagram{data: buf, addr: addr})
	return nil
}

func (f *fakeDatagramWriter) sentTo(addr *net.UDPAddr) []sentDatagram {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentDatagram
	for _, s := range f.sent {
		if s.addr.String() == addr.String() {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeDatagramWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// envelope is one decoded stream envelope received by a test client.
type envelope struct {
	kind    protocol.Kind
	payload []byte
}

// pipeSession creates a table-ready session backed by one end of an
// in-memory pipe and drains the client end into a channel.
func pipeSession(t *testing.T, identity string) (*session.Session, <-chan envelope) {
	t.Helper()

	client, srv := net.Pipe()
	sess := session.New(identity, srv, protocol.PlayerState{Identity: identity}, time.Now())

	received := make(chan envelope, 16)
	go func() {
		defer close(received)
		for {
			kind, payload, err := protocol.DecodeStreamEnvelope(client)
			if err != nil {
				return
			}
			received <- envelope{kind: kind, payload: payload}
		}
	}()

	t.Cleanup(func() {
		sess.CloseStream()
		client.Close()
	})

	return sess, received
}

// recvEnvelope waits for one envelope or fails the test.
func recvEnvelope(t *testing.T, ch <-chan envelope) envelope {
	t.Helper()
	select {
	case env, ok := <-ch:
		require.True(t, ok, "stream closed before an envelope arrived")
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for envelope")
		return envelope{}
	}
}

// assertNoEnvelope asserts nothing arrives within a short window.
func assertNoEnvelope(t *testing.T, ch <-chan envelope) {
	t.Helper()
	select {
	case env, ok := <-ch:
		if ok {
			t.Fatalf("unexpected envelope: %s %q", env.kind, env.payload)
		}
	case <-time.After(100 * time.Millisecond):
	}
}

// waitFor polls a condition until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition never held: %s", msg)
}
