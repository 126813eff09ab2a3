package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the state-relay server.
// Transport-split metrics use a "transport" label with values "stream" and
// "datagram".
type Metrics struct {
	// Packet metrics
	PacketsReceived *prometheus.CounterVec
	FramingErrors   *prometheus.CounterVec
	PayloadErrors   prometheus.Counter

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsRemoved prometheus.Counter
	SessionsReaped  prometheus.Counter
	ConnectRejects  *prometheus.CounterVec

	// Broadcast metrics
	BroadcastSends    *prometheus.CounterVec
	BroadcastFailures *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// Transport label values.
const (
	TransportStream   = "stream"
	TransportDatagram = "datagram"
)

// New creates all relay metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a private registry
// so packages can build metrics repeatedly.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_packets_received_total",
			Help: "Total number of envelopes received, by transport",
		}, []string{"transport"}),
		FramingErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_framing_errors_total",
			Help: "Total number of envelope framing errors, by transport",
		}, []string{"transport"}),
		PayloadErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_payload_errors_total",
			Help: "Total number of payloads that failed structured decoding",
		}),

		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of connected sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_removed_total",
			Help: "Total number of sessions removed by any path",
		}),
		SessionsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_reaped_total",
			Help: "Total number of sessions evicted for idleness",
		}),
		ConnectRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_connect_rejects_total",
			Help: "Total number of rejected connection attempts, by reason",
		}, []string{"reason"}),

		BroadcastSends: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_broadcast_sends_total",
			Help: "Total number of per-recipient broadcast sends, by transport",
		}, []string{"transport"}),
		BroadcastFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_broadcast_failures_total",
			Help: "Total number of failed per-recipient broadcast sends, by transport",
		}, []string{"transport"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total number of HTTP API requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "Duration of HTTP API requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordPacketReceived counts one received envelope on a transport.
func (m *Metrics) RecordPacketReceived(transport string) {
	m.PacketsReceived.WithLabelValues(transport).Inc()
}

// RecordFramingError counts one framing failure on a transport.
func (m *Metrics) RecordFramingError(transport string) {
	m.FramingErrors.WithLabelValues(transport).Inc()
}

// RecordConnectReject counts one rejected connection attempt.
func (m *Metrics) RecordConnectReject(reason string) {
	m.ConnectRejects.WithLabelValues(reason).Inc()
}

// RecordBroadcastSend counts one per-recipient send attempt and, when
// failed is set, the matching failure.
func (m *Metrics) RecordBroadcastSend(transport string, failed bool) {
	m.BroadcastSends.WithLabelValues(transport).Inc()
	if failed {
		m.BroadcastFailures.WithLabelValues(transport).Inc()
	}
}

// RecordHTTPRequest records one HTTP API request.
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
