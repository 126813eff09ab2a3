package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/YuhIcey/staterelay/internal/config"
	"github.com/YuhIcey/staterelay/internal/metrics"
	"github.com/YuhIcey/staterelay/internal/session"
)

// APIServer exposes monitoring endpoints over HTTP: session listing, relay
// statistics, redacted configuration, health, and Prometheus metrics. It
// has no control surface; operator actions go through the console.
type APIServer struct {
	server   *http.Server
	logger   *slog.Logger
	cfg      *config.Config
	table    *session.Table
	world    *session.World
	datagram *DatagramServer
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewAPIServer creates the admin HTTP server.
func NewAPIServer(cfg *config.Config, logger *slog.Logger, table *session.Table,
	world *session.World, datagram *DatagramServer, m *metrics.Metrics) *APIServer {

	a := &APIServer{
		logger:    logger,
		cfg:       cfg,
		table:     table,
		world:     world,
		datagram:  datagram,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.withMetrics("/health", a.handleHealth))
	mux.HandleFunc("/sessions", a.withMetrics("/sessions", a.handleSessions))
	mux.HandleFunc("/stats", a.withMetrics("/stats", a.handleStats))
	mux.HandleFunc("/config", a.withMetrics("/config", a.handleConfig))
	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return a
}

// Start begins serving in the background.
func (a *APIServer) Start() {
	a.logger.Info("Admin HTTP server started", slog.String("address", a.server.Addr))

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Admin HTTP server error", slog.String("error", err.Error()))
		}
	}()
}

// Stop shuts the server down gracefully.
func (a *APIServer) Stop(ctx context.Context) error {
	a.logger.Info("Stopping admin HTTP server")
	return a.server.Shutdown(ctx)
}

// withMetrics wraps a handler with request metrics collection.
func (a *APIServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		a.metrics.RecordHTTPRequest(r.Method, endpoint,
			fmt.Sprintf("%d", ww.statusCode), time.Since(start).Seconds())
	}
}

// statusWriter captures the response status code for metrics.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (a *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(a.startTime).String(),
		"version": Version,
	})
}

func (a *APIServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := a.table.Snapshot()
	infos := make([]session.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}

	a.writeJSON(w, map[string]any{
		"count":       len(infos),
		"max_players": a.cfg.Server.MaxPlayers,
		"sessions":    infos,
	})
}

func (a *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, map[string]any{
		"server_name":     a.cfg.Server.Name,
		"uptime_seconds":  time.Since(a.startTime).Seconds(),
		"active_sessions": a.table.Count(),
		"max_players":     a.cfg.Server.MaxPlayers,
		"world_state":     a.world.Get(),
		"datagram":        a.datagram.Statistics(),
	})
}

func (a *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	redacted := *a.cfg
	if redacted.Server.Password != "" {
		redacted.Server.Password = "<redacted>"
	}
	a.writeJSON(w, &redacted)
}

func (a *APIServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("Failed to encode HTTP response", slog.String("error", err.Error()))
	}
}
