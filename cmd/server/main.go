package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/YuhIcey/staterelay/internal/admin"
	"github.com/YuhIcey/staterelay/internal/config"
	"github.com/YuhIcey/staterelay/internal/metrics"
	"github.com/YuhIcey/staterelay/internal/protocol"
	"github.com/YuhIcey/staterelay/internal/roster"
	"github.com/YuhIcey/staterelay/internal/server"
	"github.com/YuhIcey/staterelay/internal/session"
)

const defaultConfigPath = "configs/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Server starting",
		slog.String("name", cfg.Server.Name),
		slog.String("version", server.Version),
		slog.String("config_path", *configPath),
	)

	printBanner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	appMetrics := metrics.New(prometheus.DefaultRegisterer)

	bans, err := roster.Load(cfg.Server.RosterPath, logger)
	if err != nil {
		logger.Error("Failed to load roster", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Roster loaded",
		slog.String("path", cfg.Server.RosterPath),
		slog.Int("banned", len(bans.Banned())),
	)

	table := session.NewTable(logger)
	world := session.NewWorld()

	streamAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, server.StreamPort)
	datagramAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, server.DatagramPort)

	// A failed bind on either transport is fatal; the server must not run
	// half-listening.
	datagramSrv := server.NewDatagramServer(datagramAddr, cfg.Server.BufferSize, logger, appMetrics)
	if err := datagramSrv.Bind(); err != nil {
		logger.Error("Failed to bind datagram listener", slog.String("error", err.Error()))
		os.Exit(1)
	}

	bc := server.NewBroadcaster(table, datagramSrv, logger, appMetrics)
	dispatcher := server.NewDispatcher(table, world, bc, logger, appMetrics)
	datagramSrv.Run(dispatcher)

	streamSrv := server.NewStreamServer(streamAddr, &cfg.Server, logger, table, bans, dispatcher, appMetrics)
	if err := streamSrv.Start(); err != nil {
		logger.Error("Failed to start stream listener", slog.String("error", err.Error()))
		datagramSrv.Stop()
		os.Exit(1)
	}

	reaper := session.NewReaper(table, logger, session.DefaultReapInterval, session.DefaultIdleTimeout,
		func(sess *session.Session) {
			appMetrics.SessionsReaped.Inc()
			appMetrics.SessionsRemoved.Inc()
			appMetrics.ActiveSessions.Set(float64(table.Count()))

			state := sess.State()
			if payload, err := protocol.EncodePlayerState(&state); err == nil {
				bc.BroadcastDatagram(protocol.KindDisconnect, payload, sess.Identity())
			}
			sess.CloseStream()
		})
	go reaper.Run(ctx)

	var apiSrv *server.APIServer
	if cfg.HTTP.Enabled {
		apiSrv = server.NewAPIServer(cfg, logger, table, world, datagramSrv, appMetrics)
		apiSrv.Start()
	}

	console := admin.NewConsole(os.Stdin, os.Stdout, table, bans, bc, logger, appMetrics,
		cfg.Server.Name, cfg.Server.MaxPlayers)
	go console.Run(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server ready",
		slog.String("stream_address", streamSrv.Addr()),
		slog.String("datagram_address", datagramSrv.Addr()),
		slog.Int("max_players", cfg.Server.MaxPlayers),
		slog.Bool("password_required", cfg.Server.PasswordRequired),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	cancel()

	if apiSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := apiSrv.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping admin HTTP server", slog.String("error", err.Error()))
		}
		shutdownCancel()
	}

	streamSrv.Stop()
	datagramSrv.Stop()

	stats := datagramSrv.Statistics()
	logger.Info("Final server statistics",
		slog.Uint64("datagrams_received", stats.PacketsReceived),
		slog.Uint64("datagrams_processed", stats.PacketsProcessed),
		slog.Uint64("datagram_decode_errors", stats.DecodeErrors),
		slog.Int("sessions_at_exit", table.Count()),
	)

	logger.Info("Server stopped")
}

// printBanner renders the operator-facing startup banner.
func printBanner(cfg *config.Config) {
	fmt.Printf("=============================================\n")
	fmt.Printf("  %s (v%s)\n", cfg.Server.Name, server.Version)
	fmt.Printf("  %s\n", cfg.Server.MOTD)
	fmt.Printf("  stream %s:%d / datagram %s:%d, %d slots\n",
		cfg.Server.BindAddress, server.StreamPort,
		cfg.Server.BindAddress, server.DatagramPort,
		cfg.Server.MaxPlayers)
	if cfg.Server.PasswordRequired {
		fmt.Printf("  password protection enabled\n")
	}
	fmt.Printf("  type 'help' for console commands\n")
	fmt.Printf("=============================================\n")
}

// initLogger creates the structured logger from configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
