package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/redrtc/signaling/internal/config"
	"github.com/redrtc/signaling/internal/httpserver"
	"github.com/redrtc/signaling/internal/metrics"
	"github.com/redrtc/signaling/internal/ratelimit"
	"github.com/redrtc/signaling/internal/signaling"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting redrtc-signaling",
		"listen_addr", cfg.ListenAddr,
		"mode", cfg.Mode,
		"max_clients", cfg.MaxClients,
		"max_rooms", cfg.MaxRooms,
		"client_timeout", cfg.ClientTimeout,
		"queue_capacity", cfg.QueueCapacity,
		"sweep_interval", cfg.SweepInterval,
		"ws_idle_timeout", cfg.WSIdleTimeout,
		"max_message_bytes", cfg.MaxMessageBytes,
		"max_messages_per_second", cfg.MaxMessagesPerSecond,
	)

	logStartupSecurityWarnings(logger, cfg)

	m := metrics.New()

	engine, err := signaling.NewEngine(signaling.EngineConfig{
		MaxClients:    cfg.MaxClients,
		MaxRooms:      cfg.MaxRooms,
		QueueCapacity: cfg.QueueCapacity,
		ClientTimeout: cfg.ClientTimeout,
		SweepInterval: cfg.SweepInterval,
		StatsInterval: cfg.StatsInterval,
	}, logger, m, ratelimit.RealClock{})
	if err != nil {
		logger.Error("failed to configure engine", "err", err)
		os.Exit(2)
	}

	wsSrv := signaling.NewWSServer(signaling.WSOptions{
		AllowedOrigins:       cfg.AllowedOrigins,
		IdleTimeout:          cfg.WSIdleTimeout,
		PingInterval:         cfg.WSPingInterval,
		MaxMessageBytes:      int64(cfg.MaxMessageBytes),
		MaxMessagesPerSecond: cfg.MaxMessagesPerSecond,
	}, engine.Queue(), m, logger, ratelimit.RealClock{})

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	srv.Mux().Handle("GET /ws", wsSrv)
	srv.Mux().HandleFunc("GET /stats", srv.WithOriginPolicy(func(w http.ResponseWriter, r *http.Request) {
		httpserver.WriteJSON(w, http.StatusOK, engine.Stats())
	}))

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	engineCtx, stopEngine := context.WithCancel(context.Background())
	engineDone := make(chan struct{})
	go func() {
		defer close(engineDone)
		engine.Run(engineCtx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		stopEngine()
		<-engineDone
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	stopEngine()
	<-engineDone
	logger.Info("final stats", "stats", engine.Stats())

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
