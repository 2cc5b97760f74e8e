// Package config loads server configuration from environment variables and
// command-line flags. Flags take precedence over the environment.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redrtc/signaling/internal/origin"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

const (
	envVarMode           = "REDRTC_MODE"
	envVarLogFormat      = "REDRTC_LOG_FORMAT"
	envVarLogLevel       = "REDRTC_LOG_LEVEL"
	envVarListenAddr     = "REDRTC_LISTEN_ADDR"
	envVarAllowedOrigins = "REDRTC_ALLOWED_ORIGINS"

	envVarMaxClients    = "REDRTC_MAX_CLIENTS"
	envVarMaxRooms      = "REDRTC_MAX_ROOMS"
	envVarClientTimeout = "REDRTC_CLIENT_TIMEOUT"
	envVarQueueCapacity = "REDRTC_QUEUE_CAPACITY"
	envVarSweepInterval = "REDRTC_SWEEP_INTERVAL"
	envVarStatsInterval = "REDRTC_STATS_INTERVAL"

	envVarWSIdleTimeout        = "REDRTC_WS_IDLE_TIMEOUT"
	envVarWSPingInterval       = "REDRTC_WS_PING_INTERVAL"
	envVarMaxMessageBytes      = "REDRTC_MAX_MESSAGE_BYTES"
	envVarMaxMessagesPerSecond = "REDRTC_MAX_MESSAGES_PER_SECOND"

	envVarShutdownTimeout = "REDRTC_SHUTDOWN_TIMEOUT"
)

const (
	DefaultMode       = ModeDev
	DefaultListenAddr = ":8080"

	DefaultMaxClients    = 1024
	DefaultMaxRooms      = 256
	DefaultClientTimeout = 300 * time.Second
	DefaultQueueCapacity = 1024
	DefaultSweepInterval = 10 * time.Second
	DefaultStatsInterval = 30 * time.Second

	DefaultWSIdleTimeout        = 60 * time.Second
	DefaultWSPingInterval       = 20 * time.Second
	DefaultMaxMessageBytes      = 64 * 1024
	DefaultMaxMessagesPerSecond = 50

	DefaultShutdownTimeout = 15 * time.Second
)

// MinClientTimeout is a hard floor: shorter timeouts race the keepalive
// machinery and evict healthy clients.
const MinClientTimeout = 30 * time.Second

const (
	maxClientsLimit = 65536
	maxRoomsLimit   = 10000
)

type Config struct {
	Mode      Mode
	LogFormat LogFormat
	LogLevel  slog.Level

	ListenAddr     string
	AllowedOrigins []string

	MaxClients    int
	MaxRooms      int
	ClientTimeout time.Duration
	QueueCapacity int
	SweepInterval time.Duration

	// StatsInterval <= 0 disables the periodic stats log line.
	StatsInterval time.Duration

	WSIdleTimeout        time.Duration
	WSPingInterval       time.Duration
	MaxMessageBytes      int
	MaxMessagesPerSecond int

	ShutdownTimeout time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	logFormatDefault := envOrDefault(lookup, envVarLogFormat, defaultLogFormatForMode(modeDefault))
	logLevelDefault := envOrDefault(lookup, envVarLogLevel, defaultLogLevelForMode(modeDefault))

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")

	maxClients, err := envIntOrDefault(lookup, envVarMaxClients, DefaultMaxClients)
	if err != nil {
		return Config{}, err
	}
	maxRooms, err := envIntOrDefault(lookup, envVarMaxRooms, DefaultMaxRooms)
	if err != nil {
		return Config{}, err
	}
	queueCapacity, err := envIntOrDefault(lookup, envVarQueueCapacity, DefaultQueueCapacity)
	if err != nil {
		return Config{}, err
	}
	maxMessageBytes, err := envIntOrDefault(lookup, envVarMaxMessageBytes, DefaultMaxMessageBytes)
	if err != nil {
		return Config{}, err
	}
	maxMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxMessagesPerSecond, DefaultMaxMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}

	clientTimeout, err := envDurationOrDefault(lookup, envVarClientTimeout, DefaultClientTimeout)
	if err != nil {
		return Config{}, err
	}
	sweepInterval, err := envDurationOrDefault(lookup, envVarSweepInterval, DefaultSweepInterval)
	if err != nil {
		return Config{}, err
	}
	statsInterval, err := envDurationOrDefault(lookup, envVarStatsInterval, DefaultStatsInterval)
	if err != nil {
		return Config{}, err
	}
	wsIdleTimeout, err := envDurationOrDefault(lookup, envVarWSIdleTimeout, DefaultWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	wsPingInterval, err := envDurationOrDefault(lookup, envVarWSPingInterval, DefaultWSPingInterval)
	if err != nil {
		return Config{}, err
	}
	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}

	modeStr := modeDefault
	logFormatStr := logFormatDefault
	logLevelStr := logLevelDefault

	fs := flag.NewFlagSet("redrtc-signaling", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins (env "+envVarAllowedOrigins+")")
	fs.IntVar(&maxClients, "max-clients", maxClients, "Maximum concurrent clients (env "+envVarMaxClients+")")
	fs.IntVar(&maxRooms, "max-rooms", maxRooms, "Maximum concurrent rooms (env "+envVarMaxRooms+")")
	fs.DurationVar(&clientTimeout, "client-timeout", clientTimeout, "Evict clients silent for longer than this (env "+envVarClientTimeout+")")
	fs.IntVar(&queueCapacity, "queue-capacity", queueCapacity, "Bounded event queue capacity (env "+envVarQueueCapacity+")")
	fs.DurationVar(&sweepInterval, "sweep-interval", sweepInterval, "Timeout/reclaim sweep interval (env "+envVarSweepInterval+")")
	fs.DurationVar(&statsInterval, "stats-interval", statsInterval, "Periodic stats log interval (0 disables; env "+envVarStatsInterval+")")
	fs.DurationVar(&wsIdleTimeout, "ws-idle-timeout", wsIdleTimeout, "Close websocket connections idle for longer than this (env "+envVarWSIdleTimeout+")")
	fs.DurationVar(&wsPingInterval, "ws-ping-interval", wsPingInterval, "Websocket keepalive ping interval (env "+envVarWSPingInterval+")")
	fs.IntVar(&maxMessageBytes, "max-message-bytes", maxMessageBytes, "Maximum inbound websocket message size in bytes (env "+envVarMaxMessageBytes+")")
	fs.IntVar(&maxMessagesPerSecond, "max-messages-per-second", maxMessagesPerSecond, "Per-connection message rate limit (0 = unlimited; env "+envVarMaxMessagesPerSecond+")")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}
	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	logLevel, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("%s/--allowed-origins: %w", envVarAllowedOrigins, err)
	}

	if strings.TrimSpace(listenAddr) == "" {
		return Config{}, fmt.Errorf("%s/--listen-addr must not be empty", envVarListenAddr)
	}
	if maxClients <= 0 || maxClients > maxClientsLimit {
		return Config{}, fmt.Errorf("%s/--max-clients must be in 1..%d, got %d", envVarMaxClients, maxClientsLimit, maxClients)
	}
	if maxRooms <= 0 || maxRooms > maxRoomsLimit {
		return Config{}, fmt.Errorf("%s/--max-rooms must be in 1..%d, got %d", envVarMaxRooms, maxRoomsLimit, maxRooms)
	}
	if clientTimeout < MinClientTimeout {
		return Config{}, fmt.Errorf("%s/--client-timeout must be >= %s, got %s", envVarClientTimeout, MinClientTimeout, clientTimeout)
	}
	if queueCapacity <= 0 {
		return Config{}, fmt.Errorf("%s/--queue-capacity must be > 0, got %d", envVarQueueCapacity, queueCapacity)
	}
	if sweepInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--sweep-interval must be > 0, got %s", envVarSweepInterval, sweepInterval)
	}
	if statsInterval < 0 {
		return Config{}, fmt.Errorf("%s/--stats-interval must be >= 0, got %s", envVarStatsInterval, statsInterval)
	}
	if wsIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-idle-timeout must be > 0, got %s", envVarWSIdleTimeout, wsIdleTimeout)
	}
	if wsPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be > 0, got %s", envVarWSPingInterval, wsPingInterval)
	}
	if wsPingInterval >= wsIdleTimeout {
		return Config{}, fmt.Errorf("%s/--ws-ping-interval must be shorter than %s/--ws-idle-timeout (%s >= %s)",
			envVarWSPingInterval, envVarWSIdleTimeout, wsPingInterval, wsIdleTimeout)
	}
	if maxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-message-bytes must be > 0, got %d", envVarMaxMessageBytes, maxMessageBytes)
	}
	if maxMessagesPerSecond < 0 {
		return Config{}, fmt.Errorf("%s/--max-messages-per-second must be >= 0, got %d", envVarMaxMessagesPerSecond, maxMessagesPerSecond)
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("%s/--shutdown-timeout must be > 0, got %s", envVarShutdownTimeout, shutdownTimeout)
	}

	return Config{
		Mode:                 mode,
		LogFormat:            logFormat,
		LogLevel:             logLevel,
		ListenAddr:           listenAddr,
		AllowedOrigins:       allowedOrigins,
		MaxClients:           maxClients,
		MaxRooms:             maxRooms,
		ClientTimeout:        clientTimeout,
		QueueCapacity:        queueCapacity,
		SweepInterval:        sweepInterval,
		StatsInterval:        statsInterval,
		WSIdleTimeout:        wsIdleTimeout,
		WSPingInterval:       wsPingInterval,
		MaxMessageBytes:      maxMessageBytes,
		MaxMessagesPerSecond: maxMessagesPerSecond,
		ShutdownTimeout:      shutdownTimeout,
	}, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalized, _, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalized)
	}
	return out, nil
}
