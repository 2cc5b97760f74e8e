package main

import (
	"log/slog"

	"github.com/redrtc/signaling/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && len(cfg.AllowedOrigins) == 0 {
		logger.Warn("startup security warning: ALLOWED_ORIGINS is empty while --mode=prod (only same-host browser origins will be accepted)",
			"warning_code", "allowed_origins_empty_in_prod",
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: MAX_MESSAGES_PER_SECOND is unset/0 (disables per-connection rate limiting)",
			"warning_code", "rate_limit_disabled",
			"max_messages_per_second", cfg.MaxMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	// A queue smaller than the client cap can drop frames under a burst where
	// every client sends at once.
	if cfg.QueueCapacity < cfg.MaxClients {
		logger.Warn("startup security warning: QUEUE_CAPACITY is below MAX_CLIENTS (event queue can overflow when every client sends at once)",
			"warning_code", "queue_capacity_below_max_clients",
			"queue_capacity", cfg.QueueCapacity,
			"max_clients", cfg.MaxClients,
			"mode", cfg.Mode,
		)
	}

	if cfg.ClientTimeout <= cfg.WSIdleTimeout {
		logger.Warn("startup security warning: CLIENT_TIMEOUT is at or below WS_IDLE_TIMEOUT (the transport will evict connections before the sweep does)",
			"warning_code", "client_timeout_below_ws_idle",
			"client_timeout", cfg.ClientTimeout,
			"ws_idle_timeout", cfg.WSIdleTimeout,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
