package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	WSURL         string
	SettlementURL string

	PlayerID    string
	DisplayName string
	AuthToken   string

	MaxReconnect   int
	Tick           time.Duration
	ResignTimeout  time.Duration
	DesyncDelay    time.Duration
	DriftThreshold time.Duration

	RedisURL    string
	DatabaseURL string

	MessagesDir string
	SnapshotDir string
	MetricsAddr string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		MaxReconnect:   8,
		Tick:           200 * time.Millisecond,
		ResignTimeout:  7 * time.Second,
		DesyncDelay:    500 * time.Millisecond,
		DriftThreshold: 500 * time.Millisecond,
	}

	cfg.WSURL = strings.TrimSpace(os.Getenv("ARENA_WS_URL"))
	cfg.SettlementURL = strings.TrimSpace(os.Getenv("ARENA_SETTLEMENT_URL"))
	cfg.PlayerID = strings.TrimSpace(os.Getenv("ARENA_PLAYER_ID"))
	cfg.DisplayName = strings.TrimSpace(os.Getenv("ARENA_DISPLAY_NAME"))
	cfg.AuthToken = strings.TrimSpace(os.Getenv("ARENA_AUTH_TOKEN"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("ARENA_MESSAGES_DIR"))
	cfg.SnapshotDir = strings.TrimSpace(os.Getenv("ARENA_SNAPSHOT_DIR"))
	cfg.MetricsAddr = strings.TrimSpace(os.Getenv("METRICS_ADDR"))

	if v := strings.TrimSpace(os.Getenv("ARENA_MAX_RECONNECT")); v != "" {
		// 0 disables reconnect entirely
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.MaxReconnect = n
		}
	}
	cfg.Tick = millisEnv("ARENA_TICK_MS", cfg.Tick)
	cfg.ResignTimeout = millisEnv("ARENA_RESIGN_TIMEOUT_MS", cfg.ResignTimeout)
	cfg.DesyncDelay = millisEnv("ARENA_DESYNC_DELAY_MS", cfg.DesyncDelay)
	cfg.DriftThreshold = millisEnv("ARENA_DRIFT_MS", cfg.DriftThreshold)

	if cfg.DisplayName == "" {
		cfg.DisplayName = cfg.PlayerID
	}

	if cfg.WSURL == "" {
		return nil, errors.New("ARENA_WS_URL is required")
	}
	if !strings.HasPrefix(cfg.WSURL, "ws://") && !strings.HasPrefix(cfg.WSURL, "wss://") {
		return nil, errors.New("ARENA_WS_URL must be a ws:// or wss:// url")
	}
	if cfg.PlayerID == "" {
		return nil, errors.New("ARENA_PLAYER_ID is required")
	}

	return cfg, nil
}

func millisEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Millisecond
}
