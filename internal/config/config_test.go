package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ARENA_WS_URL", "ws://localhost:9000/ws")
	t.Setenv("ARENA_PLAYER_ID", "p1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ResignTimeout != 7*time.Second || cfg.DesyncDelay != 500*time.Millisecond || cfg.Tick != 200*time.Millisecond {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}
	if cfg.DisplayName != "p1" {
		t.Fatalf("display name should fall back to player id, got %q", cfg.DisplayName)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ARENA_WS_URL", "wss://arena.example/ws")
	t.Setenv("ARENA_PLAYER_ID", "p1")
	t.Setenv("ARENA_MAX_RECONNECT", "0")
	t.Setenv("ARENA_TICK_MS", "100")
	t.Setenv("ARENA_DRIFT_MS", "bogus")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxReconnect != 0 || cfg.Tick != 100*time.Millisecond || cfg.DriftThreshold != 500*time.Millisecond {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadRequiresURLAndPlayer(t *testing.T) {
	t.Setenv("ARENA_WS_URL", "")
	t.Setenv("ARENA_PLAYER_ID", "p1")
	if _, err := Load(); err == nil {
		t.Fatalf("missing url accepted")
	}
	t.Setenv("ARENA_WS_URL", "http://nope")
	if _, err := Load(); err == nil {
		t.Fatalf("http url accepted")
	}
	t.Setenv("ARENA_WS_URL", "ws://ok")
	t.Setenv("ARENA_PLAYER_ID", "")
	if _, err := Load(); err == nil {
		t.Fatalf("missing player accepted")
	}
}
