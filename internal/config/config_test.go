package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vigia.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeConfig(t, `{"identity":{"user_id":"alice"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Identity.UserID != "alice" {
		t.Errorf("user_id = %q", cfg.Identity.UserID)
	}
	if cfg.Track.IntervalSec != 5 || cfg.Track.HeartbeatSec != 15 {
		t.Errorf("track defaults = %+v", cfg.Track)
	}
	if cfg.Track.LowBatteryPct != 20 {
		t.Errorf("low battery default = %d", cfg.Track.LowBatteryPct)
	}
	if cfg.Relay.MaxAttempts != 5 || cfg.Relay.BaseDelaySec != 1 || cfg.Relay.MaxDelaySec != 5 {
		t.Errorf("relay defaults = %+v", cfg.Relay)
	}
	if cfg.Call.NegotiationTimeoutSec != 30 {
		t.Errorf("negotiation timeout default = %d", cfg.Call.NegotiationTimeoutSec)
	}
	if len(cfg.Call.ICEServers) == 0 {
		t.Error("no default ICE servers")
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"identity": {"user_id": "alice", "name": "Alice"},
		"relay": {"url": "wss://relay.example.org/ws", "max_attempts": 3, "base_delay_sec": 2, "max_delay_sec": 10},
		"track": {"interval_sec": 10, "timeout_sec": 20, "heartbeat_sec": 30}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.URL != "wss://relay.example.org/ws" || cfg.Relay.MaxAttempts != 3 {
		t.Errorf("relay = %+v", cfg.Relay)
	}
	if cfg.Track.IntervalSec != 10 || cfg.Track.TimeoutSec != 20 {
		t.Errorf("track = %+v", cfg.Track)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `{"identity":{"user_id":"alice"},"relay":{"url":"wss://file.example/ws"}}`)

	t.Setenv("VIGIA_RELAY_URL", "wss://env.example/ws")
	t.Setenv("VIGIA_USER_ID", "bob")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Relay.URL != "wss://env.example/ws" {
		t.Errorf("env override lost: %q", cfg.Relay.URL)
	}
	if cfg.Identity.UserID != "bob" {
		t.Errorf("user_id = %q", cfg.Identity.UserID)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing user id", `{}`},
		{"bad relay scheme", `{"identity":{"user_id":"a"},"relay":{"url":"https://not-ws.example"}}`},
		{"zero interval", `{"identity":{"user_id":"a"},"track":{"interval_sec":-1}}`},
		{"inconsistent reconnect", `{"identity":{"user_id":"a"},"relay":{"max_attempts":0}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.body)
			if _, err := Load(path); err == nil {
				t.Fatal("invalid config accepted")
			}
		})
	}
}

func TestEnsureCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigia.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if !created {
		t.Fatal("created = false for fresh path")
	}
	if cfg.Track.IntervalSec != 5 {
		t.Errorf("defaults not returned: %+v", cfg.Track)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file not written: %v", err)
	}

	// Second call loads the existing file; a valid identity is now needed.
	if _, created, _ := Ensure(path); created {
		t.Error("created = true on existing file")
	}
}
