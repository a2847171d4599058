package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/caarlos0/env/v11"

	"github.com/rlacerda/vigia/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	Relay    Relay    `json:"relay"`
	Track    Track    `json:"track"`
	Call     Call     `json:"call"`
	Geocode  Geocode  `json:"geocode"`
	API      API      `json:"api"`
	Paths    Paths    `json:"paths"`
}

type Identity struct {
	UserID   string `json:"user_id" env:"VIGIA_USER_ID"`
	FamilyID string `json:"family_id" env:"VIGIA_FAMILY_ID"`
	Name     string `json:"name" env:"VIGIA_NAME"`
}

type Relay struct {
	// WebSocket URL of the realtime relay, e.g. wss://relay.example.org/ws.
	URL string `json:"url" env:"VIGIA_RELAY_URL"`

	// Reconnect policy. Delay doubles per attempt up to MaxDelaySec.
	MaxAttempts  int `json:"max_attempts"`
	BaseDelaySec int `json:"base_delay_sec"`
	MaxDelaySec  int `json:"max_delay_sec"`
}

type Track struct {
	// HighAccuracy requests the platform's best fix (GPS rather than
	// network-derived position).
	HighAccuracy bool `json:"high_accuracy"`

	// MaxSampleAgeSec is the oldest cached fix the locator may return.
	// 0 means always fresh.
	MaxSampleAgeSec int `json:"max_sample_age_sec"`

	// Per-request fix timeout.
	TimeoutSec int `json:"timeout_sec"`

	// Cadence of the regular sampling loop.
	IntervalSec int `json:"interval_sec"`

	// Heartbeat forces an extra refresh even when the regular loop stalls.
	HeartbeatSec int `json:"heartbeat_sec"`

	// BeaconURL receives the best-effort final sample on teardown.
	// Empty disables the beacon.
	BeaconURL string `json:"beacon_url" env:"VIGIA_BEACON_URL"`

	// Battery percentage at or below which a battery alert is raised.
	LowBatteryPct int `json:"low_battery_pct"`
}

type Call struct {
	// STUN/TURN servers handed to the peer connection.
	ICEServers []string `json:"ice_servers"`

	// NegotiationTimeoutSec bounds how long a session may sit in
	// Requested/Offering/Answering before it is failed.
	NegotiationTimeoutSec int `json:"negotiation_timeout_sec"`
}

type Geocode struct {
	// Reverse-geocoding endpoint (Nominatim-compatible).
	URL        string `json:"url" env:"VIGIA_GEOCODE_URL"`
	TimeoutSec int    `json:"timeout_sec"`
}

type API struct {
	// HTTP listen address for the local API surface. Empty disables it.
	Addr string `json:"addr" env:"VIGIA_API_ADDR"`
}

type Paths struct {
	// DataDir holds the SQLite database. Relative to the device directory.
	DataDir string `json:"data_dir"`

	// ZoneFile, when set, is a JSON zone set watched for live reload.
	ZoneFile string `json:"zone_file"`
}

func Default() Config {
	return Config{
		Relay: Relay{
			MaxAttempts:  5,
			BaseDelaySec: 1,
			MaxDelaySec:  5,
		},
		Track: Track{
			HighAccuracy:  true,
			TimeoutSec:    30,
			IntervalSec:   5,
			HeartbeatSec:  15,
			LowBatteryPct: 20,
		},
		Call: Call{
			ICEServers: []string{
				"stun:stun.l.google.com:19302",
				"stun:stun1.l.google.com:19302",
			},
			NegotiationTimeoutSec: 30,
		},
		Geocode: Geocode{
			URL:        "https://nominatim.openstreetmap.org/reverse",
			TimeoutSec: 5,
		},
		API: API{
			Addr: "127.0.0.1:8460",
		},
		Paths: Paths{
			DataDir: "data",
		},
	}
}

// Load reads the config file at path, fills gaps with defaults, applies
// environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Ensure behaves like Load but writes a default config file if none exists.
// The second return value reports whether a new file was created.
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := util.WriteJSONFile(path, cfg); err != nil {
			return cfg, false, fmt.Errorf("write default config: %w", err)
		}
		if err := env.Parse(&cfg); err != nil {
			return cfg, true, fmt.Errorf("env overrides: %w", err)
		}
		return cfg, true, nil
	}
	cfg, err := Load(path)
	return cfg, false, err
}

func (c Config) Validate() error {
	if c.Identity.UserID == "" {
		return errors.New("config: identity.user_id is required")
	}
	if c.Relay.URL != "" {
		u, err := url.Parse(c.Relay.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("config: relay.url must be a ws:// or wss:// URL, got %q", c.Relay.URL)
		}
	}
	if c.Track.TimeoutSec <= 0 {
		return errors.New("config: track.timeout_sec must be > 0")
	}
	if c.Track.IntervalSec <= 0 {
		return errors.New("config: track.interval_sec must be > 0")
	}
	if c.Relay.MaxAttempts <= 0 || c.Relay.BaseDelaySec <= 0 || c.Relay.MaxDelaySec < c.Relay.BaseDelaySec {
		return errors.New("config: relay reconnect policy is inconsistent")
	}
	if c.Call.NegotiationTimeoutSec <= 0 {
		return errors.New("config: call.negotiation_timeout_sec must be > 0")
	}
	return nil
}
