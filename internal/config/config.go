// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultDatabasePath   = "data/relay.db"
	DefaultPollTimeout    = 30
	DefaultRequestTimeout = 15
	DefaultRecentCap      = 1000
	DefaultRetentionDays  = 30
	DefaultProbeInterval  = "60s"
	DefaultStaleTimeout   = "300s"
	DefaultPurgeSchedule  = "0 3 * * *"
)

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Admin      AdminConfig      `toml:"admin"`
	Telegram   TelegramConfig   `toml:"telegram"`
	Database   DatabaseConfig   `toml:"database"`
	Classifier ClassifierConfig `toml:"classifier"`
	Relay      RelayConfig      `toml:"relay"`
	Liveness   LivenessConfig   `toml:"liveness"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// AdminConfig holds the operator API key.
type AdminConfig struct {
	APIKey string `toml:"api_key"`
}

// TelegramConfig holds the bot token and inbound delivery settings.
// When WebhookBaseURL is empty the daemon falls back to long polling.
type TelegramConfig struct {
	BotToken              string `toml:"bot_token"`
	WebhookBaseURL        string `toml:"webhook_base_url"`
	PollTimeoutSeconds    int    `toml:"poll_timeout_seconds"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// DatabaseConfig holds the sqlite database file path.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// ClassifierConfig holds the status-line markers and phrase sets as data,
// so deployments can adjust the matching rules without a rebuild.
type ClassifierConfig struct {
	StatusMarkers    []string `toml:"status_markers"`
	PositiveGlyph    string   `toml:"positive_glyph"`
	NoSessionPhrase  string   `toml:"no_session_phrase"`
	HasSessionPhrase string   `toml:"has_session_phrase"`
	AccessedPhrases  []string `toml:"accessed_phrases"`
}

// RelayConfig holds per-binding relay settings.
type RelayConfig struct {
	RecentCap     int `toml:"recent_cap"`
	RetentionDays int `toml:"retention_days"`
}

// LivenessConfig holds the monitor probe interval, the stale timeout after
// which the process is considered wedged, and the daily purge schedule.
type LivenessConfig struct {
	ProbeInterval string `toml:"probe_interval"`
	StaleTimeout  string `toml:"stale_timeout"`
	PurgeSchedule string `toml:"purge_schedule"`
}

// Load reads and parses the TOML config file at path and applies default values for missing fields.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Telegram: TelegramConfig{
			PollTimeoutSeconds:    DefaultPollTimeout,
			RequestTimeoutSeconds: DefaultRequestTimeout,
		},
		Database: DatabaseConfig{
			Path: DefaultDatabasePath,
		},
		Classifier: ClassifierConfig{
			StatusMarkers:    []string{"الحالة", "الـحـالـة"},
			PositiveGlyph:    "✅",
			NoSessionPhrase:  "بدون جلسة",
			HasSessionPhrase: "لديه جلسة",
			AccessedPhrases:  []string{"✅ تم الوصول", "✅ تـم الـوصـول"},
		},
		Relay: RelayConfig{
			RecentCap:     DefaultRecentCap,
			RetentionDays: DefaultRetentionDays,
		},
		Liveness: LivenessConfig{
			ProbeInterval: DefaultProbeInterval,
			StaleTimeout:  DefaultStaleTimeout,
			PurgeSchedule: DefaultPurgeSchedule,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
