// Package boot provides runtime configuration and dependency wiring for the daemon.
package boot

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/numrelay/numrelay/internal/config"
)

// RuntimeConfig holds parsed runtime settings (bot token, server address, timers).
// Values may be overridden by environment variables (e.g. HTTP_ADDR, BOT_TOKEN,
// WEBHOOK_BASE_URL, DATABASE_PATH).
type RuntimeConfig struct {
	BotToken       string
	WebhookBaseURL string
	ServerAddr     string
	DatabasePath   string
	ProbeInterval  time.Duration
	StaleTimeout   time.Duration
	PurgeSchedule  string
	RetentionDays  int
	RecentCap      int
}

// ProvideRuntimeConfig builds RuntimeConfig from the given config and applies env overrides.
func ProvideRuntimeConfig(cfg config.Config) (*RuntimeConfig, error) {
	probeInterval, err := time.ParseDuration(cfg.Liveness.ProbeInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid probe interval: %w", err)
	}
	staleTimeout, err := time.ParseDuration(cfg.Liveness.StaleTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid stale timeout: %w", err)
	}

	ret := &RuntimeConfig{
		BotToken:       cfg.Telegram.BotToken,
		WebhookBaseURL: cfg.Telegram.WebhookBaseURL,
		ServerAddr:     cfg.Server.Addr,
		DatabasePath:   cfg.Database.Path,
		ProbeInterval:  probeInterval,
		StaleTimeout:   staleTimeout,
		PurgeSchedule:  cfg.Liveness.PurgeSchedule,
		RetentionDays:  cfg.Relay.RetentionDays,
		RecentCap:      cfg.Relay.RecentCap,
	}

	if value := os.Getenv("HTTP_ADDR"); value != "" {
		ret.ServerAddr = value
	}
	if value := os.Getenv("BOT_TOKEN"); value != "" {
		ret.BotToken = value
	}
	if value := os.Getenv("WEBHOOK_BASE_URL"); value != "" {
		ret.WebhookBaseURL = value
	}
	if value := os.Getenv("DATABASE_PATH"); value != "" {
		ret.DatabasePath = value
	}

	if strings.TrimSpace(ret.BotToken) == "" {
		return nil, errors.New("telegram bot token is required")
	}
	return ret, nil
}
