package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultAddr          = ":8080"
	DefaultUserLimit     = 20
	DefaultGuestLimit    = 5
	DefaultAuditTimeout  = 2 * time.Second
	DefaultNotifyTimeout = 3 * time.Second
	DefaultBurstRate     = 20
	DefaultBurstSize     = 40
)

// Config carries everything the components need at startup. It is built once
// in main and passed down explicitly; nothing reads the environment after
// construction.
type Config struct {
	Addr        string
	PGDSN       string
	Environment string // "development" or "production"

	SessionSecret string

	UserDailyLimit  int
	GuestDailyLimit int

	NotifyWebhookURL string
	AuditTimeout     time.Duration
	NotifyTimeout    time.Duration

	BurstPerSecond int
	BurstSize      int

	generation atomic.Uint64
}

var errMissingSecret = errors.New("config: CHATGRID_SESSION_SECRET is required")

// FromEnv builds the configuration from the process environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:             envOr("CHATGRID_ADDR", DefaultAddr),
		PGDSN:            strings.TrimSpace(os.Getenv("CHATGRID_PG_DSN")),
		Environment:      envOr("CHATGRID_ENV", "development"),
		SessionSecret:    strings.TrimSpace(os.Getenv("CHATGRID_SESSION_SECRET")),
		NotifyWebhookURL: strings.TrimSpace(os.Getenv("CHATGRID_NOTIFY_URL")),
		AuditTimeout:     DefaultAuditTimeout,
		NotifyTimeout:    DefaultNotifyTimeout,
	}
	if cfg.SessionSecret == "" {
		return nil, errMissingSecret
	}

	var err error
	if cfg.UserDailyLimit, err = envInt("CHATGRID_USER_DAILY_LIMIT", DefaultUserLimit); err != nil {
		return nil, err
	}
	if cfg.GuestDailyLimit, err = envInt("CHATGRID_GUEST_DAILY_LIMIT", DefaultGuestLimit); err != nil {
		return nil, err
	}
	if cfg.BurstPerSecond, err = envInt("CHATGRID_BURST_PER_SECOND", DefaultBurstRate); err != nil {
		return nil, err
	}
	if cfg.BurstSize, err = envInt("CHATGRID_BURST_SIZE", DefaultBurstSize); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Production reports whether the service runs outside local development.
// Session cookies are marked Secure only in production.
func (c *Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

// Generation returns the current configuration generation. Components that
// cache derived state compare generations instead of watching for mutation.
func (c *Config) Generation() uint64 {
	return c.generation.Load()
}

// Bump advances the generation counter, invalidating derived caches.
func (c *Config) Bump() uint64 {
	return c.generation.Add(1)
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("config: %s must not be negative", key)
	}
	return v, nil
}
