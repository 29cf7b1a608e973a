// Package config loads server settings from an optional TOML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/atmx/farm-engine/internal/fixedpoint"
)

// Config holds the server settings.
type Config struct {
	Port        string        `toml:"Port"`
	DatabaseURL string        `toml:"DatabaseURL"`
	RedisURL    string        `toml:"RedisURL"`
	CacheTTL    time.Duration `toml:"CacheTTL"`

	LogLevel string `toml:"LogLevel"`
	// LogFile, when set, receives a copy of the log stream, rotated by size.
	LogFile string `toml:"LogFile"`

	// GlobalAdmin and TreasuryFeeBps seed the global config on first start.
	GlobalAdmin    string `toml:"GlobalAdmin"`
	TreasuryFeeBps uint64 `toml:"TreasuryFeeBps"`

	Clock ClockConfig `toml:"Clock"`
}

// ClockConfig defines the slot clock used by farms with TimeUnit slots.
type ClockConfig struct {
	Genesis      time.Time     `toml:"Genesis"`
	SlotDuration time.Duration `toml:"SlotDuration"`
}

// Default returns the settings used when nothing is configured.
func Default() *Config {
	return &Config{
		Port:        "8080",
		CacheTTL:    30 * time.Second,
		LogLevel:    "info",
		GlobalAdmin: "admin",
		Clock: ClockConfig{
			SlotDuration: 400 * time.Millisecond,
		},
	}
}

// Load reads path (skipped when empty) over the defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown keys in %s: %v", path, undecoded)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FILE", &c.LogFile)
	str("GLOBAL_ADMIN", &c.GlobalAdmin)

	if v, ok := lookup("CACHE_TTL"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CACHE_TTL: %w", err)
		}
		c.CacheTTL = d
	}
	if v, ok := lookup("TREASURY_FEE_BPS"); ok && v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: TREASURY_FEE_BPS: %w", err)
		}
		c.TreasuryFeeBps = n
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Port == "":
		return errors.New("config: port is required")
	case c.TreasuryFeeBps > fixedpoint.BpsDivFactor:
		return fmt.Errorf("config: treasury fee %d bps exceeds %d", c.TreasuryFeeBps, fixedpoint.BpsDivFactor)
	case c.Clock.SlotDuration <= 0:
		return errors.New("config: slot duration must be positive")
	case c.CacheTTL < 0:
		return errors.New("config: cache TTL must not be negative")
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level parses LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}
