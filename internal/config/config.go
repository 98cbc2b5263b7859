// Package config loads the server configuration from MMO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/kephasmmo"
	"github.com/luciancaetano/kephasmmo/internal/session"
)

const (
	Production  = "production"
	Development = "development"
)

// Config is the complete server configuration.
type Config struct {
	Env      string `env:"MMO_ENV"       envDefault:"production"`
	LogLevel string `env:"MMO_LOG_LEVEL" envDefault:"info"`

	WSAddr  string `env:"MMO_WS_ADDR"  envDefault:":3001"`
	TCPAddr string `env:"MMO_TCP_ADDR"`

	// GameServerIP is handed to clients by GetIpAndPort. Empty means the game server's own
	// remote address.
	GameServerIP string `env:"MMO_GAME_SERVER_IP"`

	ServerPassword string `env:"MMO_SERVER_PASSWORD,required"`
	PasswordPepper string `env:"MMO_PASSWORD_PEPPER"`
	BcryptCost     int    `env:"MMO_BCRYPT_COST"     envDefault:"10"`
	DBPath         string `env:"MMO_DB_PATH"         envDefault:"kephasmmo.sqlite"`

	DefaultGuildRank int `env:"MMO_DEFAULT_GUILD_RANK" envDefault:"9"`
	GuildOfficerRank int `env:"MMO_GUILD_OFFICER_RANK" envDefault:"1"`
	PartyMaxSize     int `env:"MMO_PARTY_MAX_SIZE"     envDefault:"5"`

	// MultiLogin is "kick" or "allow". Empty picks kick in production and allow in
	// development.
	MultiLogin string `env:"MMO_MULTI_LOGIN"`

	MaxMessageSize int64         `env:"MMO_MAX_MESSAGE_SIZE" envDefault:"65536"`
	RateLimit      float64       `env:"MMO_RATE_LIMIT"       envDefault:"100"`
	RateBurst      int           `env:"MMO_RATE_BURST"       envDefault:"200"`
	QueueInterval  time.Duration `env:"MMO_QUEUE_INTERVAL"   envDefault:"8ms"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that cannot be expressed as struct tags.
func (c Config) Validate() error {
	var errs []error
	if c.Env != Production && c.Env != Development {
		errs = append(errs, fmt.Errorf("MMO_ENV must be %q or %q, got %q", Production, Development, c.Env))
	}
	if c.ServerPassword == "" {
		errs = append(errs, errors.New("MMO_SERVER_PASSWORD must not be empty"))
	}
	if c.DefaultGuildRank < 1 {
		errs = append(errs, fmt.Errorf("MMO_DEFAULT_GUILD_RANK must be at least 1, got %d", c.DefaultGuildRank))
	}
	if c.GuildOfficerRank < 0 || c.GuildOfficerRank > c.DefaultGuildRank {
		errs = append(errs, fmt.Errorf("MMO_GUILD_OFFICER_RANK must be within [0, %d], got %d", c.DefaultGuildRank, c.GuildOfficerRank))
	}
	if c.PartyMaxSize < session.MinPartySize {
		errs = append(errs, fmt.Errorf("MMO_PARTY_MAX_SIZE must be at least %d, got %d", session.MinPartySize, c.PartyMaxSize))
	}
	if c.MultiLogin != "" {
		if _, err := session.ParsePolicy(c.MultiLogin); err != nil {
			errs = append(errs, fmt.Errorf("MMO_MULTI_LOGIN: %w", err))
		}
	}
	if c.MaxMessageSize <= 0 {
		errs = append(errs, fmt.Errorf("MMO_MAX_MESSAGE_SIZE must be positive, got %d", c.MaxMessageSize))
	}
	if c.QueueInterval <= 0 {
		errs = append(errs, fmt.Errorf("MMO_QUEUE_INTERVAL must be positive, got %s", c.QueueInterval))
	}
	if c.WSAddr == "" && c.TCPAddr == "" {
		errs = append(errs, errors.New("at least one of MMO_WS_ADDR and MMO_TCP_ADDR must be set"))
	}
	return errors.Join(errs...)
}

// IsDevelopment reports whether the server runs in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == Development
}

// Policy returns the multi-login policy, applying the per-environment default.
func (c Config) Policy() session.MultiLoginPolicy {
	if p, err := session.ParsePolicy(c.MultiLogin); err == nil {
		return p
	}
	if c.IsDevelopment() {
		return session.AllowMultiple
	}
	return session.KickPrevious
}

// RateLimitConfig returns the per-connection limiter settings. A zero rate disables limiting.
func (c Config) RateLimitConfig() *kephasmmo.RateLimitConfig {
	if c.RateLimit <= 0 {
		return kephasmmo.NoRateLimit()
	}
	return &kephasmmo.RateLimitConfig{
		MessagesPerSecond: rate.Limit(c.RateLimit),
		Burst:             c.RateBurst,
		Enabled:           true,
	}
}
