package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luciancaetano/kephasmmo/internal/session"
)

// TestLoadDefaults tests the defaults applied when only the required key is set
func TestLoadDefaults(t *testing.T) {
	t.Setenv("MMO_SERVER_PASSWORD", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, Production, cfg.Env)
	assert.Equal(t, ":3001", cfg.WSAddr)
	assert.Empty(t, cfg.TCPAddr)
	assert.Equal(t, 9, cfg.DefaultGuildRank)
	assert.Equal(t, 1, cfg.GuildOfficerRank)
	assert.Equal(t, 5, cfg.PartyMaxSize)
	assert.Equal(t, 8*time.Millisecond, cfg.QueueInterval)
	assert.Equal(t, session.KickPrevious, cfg.Policy())
	assert.True(t, cfg.RateLimitConfig().Enabled)
}

// TestLoadRequiresServerPassword tests that the server password is mandatory
func TestLoadRequiresServerPassword(t *testing.T) {
	t.Setenv("MMO_SERVER_PASSWORD", "")

	_, err := Load()
	assert.Error(t, err)
}

// TestLoadOverrides tests reading every kind of value from the environment
func TestLoadOverrides(t *testing.T) {
	t.Setenv("MMO_SERVER_PASSWORD", "secret")
	t.Setenv("MMO_ENV", "development")
	t.Setenv("MMO_TCP_ADDR", ":3002")
	t.Setenv("MMO_PARTY_MAX_SIZE", "8")
	t.Setenv("MMO_QUEUE_INTERVAL", "16ms")
	t.Setenv("MMO_RATE_LIMIT", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, ":3002", cfg.TCPAddr)
	assert.Equal(t, 8, cfg.PartyMaxSize)
	assert.Equal(t, 16*time.Millisecond, cfg.QueueInterval)
	assert.Equal(t, session.AllowMultiple, cfg.Policy(), "development defaults to allow")
	assert.False(t, cfg.RateLimitConfig().Enabled)

	t.Setenv("MMO_MULTI_LOGIN", "kick")
	cfg, err = Load()
	require.NoError(t, err)
	assert.Equal(t, session.KickPrevious, cfg.Policy())
}

// TestValidate tests rejection of inconsistent settings
func TestValidate(t *testing.T) {
	t.Parallel()

	valid := Config{
		Env:              Production,
		WSAddr:           ":3001",
		ServerPassword:   "secret",
		DefaultGuildRank: 9,
		GuildOfficerRank: 1,
		PartyMaxSize:     5,
		MaxMessageSize:   1024,
		QueueInterval:    time.Millisecond,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown env", func(c *Config) { c.Env = "staging" }},
		{"officer rank above default", func(c *Config) { c.GuildOfficerRank = 10 }},
		{"negative officer rank", func(c *Config) { c.GuildOfficerRank = -1 }},
		{"party of one", func(c *Config) { c.PartyMaxSize = 1 }},
		{"unknown policy", func(c *Config) { c.MultiLogin = "refuse" }},
		{"no listeners", func(c *Config) { c.WSAddr = "" }},
		{"zero interval", func(c *Config) { c.QueueInterval = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
