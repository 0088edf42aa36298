package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"care-sync/internal/db"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Auth.JWTSecret = "secret"
	return cfg
}

func TestDefaultNeedsSecret(t *testing.T) {
	cfg := Default()
	require.Error(t, cfg.Validate())

	cfg.Auth.JWTSecret = "secret"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2*time.Second, cfg.Realtime.TypingWindow)
	assert.True(t, cfg.Local())
	assert.Equal(t, ":8083", cfg.Addr())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = 0 }},
		{"unknown environment", func(c *Config) { c.Environment = "staging" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty dsn", func(c *Config) { c.Database.DSN = "" }},
		{"zero typing window", func(c *Config) { c.Realtime.TypingWindow = 0 }},
		{"zero send buffer", func(c *Config) { c.Realtime.SendBuffer = 0 }},
		{"read timeout below ping", func(c *Config) { c.Realtime.ReadTimeout = c.Realtime.PingInterval }},
		{"hosted without public url", func(c *Config) { c.Environment = EnvHosted }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "Hosted")
	t.Setenv("DB_DRIVER", db.DriverSQLite)
	t.Setenv("DB_DSN", "file:care.db")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REALTIME_PUBLIC_URL", "https://sync.example.com/ws")
	t.Setenv("TYPING_WINDOW", "3s")
	t.Setenv("WS_SEND_BUFFER", "64")
	t.Setenv("DEBUG_ROUTES", "true")

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, EnvHosted, cfg.Environment)
	assert.False(t, cfg.Local())
	assert.Equal(t, db.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3*time.Second, cfg.Realtime.TypingWindow)
	assert.True(t, cfg.DebugRoutes)

	opts := cfg.WSOptions()
	assert.Equal(t, 64, opts.QueueSize)
	assert.Equal(t, cfg.Realtime.ReadTimeout, opts.ReadTimeout)
}

func TestLoadFromEnvIgnoresUnparsable(t *testing.T) {
	t.Setenv("PORT", "not-a-port")
	t.Setenv("TYPING_WINDOW", "soon")
	t.Setenv("DEBUG_ROUTES", "maybe")

	cfg := LoadFromEnv()
	def := Default()
	assert.Equal(t, def.Port, cfg.Port)
	assert.Equal(t, def.Realtime.TypingWindow, cfg.Realtime.TypingWindow)
	assert.False(t, cfg.DebugRoutes)
}
