package config

import (
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Auth.JWTSecret = "test-secret"
	return cfg
}

func TestDefaultConfigNeedsSecret(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Error("defaults without a JWT secret should fail validation")
	}

	cfg.Auth.JWTSecret = "test-secret"
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults with a secret should validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero database timeout", func(c *Config) { c.Database.Timeout = 0 }},
		{"port too low", func(c *Config) { c.HTTP.Port = 0 }},
		{"port too high", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty host", func(c *Config) { c.HTTP.Host = "" }},
		{"ping not shorter than read timeout", func(c *Config) {
			c.WebSocket.PingInterval = c.WebSocket.ReadTimeout
		}},
		{"zero buffer", func(c *Config) { c.WebSocket.BufferSize = 0 }},
		{"zero token TTL", func(c *Config) { c.Auth.TokenTTL = 0 }},
		{"zero chat limit", func(c *Config) { c.Room.ChatHistoryLimit = 0 }},
		{"zero scheduler interval", func(c *Config) { c.Scheduler.Interval = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation failure for %s", tc.name)
			}
		})
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("CME_HTTP_PORT", "9090")
	t.Setenv("CME_JWT_SECRET", "env-secret")
	t.Setenv("CME_CHAT_HISTORY_LIMIT", "50")
	t.Setenv("CME_SCHEDULER_INTERVAL", "30s")
	t.Setenv("CME_WEBSOCKET_PING_INTERVAL", "10s")

	cfg := LoadFromEnv()

	if cfg.HTTP.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTP.Port)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Error("JWT secret not picked up from environment")
	}
	if cfg.Room.ChatHistoryLimit != 50 {
		t.Errorf("expected chat limit 50, got %d", cfg.Room.ChatHistoryLimit)
	}
	if cfg.Scheduler.Interval != 30*time.Second {
		t.Errorf("expected 30s interval, got %s", cfg.Scheduler.Interval)
	}
	if cfg.WebSocket.PingInterval != 10*time.Second {
		t.Errorf("expected 10s ping, got %s", cfg.WebSocket.PingInterval)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("env-loaded config should validate: %v", err)
	}
}

func TestLoadFromEnvIgnoresInvalidValues(t *testing.T) {
	t.Setenv("CME_HTTP_PORT", "not-a-number")
	t.Setenv("CME_SCHEDULER_INTERVAL", "eventually")

	cfg := LoadFromEnv()

	if cfg.HTTP.Port != DefaultConfig().HTTP.Port {
		t.Errorf("invalid port override should keep the default, got %d", cfg.HTTP.Port)
	}
	if cfg.Scheduler.Interval != DefaultConfig().Scheduler.Interval {
		t.Errorf("invalid interval override should keep the default, got %s", cfg.Scheduler.Interval)
	}
}
