package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries system-wide settings for every component.
type Config struct {
	Database  *DatabaseConfig  `json:"database"`
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Auth      *AuthConfig      `json:"auth"`
	Room      *RoomConfig      `json:"room"`
	Scheduler *SchedulerConfig `json:"scheduler"`
}

type DatabaseConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type HTTPConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	Host         string        `json:"host"`
}

// WebSocketConfig covers transport-level liveness probing; a missed pong
// within ReadTimeout is treated as a disconnect.
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

type AuthConfig struct {
	JWTSecret string        `json:"-"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

type RoomConfig struct {
	ChatHistoryLimit int `json:"chat_history_limit"`
}

type SchedulerConfig struct {
	Interval time.Duration `json:"interval"`
}

// DefaultConfig returns defaults sized for classroom-scale deployments.
// JWTSecret has no default; it must come from the environment.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./data/cmelive.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Host:         "0.0.0.0",
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 25 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: &AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Room: &RoomConfig{
			ChatHistoryLimit: 100,
		},
		Scheduler: &SchedulerConfig{
			Interval: time.Minute,
		},
	}
}

// Validate ensures the configuration can run the system.
func (c *Config) Validate() error {
	if c.Database == nil || c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket intervals must be positive")
	}
	if c.WebSocket.PingInterval >= c.WebSocket.ReadTimeout {
		return fmt.Errorf("WebSocket ping interval must be shorter than the read timeout")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Auth == nil || c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required (set CME_JWT_SECRET)")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive")
	}

	if c.Room == nil || c.Room.ChatHistoryLimit <= 0 {
		return fmt.Errorf("chat history limit must be positive")
	}

	if c.Scheduler == nil || c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive")
	}

	return nil
}

// LoadFromEnv returns the defaults overridden by CME_* environment
// variables. Call godotenv.Load beforehand to pick up a .env file.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if port := os.Getenv("CME_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if host := os.Getenv("CME_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if dbPath := os.Getenv("CME_DATABASE_PATH"); dbPath != "" {
		config.Database.Path = dbPath
	}
	if timeout := os.Getenv("CME_DATABASE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Database.Timeout = d
		}
	}
	if readTimeout := os.Getenv("CME_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if d, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = d
		}
	}
	if writeTimeout := os.Getenv("CME_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if d, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = d
		}
	}
	if interval := os.Getenv("CME_WEBSOCKET_PING_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.WebSocket.PingInterval = d
		}
	}
	if timeout := os.Getenv("CME_WEBSOCKET_READ_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.WebSocket.ReadTimeout = d
		}
	}
	if timeout := os.Getenv("CME_WEBSOCKET_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.WebSocket.WriteTimeout = d
		}
	}
	if size := os.Getenv("CME_WEBSOCKET_BUFFER_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.WebSocket.BufferSize = n
		}
	}
	if secret := os.Getenv("CME_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if ttl := os.Getenv("CME_TOKEN_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Auth.TokenTTL = d
		}
	}
	if limit := os.Getenv("CME_CHAT_HISTORY_LIMIT"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil {
			config.Room.ChatHistoryLimit = n
		}
	}
	if interval := os.Getenv("CME_SCHEDULER_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Scheduler.Interval = d
		}
	}

	return config
}
