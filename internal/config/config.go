package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"possync/internal/logging"
	udpclient "possync/internal/microservices/udp-client"
	udp "possync/internal/microservices/udp-server"
)

type Config struct {
	// Environment
	GoEnv string `env:"GO_ENV" default:"development"`

	// UDP transport
	UDPPort          int    `env:"UDP_PORT" default:"22044"`
	UDPBindHost      string `env:"UDP_BIND_HOST" default:"::"`
	UDPServerHost    string `env:"UDP_SERVER_HOST" default:"127.0.0.1"`
	SocketBufferSize int    `env:"SOCKET_BUFFER_SIZE" default:"262144"`

	// Timings
	BroadcastInterval time.Duration `env:"BROADCAST_INTERVAL" default:"2s"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" default:"2s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"5s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" default:"15s"`
	IdleInterval      time.Duration `env:"IDLE_INTERVAL" default:"10ms"`

	// Admission
	AcceptOrphanHeartbeats bool    `env:"ACCEPT_ORPHAN_HEARTBEATS" default:"true"`
	RateLimit              float64 `env:"RATE_LIMIT" default:"20"`
	RateBurst              int     `env:"RATE_BURST" default:"40"`

	// Admin HTTP
	AdminEnabled bool   `env:"ADMIN_ENABLED" default:"true"`
	AdminAddr    string `env:"ADMIN_ADDR" default:"127.0.0.1:8085"`

	// Redis mirror, disabled when RedisAddr is empty
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisChannel  string `env:"REDIS_CHANNEL" default:"possync:ticks"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogFile   string `env:"LOG_FILE"`
}

// LoadConfig loads configuration from .env and environment variables
func LoadConfig() (*Config, error) {
	// a missing .env is fine, the process environment still applies
	_ = godotenv.Load(".env")

	return loadFromEnv()
}

func loadFromEnv() (*Config, error) {
	config := &Config{}

	if err := loadEnvString(&config.GoEnv, "GO_ENV", "development"); err != nil {
		return nil, err
	}

	// UDP transport
	if err := loadEnvInt(&config.UDPPort, "UDP_PORT", udp.DefaultPort); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.UDPBindHost, "UDP_BIND_HOST", "::"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.UDPServerHost, "UDP_SERVER_HOST", "127.0.0.1"); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.SocketBufferSize, "SOCKET_BUFFER_SIZE", 256*1024); err != nil {
		return nil, err
	}

	// Timings
	if err := loadEnvDuration(&config.BroadcastInterval, "BROADCAST_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.SweepInterval, "SWEEP_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.HeartbeatInterval, "HEARTBEAT_INTERVAL", 5*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.HeartbeatTimeout, "HEARTBEAT_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if err := loadEnvDuration(&config.IdleInterval, "IDLE_INTERVAL", 10*time.Millisecond); err != nil {
		return nil, err
	}

	// Admission
	if err := loadEnvBool(&config.AcceptOrphanHeartbeats, "ACCEPT_ORPHAN_HEARTBEATS", true); err != nil {
		return nil, err
	}
	if err := loadEnvFloat(&config.RateLimit, "RATE_LIMIT", 20); err != nil {
		return nil, err
	}
	if err := loadEnvInt(&config.RateBurst, "RATE_BURST", 40); err != nil {
		return nil, err
	}

	// Admin
	if err := loadEnvBool(&config.AdminEnabled, "ADMIN_ENABLED", true); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.AdminAddr, "ADMIN_ADDR", "127.0.0.1:8085"); err != nil {
		return nil, err
	}

	// Redis
	if err := loadEnvString(&config.RedisAddr, "REDIS_ADDR", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisPassword, "REDIS_PASSWORD", ""); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.RedisChannel, "REDIS_CHANNEL", "possync:ticks"); err != nil {
		return nil, err
	}

	// Logging
	if err := loadEnvString(&config.LogLevel, "LOG_LEVEL", "info"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFormat, "LOG_FORMAT", "text"); err != nil {
		return nil, err
	}
	if err := loadEnvString(&config.LogFile, "LOG_FILE", ""); err != nil {
		return nil, err
	}
	return config, nil
}

// Helper functions for type conversion and validation
func loadEnvString(target *string, key, defaultValue string) error {
	if value := os.Getenv(key); value != "" {
		*target = value
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvInt(target *int, key string, defaultValue int) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid integer value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvFloat(target *float64, key string, defaultValue float64) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvBool(target *bool, key string, defaultValue bool) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

func loadEnvDuration(target *time.Duration, key string, defaultValue time.Duration) error {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration value for %s: %v", key, err)
		}
		*target = parsed
	} else {
		*target = defaultValue
	}
	return nil
}

// Validate performs validation on the loaded configuration
func (c *Config) Validate() error {
	var errors []string

	if c.UDPPort < 1 || c.UDPPort > 65535 {
		errors = append(errors, "UDP_PORT must be between 1 and 65535")
	}
	if c.SocketBufferSize < 0 {
		errors = append(errors, "SOCKET_BUFFER_SIZE must not be negative")
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"BROADCAST_INTERVAL", c.BroadcastInterval},
		{"SWEEP_INTERVAL", c.SweepInterval},
		{"HEARTBEAT_INTERVAL", c.HeartbeatInterval},
		{"HEARTBEAT_TIMEOUT", c.HeartbeatTimeout},
		{"IDLE_INTERVAL", c.IdleInterval},
	}
	for _, d := range durations {
		if d.value <= 0 {
			errors = append(errors, fmt.Sprintf("%s must be positive", d.name))
		}
	}
	if c.HeartbeatTimeout > 0 && c.HeartbeatInterval >= c.HeartbeatTimeout {
		errors = append(errors, "HEARTBEAT_INTERVAL must be shorter than HEARTBEAT_TIMEOUT")
	}

	if c.RateLimit < 0 {
		errors = append(errors, "RATE_LIMIT must not be negative")
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		errors = append(errors, "RATE_BURST must be at least 1 when RATE_LIMIT is set")
	}

	if c.AdminEnabled {
		if _, _, err := net.SplitHostPort(c.AdminAddr); err != nil {
			errors = append(errors, fmt.Sprintf("ADMIN_ADDR is not host:port: %v", err))
		}
	}
	if c.RedisAddr != "" && c.RedisChannel == "" {
		errors = append(errors, "REDIS_CHANNEL must be set when REDIS_ADDR is set")
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, c.LogLevel) {
		errors = append(errors, fmt.Sprintf("LOG_LEVEL must be one of: %s", strings.Join(validLogLevels, ", ")))
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, c.LogFormat) {
		errors = append(errors, fmt.Sprintf("LOG_FORMAT must be one of: %s", strings.Join(validLogFormats, ", ")))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// ServerConfig maps the loaded values onto the sync server's settings.
func (c *Config) ServerConfig() udp.Config {
	return udp.Config{
		BindHost:               c.UDPBindHost,
		Port:                   c.UDPPort,
		SocketBufferSize:       c.SocketBufferSize,
		BroadcastInterval:      c.BroadcastInterval,
		SweepInterval:          c.SweepInterval,
		HeartbeatTimeout:       c.HeartbeatTimeout,
		IdleInterval:           c.IdleInterval,
		AcceptOrphanHeartbeats: c.AcceptOrphanHeartbeats,
		RateLimit:              c.RateLimit,
		RateBurst:              c.RateBurst,
	}
}

// ClientConfig maps the loaded values onto the sync client's settings.
func (c *Config) ClientConfig() udpclient.Config {
	return udpclient.Config{
		ServerHost:        c.UDPServerHost,
		ServerPort:        c.UDPPort,
		SocketBufferSize:  c.SocketBufferSize,
		HeartbeatInterval: c.HeartbeatInterval,
		IdleInterval:      c.IdleInterval,
	}
}

// LogOptions maps LOG_* onto the logger builder.
func (c *Config) LogOptions() logging.Options {
	return logging.Options{Level: c.LogLevel, Format: c.LogFormat, File: c.LogFile}
}

// Helper function to check if slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
