package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	// Optional backends. Without REDIS_URL the instance runs without the
	// cross-instance bridge; without DATABASE_URL joins are policy-free.
	RedisURL    string `env:"REDIS_URL"`
	DatabaseURL string `env:"DATABASE_URL"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" default:"90s"`
	HeartbeatProbe    bool          `env:"HEARTBEAT_PROBE_ENABLED" default:"true"`

	RateLimit  int           `env:"RATE_LIMIT" default:"100"`
	RateWindow time.Duration `env:"RATE_WINDOW" default:"10s"`

	MaxConnections       int     `env:"MAX_CONNECTIONS" default:"10000"`
	ConnectionRatePerIP  float64 `env:"CONNECTION_RATE_PER_IP" default:"5"`
	ConnectionBurstPerIP int     `env:"CONNECTION_BURST_PER_IP" default:"10"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	positiveDurations := map[string]time.Duration{
		"HEARTBEAT_INTERVAL": cfg.HeartbeatInterval,
		"HEARTBEAT_TIMEOUT":  cfg.HeartbeatTimeout,
		"RATE_WINDOW":        cfg.RateWindow,
		"SHUTDOWN_TIMEOUT":   cfg.ShutdownTimeout,
	}
	for name, value := range positiveDurations {
		if value <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, value)
		}
	}

	if cfg.RateLimit <= 0 {
		return fmt.Errorf("RATE_LIMIT must be positive, got %d", cfg.RateLimit)
	}
	if cfg.MaxConnections <= 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be positive, got %d", cfg.MaxConnections)
	}
	if cfg.ConnectionRatePerIP <= 0 {
		return fmt.Errorf("CONNECTION_RATE_PER_IP must be positive, got %v", cfg.ConnectionRatePerIP)
	}
	if cfg.ConnectionBurstPerIP <= 0 {
		return fmt.Errorf("CONNECTION_BURST_PER_IP must be positive, got %d", cfg.ConnectionBurstPerIP)
	}

	return nil
}
