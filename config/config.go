package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration. Values come from an optional yaml
// file with environment variables taking precedence.
type Config struct {
	DatabaseURL string       `yaml:"database_url"`
	AMQPURL     string       `yaml:"amqp_url"`
	RedisAddr   string       `yaml:"redis_addr"`
	JWTSecret   string       `yaml:"jwt_secret"`
	ListenAddr  string       `yaml:"listen_addr"`
	Outbox      OutboxConfig `yaml:"outbox"`
	Pool        PoolConfig   `yaml:"pool"`
}

type OutboxConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	MaxRetries int           `yaml:"max_retries"`
}

type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns"`
}

// Load reads the yaml file at path (if it exists) and applies env overrides.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddr: ":8080",
		Outbox: OutboxConfig{
			Interval:   time.Second,
			BatchSize:  100,
			MaxRetries: 5,
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// env-only configuration is fine
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	overrideFromEnv(&cfg)

	if cfg.Outbox.Interval <= 0 {
		cfg.Outbox.Interval = time.Second
	}
	if cfg.Outbox.BatchSize <= 0 {
		cfg.Outbox.BatchSize = 100
	}
	if cfg.Outbox.MaxRetries <= 0 {
		cfg.Outbox.MaxRetries = 5
	}

	return cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pool.MaxConns = int32(n)
		}
	}
}
