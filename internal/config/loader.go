package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "driftline.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "DRIFTLINE_PORT")
	setString(&cfg.Server.CORSOrigin, "DRIFTLINE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "DRIFTLINE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "DRIFTLINE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "DRIFTLINE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "DRIFTLINE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "DRIFTLINE_PG_HEALTH_CHECK")
	setString(&cfg.Bus.Driver, "DRIFTLINE_BUS_DRIVER")
	setString(&cfg.Bus.URL, "NATS_URL")
	setString(&cfg.Logging.Level, "DRIFTLINE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "DRIFTLINE_LOG_SERVICE")
	setString(&cfg.Telemetry.Endpoint, "DRIFTLINE_OTLP_ENDPOINT")
	setInt(&cfg.Command.MaxAttempts, "DRIFTLINE_COMMAND_MAX_ATTEMPTS")
	setDuration(&cfg.Stream.KeepAlive, "DRIFTLINE_STREAM_KEEP_ALIVE")
	setInt64(&cfg.Cache.MaxBytes, "DRIFTLINE_CACHE_MAX_BYTES")
	setDuration(&cfg.Cache.TTL, "DRIFTLINE_CACHE_TTL")
}

// validate rejects configurations that cannot work.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server port is required")
	}
	switch cfg.Bus.Driver {
	case "memory", "nats":
	default:
		return fmt.Errorf("unknown bus driver %q (want memory or nats)", cfg.Bus.Driver)
	}
	if cfg.Bus.Driver == "nats" && cfg.Bus.URL == "" {
		return errors.New("bus url is required for the nats driver")
	}
	if cfg.Command.MaxAttempts < 1 {
		return errors.New("command max_attempts must be at least 1")
	}
	if cfg.Stream.KeepAlive <= 0 {
		return errors.New("stream keep_alive must be positive")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
