// Package config loads storefront settings from built-in defaults, an
// optional YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar names the YAML file to load, when set.
const PathEnvVar = "CONFIG_PATH"

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port           int           `koanf:"port"`
	PostgresURL    string        `koanf:"postgres_url"`
	StorageDriver  string        `koanf:"storage_driver"`
	KafkaBrokers   []string      `koanf:"kafka_brokers"`
	OrderTopic     string        `koanf:"order_topic"`
	JWTSecret      string        `koanf:"jwt_secret"`
	CORSOrigins    []string      `koanf:"cors_origins"`
	RateLimitRPM   int           `koanf:"rate_limit_rpm"`
	CartRetention  time.Duration `koanf:"cart_retention"`
	SweepInterval  time.Duration `koanf:"sweep_interval"`
	OTLPEndpoint   string        `koanf:"otel_exporter_otlp_endpoint"`
	TracingEnabled bool          `koanf:"tracing_enabled"`
	LogLevel       string        `koanf:"log_level"`
	ServiceVersion string        `koanf:"service_version"`
}

func defaults() Config {
	return Config{
		Port:           8080,
		StorageDriver:  DriverPostgres,
		OrderTopic:     "order.placed",
		CORSOrigins:    []string{"*"},
		RateLimitRPM:   600,
		CartRetention:  7 * 24 * time.Hour,
		SweepInterval:  time.Hour,
		OTLPEndpoint:   "localhost:4317",
		TracingEnabled: true,
		LogLevel:       "info",
		ServiceVersion: "0.1.0",
	}
}

// knownKeys restricts the environment layer to the settings above, so
// unrelated variables never leak into the configuration.
var knownKeys = []string{
	"port", "postgres_url", "storage_driver", "kafka_brokers", "order_topic",
	"jwt_secret", "cors_origins", "rate_limit_rpm", "cart_retention",
	"sweep_interval", "otel_exporter_otlp_endpoint", "tracing_enabled",
	"log_level", "service_version",
}

// Load builds the configuration. The YAML file named by CONFIG_PATH is
// optional; a path that is set but unreadable is an error.
func Load() (*Config, error) {
	k := koanf.New(".")

	base := defaults()
	if err := k.Load(structs.Provider(&base, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := os.Getenv(PathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.KafkaBrokers = compact(cfg.KafkaBrokers)
	cfg.CORSOrigins = compact(cfg.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func envKey(key string) string {
	key = strings.ToLower(key)
	if slices.Contains(knownKeys, key) {
		return key
	}
	return ""
}

// compact splits comma separated entries, which is how list values arrive
// from the environment, and drops blanks.
func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for part := range strings.SplitSeq(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case DriverPostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("POSTGRES_URL is required for the postgres storage driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.RateLimitRPM < 0 {
		errs = append(errs, errors.New("RATE_LIMIT_RPM must not be negative"))
	}
	if c.CartRetention <= 0 {
		errs = append(errs, errors.New("CART_RETENTION must be positive"))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// RequireJWTSecret is checked by binaries that verify bearer tokens.
func (c *Config) RequireJWTSecret() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q", s)
	}
	return level, nil
}
