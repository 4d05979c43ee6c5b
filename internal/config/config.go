// Package config loads service settings from the environment (optionally
// seeded from a .env file) and an optional YAML overlay file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/payment-gateway/internal/policy"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// RetryConfig controls upstream retries. MaxAttempts 1 disables them.
type RetryConfig struct {
	MaxAttempts int                 `yaml:"max_attempts"`
	Backoff     time.Duration       `yaml:"backoff"`
	Rules       []policy.PolicyRule `yaml:"rules"`
}

// BreakerConfig controls the per-gateway circuit breaker. A FailureThreshold
// of 0 disables it.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// Config holds all service settings.
type Config struct {
	Port                string        `yaml:"port"`
	CardConnectHostname string        `yaml:"cardconnect_hostname"`
	PayloadAPIURL       string        `yaml:"payload_api_url"`
	GatewayTimeout      time.Duration `yaml:"gateway_timeout"`
	Retry               RetryConfig   `yaml:"retry"`
	Breaker             BreakerConfig `yaml:"breaker"`
	RedisURL            string        `yaml:"redis_url"`
	RefundLockTTL       time.Duration `yaml:"refund_lock_ttl"`
	KafkaBrokers        []string      `yaml:"kafka_brokers"`
	KafkaTopic          string        `yaml:"kafka_topic"`
	OTLPEndpoint        string        `yaml:"otlp_endpoint"`
	TracesEnabled       bool          `yaml:"traces_enabled"`
	LogLevel            string        `yaml:"log_level"`
	AuditLogPath        string        `yaml:"audit_log_path"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:                "8082",
		CardConnectHostname: "fts.cardconnect.com",
		PayloadAPIURL:       "https://api.payload.com",
		GatewayTimeout:      30 * time.Second,
		Retry: RetryConfig{
			MaxAttempts: policy.DefaultMaxAttempts,
			Backoff:     policy.DefaultBackoff,
			Rules:       policy.DefaultRules(),
		},
		Breaker: BreakerConfig{
			OpenTimeout: 30 * time.Second,
		},
		RefundLockTTL: 60 * time.Second,
		KafkaTopic:    "payment-gateway.results",
		LogLevel:      "info",
	}
}

// Load reads .env (if present), the environment, then the YAML file named by
// GATEWAY_CONFIG_FILE (if set), and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if path := os.Getenv("GATEWAY_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("PORT", &c.Port)
	str("CARDCONNECT_HOSTNAME", &c.CardConnectHostname)
	str("PAYLOAD_API_URL", &c.PayloadAPIURL)
	duration("GATEWAY_TIMEOUT", &c.GatewayTimeout)
	integer("GATEWAY_RETRY_MAX_ATTEMPTS", &c.Retry.MaxAttempts)
	duration("GATEWAY_RETRY_BACKOFF", &c.Retry.Backoff)
	integer("GATEWAY_BREAKER_FAILURE_THRESHOLD", &c.Breaker.FailureThreshold)
	duration("GATEWAY_BREAKER_OPEN_TIMEOUT", &c.Breaker.OpenTimeout)
	str("REDIS_URL", &c.RedisURL)
	duration("REFUND_LOCK_TTL", &c.RefundLockTTL)
	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		c.KafkaBrokers = splitList(v)
	}
	str("KAFKA_TOPIC", &c.KafkaTopic)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &c.OTLPEndpoint)
	boolean("OTEL_TRACES_ENABLED", &c.TracesEnabled)
	str("LOG_LEVEL", &c.LogLevel)
	str("AUDIT_LOG_PATH", &c.AuditLogPath)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// applyFile overlays the keys present in a YAML file.
func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("%w: parse %s: %w", ErrInvalid, path, err)
	}
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var problems []string
	if c.Port == "" {
		problems = append(problems, "port is required")
	}
	if c.GatewayTimeout <= 0 {
		problems = append(problems, "gateway timeout must be positive")
	}
	if c.Retry.MaxAttempts < 1 {
		problems = append(problems, "retry max attempts must be at least 1")
	}
	if c.Retry.Backoff < 0 {
		problems = append(problems, "retry backoff must not be negative")
	}
	if c.Breaker.FailureThreshold < 0 {
		problems = append(problems, "breaker failure threshold must not be negative")
	}
	if c.RefundLockTTL <= 0 {
		problems = append(problems, "refund lock TTL must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// BreakerEnabled reports whether the circuit breaker is on.
func (c *Config) BreakerEnabled() bool {
	return c.Breaker.FailureThreshold > 0
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
