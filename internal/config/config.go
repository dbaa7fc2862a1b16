// Package config loads and validates application configuration from
// environment variables, plus the analysis playbook from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Inference gateway settings.
	GatewayURL    string // OpenAI-compatible chat-completions endpoint base URL.
	GatewayAPIKey string
	Model         string
	Temperature   float64
	MaxTokens     int
	CallTimeout   time.Duration

	// Throttling and resilience.
	MaxConcurrentCalls int
	CallsPerMinute     int
	MaxRetries         int
	FailureThreshold   int // consecutive transient failures before the breaker opens
	BreakerCooldown    time.Duration

	// Run shape.
	BatchSize     int
	MaxIterations int

	// Persistence. Backend is "sqlite", "postgres", or "none".
	PersistBackend string
	DatabaseURL    string
	SQLitePath     string

	// Playbook.
	PlaybookPath string

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string

	// Operational settings.
	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		GatewayURL:         envStr("CHOSA_GATEWAY_URL", "https://api.openai.com"),
		GatewayAPIKey:      envStr("CHOSA_GATEWAY_API_KEY", envStr("OPENAI_API_KEY", "")),
		Model:              envStr("CHOSA_MODEL", "gpt-4o"),
		Temperature:        envFloat("CHOSA_TEMPERATURE", 0.2),
		MaxTokens:          envInt("CHOSA_MAX_TOKENS", 4096),
		CallTimeout:        envDuration("CHOSA_CALL_TIMEOUT", 120*time.Second),
		MaxConcurrentCalls: envInt("CHOSA_MAX_CONCURRENT_CALLS", 3),
		CallsPerMinute:     envInt("CHOSA_CALLS_PER_MINUTE", 30),
		MaxRetries:         envInt("CHOSA_MAX_RETRIES", 3),
		FailureThreshold:   envInt("CHOSA_FAILURE_THRESHOLD", 5),
		BreakerCooldown:    envDuration("CHOSA_BREAKER_COOLDOWN", 30*time.Second),
		BatchSize:          envInt("CHOSA_BATCH_SIZE", 3),
		MaxIterations:      envInt("CHOSA_MAX_ITERATIONS", 10),
		PersistBackend:     envStr("CHOSA_PERSIST_BACKEND", "sqlite"),
		DatabaseURL:        envStr("DATABASE_URL", ""),
		SQLitePath:         envStr("CHOSA_SQLITE_PATH", "chosa.db"),
		PlaybookPath:       envStr("CHOSA_PLAYBOOK", ""),
		OTELEndpoint:       envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:        envStr("OTEL_SERVICE_NAME", "chosa"),
		LogLevel:           envStr("CHOSA_LOG_LEVEL", "info"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and coherent.
func (c Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("config: CHOSA_GATEWAY_URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("config: CHOSA_MODEL is required")
	}
	if c.MaxConcurrentCalls <= 0 {
		return fmt.Errorf("config: CHOSA_MAX_CONCURRENT_CALLS must be positive")
	}
	if c.CallsPerMinute <= 0 {
		return fmt.Errorf("config: CHOSA_CALLS_PER_MINUTE must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: CHOSA_BATCH_SIZE must be positive")
	}
	if c.MaxIterations <= 0 {
		return fmt.Errorf("config: CHOSA_MAX_ITERATIONS must be positive")
	}
	switch c.PersistBackend {
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("config: CHOSA_SQLITE_PATH is required for the sqlite backend")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: DATABASE_URL is required for the postgres backend")
		}
	case "none":
	default:
		return fmt.Errorf("config: unknown persist backend %q", c.PersistBackend)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
