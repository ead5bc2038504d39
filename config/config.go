// Package config provides configuration management for the Colloquy dialogue
// server. It covers the HTTP listener, the upstream completion endpoint, the
// dialogue store, the execution pools and logging.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Completion CompletionConfig `yaml:"completion"`
	Store      StoreConfig      `yaml:"store"`
	Pools      PoolsConfig      `yaml:"pools"`
	Validation ValidationConfig `yaml:"validation"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server-specific configuration for the HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 8080)
	Port int `yaml:"port"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the response.
	// It must leave room for the upstream completion call (default: 120s)
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// ShutdownTimeout specifies how long to wait for the server to shutdown
	// gracefully before forcing termination (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// AllowedOrigins lists CORS origins. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// CompletionConfig describes the upstream chat completion endpoint.
type CompletionConfig struct {
	// Endpoint is the full URL the request is POSTed to
	Endpoint string `yaml:"endpoint"`

	// APIKey is sent as a bearer token.
	// Use environment variables (e.g., ${OPENAI_API_KEY}) for secure configuration
	APIKey string `yaml:"api_key"`

	// Model is placed verbatim in the request body
	Model string `yaml:"model"`

	// Timeout bounds a single upstream call. Zero disables it.
	Timeout time.Duration `yaml:"timeout"`

	// CircuitBreaker optionally short-circuits calls while the endpoint is unreachable
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the optional breaker in front of the completion endpoint.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled"`

	// MaxRequests is maximum number of requests allowed to pass through when in half-open state
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state for the circuit breaker
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures needed to trip the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// StoreConfig selects and configures the dialogue store.
type StoreConfig struct {
	// Driver is "memory" or "postgres"
	Driver string `yaml:"driver"`

	// URL is the postgres connection string
	URL string `yaml:"url"`

	// MaxConns caps the pgx pool size. Zero keeps the pgx default.
	MaxConns int32 `yaml:"max_conns"`

	// SlowMs marks queries slower than this as slow in the logs. Zero disables it.
	SlowMs int `yaml:"slow_ms"`
}

// PoolsConfig sizes the two execution pools. Network I/O and persistence
// I/O never share slots.
type PoolsConfig struct {
	Network int64 `yaml:"network"`
	Storage int64 `yaml:"storage"`
}

// ValidationConfig controls entry-boundary checks on submitted queries.
type ValidationConfig struct {
	// MaxTokens rejects queries whose instruction and question together exceed it.
	// Zero disables token counting.
	MaxTokens int `yaml:"max_tokens"`

	// TokenizerModel picks the tiktoken encoding (default: completion model)
	TokenizerModel string `yaml:"tokenizer_model"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level"`

	// Format specifies log output format: json or text
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration that works out of the box against
// the OpenAI chat completion endpoint with an in-memory store.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},

		Completion: CompletionConfig{
			Endpoint: "https://api.openai.com/v1/chat/completions",
			Model:    "gpt-3.5-turbo",
			Timeout:  0, // no timeout unless an operator opts in
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          false,
				MaxRequests:      1,
				Interval:         60 * time.Second,
				Timeout:          30 * time.Second,
				FailureThreshold: 5,
			},
		},

		Store: StoreConfig{
			Driver: "memory",
			SlowMs: 200,
		},

		Pools: PoolsConfig{
			Network: 32,
			Storage: 16,
		},

		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
			Burst:             10,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFile loads configuration from a YAML file
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// expandEnvVars resolves environment variable references in the raw YAML.
// Both ${VAR} and ${VAR:-default} are supported; the default applies when
// VAR is unset or empty.
//
//   - "${DB_HOST}" → "localhost"
//   - "${PORT:-8080}" → "8080" (if PORT is unset)
//   - "${HOST}/${PATH}" → "api.example.com/v1"
func expandEnvVars(s string) (string, error) {
	if strings.Count(s, "${") > strings.Count(s, "}") {
		return "", fmt.Errorf("invalid syntax: unterminated variable reference")
	}

	result := os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	})

	return result, nil
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expandedData, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	// Start with defaults
	config := DefaultConfig()

	// Decode YAML on top of defaults; an empty document keeps them as-is
	if strings.TrimSpace(expandedData) != "" {
		dec := yaml.NewDecoder(strings.NewReader(expandedData))
		if err := dec.Decode(config); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if config.Completion.APIKey == "" {
		config.Completion.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if config.Validation.TokenizerModel == "" {
		config.Validation.TokenizerModel = config.Completion.Model
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Server validation
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.MaxHeaderBytes < 0 {
		return fmt.Errorf("negative max header bytes: %d", c.Server.MaxHeaderBytes)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}

	// Completion validation
	if c.Completion.Endpoint == "" {
		return fmt.Errorf("empty completion endpoint")
	}
	if c.Completion.Model == "" {
		return fmt.Errorf("empty completion model")
	}
	if c.Completion.Timeout < 0 {
		return fmt.Errorf("negative completion timeout: %v", c.Completion.Timeout)
	}
	if cb := c.Completion.CircuitBreaker; cb.Enabled && cb.FailureThreshold == 0 {
		return fmt.Errorf("circuit breaker enabled with zero failure threshold")
	}

	// Store validation
	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.URL == "" {
			return fmt.Errorf("postgres store requires a url")
		}
	default:
		return fmt.Errorf("invalid store driver: %q", c.Store.Driver)
	}
	if c.Store.MaxConns < 0 {
		return fmt.Errorf("negative store max conns: %d", c.Store.MaxConns)
	}

	// Pool validation
	if c.Pools.Network <= 0 {
		return fmt.Errorf("network pool size must be positive: %d", c.Pools.Network)
	}
	if c.Pools.Storage <= 0 {
		return fmt.Errorf("storage pool size must be positive: %d", c.Pools.Storage)
	}

	if c.Validation.MaxTokens < 0 {
		return fmt.Errorf("negative max tokens: %d", c.Validation.MaxTokens)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerMinute <= 0 || c.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit enabled with non-positive rate or burst")
	}

	// Logging validation
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "json", "text":
		// Valid formats
	default:
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	return nil
}
