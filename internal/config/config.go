package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Operation names accepted in the timeout overlay. They match the pipeline
// operation names one to one.
const (
	OpLogin        = "login"
	OpRegister     = "register"
	OpDashboard    = "dashboard"
	OpHealthScore  = "health_score"
	OpOptimization = "optimization"
	OpMotivation   = "motivation"
	OpAdvice       = "advice"
	OpCreateBudget = "create_budget"
	OpCreateGoal   = "create_goal"
)

// KnownOperations lists every operation that can carry its own timeout.
var KnownOperations = []string{
	OpLogin, OpRegister, OpDashboard, OpHealthScore, OpOptimization,
	OpMotivation, OpAdvice, OpCreateBudget, OpCreateGoal,
}

type Config struct {
	// HTTP facade
	Port string

	// Upstream backend
	APIBaseURL string

	// Timeout budgets
	AuthTimeout     time.Duration
	DefaultTimeout  time.Duration
	AdvisoryTimeout time.Duration
	AdviceTimeout   time.Duration

	// Per-operation overrides from the YAML overlay
	OperationTimeouts map[string]time.Duration

	// Outbound limiter, 0 disables
	OutboundRPS   float64
	OutboundBurst int

	// Credential persistence
	SQLiteDBPath  string
	SessionSecret string

	// AMQP
	AMQPURL      string
	AMQPExchange string

	// Logging
	LogLevel  string
	LogFormat string

	// Overlay file, if any
	ConfigFile string
}

// fileConfig is the YAML overlay shape.
type fileConfig struct {
	APIBaseURL string            `yaml:"api_base_url"`
	Timeouts   map[string]string `yaml:"timeouts"`
}

func Load() *Config {
	cfg := &Config{
		Port:       getEnv("PORT", "8090"),
		APIBaseURL: getEnv("API_BASE_URL", "http://localhost:8000/api/v1"),

		AuthTimeout:     getEnvDuration("AUTH_TIMEOUT", 10*time.Second),
		DefaultTimeout:  getEnvDuration("DEFAULT_TIMEOUT", 15*time.Second),
		AdvisoryTimeout: getEnvDuration("ADVISORY_TIMEOUT", 30*time.Second),
		AdviceTimeout:   getEnvDuration("ADVICE_TIMEOUT", 60*time.Second),

		OperationTimeouts: map[string]time.Duration{},

		OutboundRPS:   getEnvFloat("OUTBOUND_RPS", 0),
		OutboundBurst: getEnvInt("OUTBOUND_BURST", 5),

		SQLiteDBPath:  getEnv("SQLITE_DB_PATH", "./data/finadvisor.db"),
		SessionSecret: getEnv("SESSION_SECRET", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "finadvisor"),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		ConfigFile: getEnv("FINADVISOR_CONFIG", ""),
	}

	return cfg
}

// LoadFile applies the YAML overlay at path on top of c. Unknown operation
// names and unparsable durations are reported, not ignored.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.APIBaseURL != "" {
		c.APIBaseURL = fc.APIBaseURL
	}
	if c.OperationTimeouts == nil {
		c.OperationTimeouts = map[string]time.Duration{}
	}
	for op, raw := range fc.Timeouts {
		if !isKnownOperation(op) {
			return fmt.Errorf("config file %s: unknown operation %q", path, op)
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("config file %s: timeout for %s: %w", path, op, err)
		}
		c.OperationTimeouts[op] = d
	}
	return nil
}

// Timeout returns the budget for an operation: the overlay value if set,
// otherwise the class default the operation belongs to.
func (c *Config) Timeout(op string) time.Duration {
	if d, ok := c.OperationTimeouts[op]; ok {
		return d
	}
	switch op {
	case OpLogin:
		return c.AuthTimeout
	case OpHealthScore, OpOptimization, OpMotivation:
		return c.AdvisoryTimeout
	case OpAdvice:
		return c.AdviceTimeout
	default:
		return c.DefaultTimeout
	}
}

// SessionKey decodes SessionSecret. It returns nil when no secret is set.
func (c *Config) SessionKey() (*[32]byte, error) {
	if c.SessionSecret == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(c.SessionSecret)
	if err != nil {
		return nil, fmt.Errorf("decode session secret: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("session secret must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	// Validate port
	if port, err := strconv.Atoi(c.Port); err != nil {
		errors = append(errors, fmt.Sprintf("invalid port '%s': must be a number", c.Port))
	} else if port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	// Validate upstream URL
	if c.APIBaseURL == "" {
		errors = append(errors, "API base URL cannot be empty")
	} else if parsedURL, err := url.Parse(c.APIBaseURL); err != nil {
		errors = append(errors, fmt.Sprintf("invalid API base URL '%s': %v", c.APIBaseURL, err))
	} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		errors = append(errors, fmt.Sprintf("invalid API base URL scheme '%s': must be 'http' or 'https'", parsedURL.Scheme))
	}

	// Validate timeouts
	budgets := []struct {
		name string
		d    time.Duration
	}{
		{"auth", c.AuthTimeout},
		{"default", c.DefaultTimeout},
		{"advisory", c.AdvisoryTimeout},
		{"advice", c.AdviceTimeout},
	}
	for _, b := range budgets {
		if b.d <= 0 {
			errors = append(errors, fmt.Sprintf("invalid %s timeout %v: must be positive", b.name, b.d))
		}
	}
	for op, d := range c.OperationTimeouts {
		if d <= 0 {
			errors = append(errors, fmt.Sprintf("invalid timeout %v for operation %s: must be positive", d, op))
		}
	}

	// Validate limiter
	if c.OutboundRPS < 0 {
		errors = append(errors, fmt.Sprintf("invalid outbound rps %v: must not be negative", c.OutboundRPS))
	}
	if c.OutboundRPS > 0 && c.OutboundBurst < 1 {
		errors = append(errors, fmt.Sprintf("invalid outbound burst %d: must be at least 1", c.OutboundBurst))
	}

	// Validate session secret
	if _, err := c.SessionKey(); err != nil {
		errors = append(errors, fmt.Sprintf("invalid session secret: %v", err))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
	}

	// Validate logging
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func isKnownOperation(op string) bool {
	for _, known := range KnownOperations {
		if op == known {
			return true
		}
	}
	return false
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
