package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the chat gateway service
type Config struct {
	// Server
	Port           string        `envconfig:"PORT" default:"8002"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"90s"`

	// Tool server (MCP)
	MCPServerURL string        `envconfig:"MCP_SERVER_URL"`
	MCPTimeout   time.Duration `envconfig:"MCP_TIMEOUT" default:"30s"`
	MCPRateLimit float64       `envconfig:"MCP_RATE_LIMIT" default:"8"`
	MCPRateBurst int           `envconfig:"MCP_RATE_BURST" default:"4"`

	// LLM planner
	OpenAIAPIKey  string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string        `envconfig:"OPENAI_BASE_URL"`
	OpenAIModel   string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	LLMTimeout    time.Duration `envconfig:"LLM_TIMEOUT" default:"60s"`

	// Orchestration
	DispatchWorkers int           `envconfig:"DISPATCH_WORKERS" default:"4"`
	CatalogTTL      time.Duration `envconfig:"CATALOG_TTL" default:"15m"`

	// Resilience
	CircuitBreakerMaxFailures  int           `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout time.Duration `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30s"`
	RetryMaxAttempts           int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"2"`
	RetryInitialBackoff        time.Duration `envconfig:"RETRY_INITIAL_BACKOFF" default:"200ms"`

	// Observability
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// fileConfig is the optional YAML file shape; it only provides defaults for
// values the environment leaves unset.
type fileConfig struct {
	MCP struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"mcp"`
	LLM struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"llm"`
}

// Load reads .env if present, then builds configuration from the environment
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv builds configuration from environment variables, layering in
// file defaults from GATEWAY_CONFIG_FILE (default configs/gateway.yaml) for
// settings the environment does not provide. Precedence: env, file, defaults.
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}

	if err := applyFileDefaults(&cfg); err != nil {
		return nil, err
	}

	if cfg.MCPServerURL == "" {
		return nil, fmt.Errorf("MCP_SERVER_URL is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.DispatchWorkers < 1 {
		return nil, fmt.Errorf("DISPATCH_WORKERS must be at least 1, got %d", cfg.DispatchWorkers)
	}

	return &cfg, nil
}

func applyFileDefaults(cfg *Config) error {
	path := GetEnv("GATEWAY_CONFIG_FILE", "configs/gateway.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	// The file never overrides an explicitly set environment variable
	if _, set := os.LookupEnv("MCP_SERVER_URL"); !set && fc.MCP.URL != "" {
		cfg.MCPServerURL = fc.MCP.URL
	}
	if _, set := os.LookupEnv("MCP_TIMEOUT"); !set && fc.MCP.Timeout > 0 {
		cfg.MCPTimeout = fc.MCP.Timeout
	}
	if _, set := os.LookupEnv("OPENAI_BASE_URL"); !set && fc.LLM.BaseURL != "" {
		cfg.OpenAIBaseURL = fc.LLM.BaseURL
	}
	if _, set := os.LookupEnv("OPENAI_MODEL"); !set && fc.LLM.Model != "" {
		cfg.OpenAIModel = fc.LLM.Model
	}

	return nil
}

// GetEnv returns an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
