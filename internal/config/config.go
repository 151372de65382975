// Package config provides configuration management for metacluster.
// It loads settings from environment variables with the METACLUSTER_ prefix,
// optionally overlays a YAML file, and provides sensible defaults for all
// configuration options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for a reduction run.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	LLM     LLMConfig     `yaml:"llm"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// EngineConfig contains the reduction engine knobs.
type EngineConfig struct {
	MaxClusters            int           `yaml:"max_clusters"`             // Target root count (default: 10)
	MaxRounds              int           `yaml:"max_rounds"`               // Round bound (default: 10)
	FuzzyThreshold         float64       `yaml:"fuzzy_threshold"`          // Reconciler threshold in [0,1] (default: 0.9)
	ConcurrencyLimit       int           `yaml:"concurrency_limit"`        // In-flight generative calls per round (default: 50)
	ResolverRetryBudget    int           `yaml:"resolver_retry_budget"`    // Attempts per cluster (default: 3)
	RoundRetryBudget       int           `yaml:"round_retry_budget"`       // Attempts per round (default: 2)
	ProposerRetryBudget    int           `yaml:"proposer_retry_budget"`    // Attempts per proposer batch (default: 3)
	ProposerBatchSize      int           `yaml:"proposer_batch_size"`      // Clusters per proposer call (default: 40)
	MinProposerBatch       int           `yaml:"min_proposer_batch"`       // Smallest batch that may still be split (default: 4)
	ReductionRatio         float64       `yaml:"reduction_ratio"`          // Per-round target ratio (default: 0.5)
	CallTimeout            time.Duration `yaml:"call_timeout"`             // Per-call timeout (default: 45s)
	RepresentativeExamples int           `yaml:"representative_examples"` // Summaries shown to the resolver (default: 3)
	SynthesizeParents      bool          `yaml:"synthesize_parents"`       // Rename parents from their children (default: false)
}

// LLMConfig contains generative model provider configuration.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`            // openai, ollama, anthropic (default: openai)
	OpenAIAPIKey      string        `yaml:"openai_api_key"`      // OpenAI API key
	OpenAIModel       string        `yaml:"openai_model"`        // default: gpt-4o-mini
	OpenAIBaseURL     string        `yaml:"openai_base_url"`     // Optional OpenAI-compatible endpoint
	OllamaURL         string        `yaml:"ollama_url"`          // default: http://localhost:11434
	OllamaModel       string        `yaml:"ollama_model"`        // default: qwen2.5:7b
	AnthropicAPIKey   string        `yaml:"anthropic_api_key"`   // Anthropic API key
	AnthropicModel    string        `yaml:"anthropic_model"`     // default: claude-haiku-4-5-20251001
	EmbeddingModel    string        `yaml:"embedding_model"`     // Empty disables embedding of roots without centroids
	RequestsPerSecond float64       `yaml:"requests_per_second"` // 0 disables client-side rate limiting
	Burst             int           `yaml:"burst"`               // Limiter burst (default: 5)
	MaxRetries        int           `yaml:"max_retries"`         // Transport retries per call (default: 3)
	Timeout           time.Duration `yaml:"timeout"`             // HTTP client timeout (default: 60s)
	MaxOutputTokens   int           `yaml:"max_output_tokens"`   // default: 4096
}

// StorageConfig contains output storage configuration.
type StorageConfig struct {
	Engine      string `yaml:"engine"`       // jsonl, sqlite, postgres (default: jsonl)
	DataPath    string `yaml:"data_path"`    // Directory for jsonl and sqlite output (default: ./data)
	PostgresDSN string `yaml:"postgres_dsn"` // Required when Engine is postgres
}

// LoggingConfig contains logger configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
}

// MetricsConfig contains Prometheus exposition configuration.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // Listen address for /metrics; empty disables it
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// All environment variables use the METACLUSTER_ prefix.
func LoadConfig() (*Config, error) {
	cfg := buildBaseConfig()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFile loads the environment configuration and overlays the YAML
// file at path on top of it. Keys absent from the file keep their
// environment or default value.
func LoadConfigFile(path string) (*Config, error) {
	cfg := buildBaseConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. It returns all problems joined together.
func (c *Config) Validate() error {
	var errs []error
	e := c.Engine

	if e.MaxClusters < 1 {
		errs = append(errs, fmt.Errorf("engine.max_clusters must be >= 1, got %d", e.MaxClusters))
	}
	if e.MaxRounds < 0 {
		errs = append(errs, fmt.Errorf("engine.max_rounds must be >= 0, got %d", e.MaxRounds))
	}
	if e.FuzzyThreshold < 0 || e.FuzzyThreshold > 1 {
		errs = append(errs, fmt.Errorf("engine.fuzzy_threshold must be within [0,1], got %v", e.FuzzyThreshold))
	}
	if e.ConcurrencyLimit < 1 {
		errs = append(errs, fmt.Errorf("engine.concurrency_limit must be >= 1, got %d", e.ConcurrencyLimit))
	}
	if e.ResolverRetryBudget < 1 || e.RoundRetryBudget < 1 || e.ProposerRetryBudget < 1 {
		errs = append(errs, errors.New("engine retry budgets must be >= 1"))
	}
	if e.ProposerBatchSize < 2 {
		errs = append(errs, fmt.Errorf("engine.proposer_batch_size must be >= 2, got %d", e.ProposerBatchSize))
	}
	if e.MinProposerBatch < 1 {
		errs = append(errs, fmt.Errorf("engine.min_proposer_batch must be >= 1, got %d", e.MinProposerBatch))
	}
	if e.ReductionRatio <= 0 || e.ReductionRatio >= 1 {
		errs = append(errs, fmt.Errorf("engine.reduction_ratio must be within (0,1), got %v", e.ReductionRatio))
	}
	if e.CallTimeout <= 0 {
		errs = append(errs, errors.New("engine.call_timeout must be positive"))
	}

	switch c.LLM.Provider {
	case "openai", "ollama", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("llm.requests_per_second must not be negative"))
	}

	switch c.Storage.Engine {
	case "jsonl", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.engine %q is not supported", c.Storage.Engine))
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not supported", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// buildBaseConfig constructs a Config with values from environment variables
// and defaults.
func buildBaseConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxClusters:            getEnvInt("METACLUSTER_MAX_CLUSTERS", 10),
			MaxRounds:              getEnvInt("METACLUSTER_MAX_ROUNDS", 10),
			FuzzyThreshold:         getEnvFloat("METACLUSTER_FUZZY_THRESHOLD", 0.9),
			ConcurrencyLimit:       getEnvInt("METACLUSTER_CONCURRENCY_LIMIT", 50),
			ResolverRetryBudget:    getEnvInt("METACLUSTER_RESOLVER_RETRY_BUDGET", 3),
			RoundRetryBudget:       getEnvInt("METACLUSTER_ROUND_RETRY_BUDGET", 2),
			ProposerRetryBudget:    getEnvInt("METACLUSTER_PROPOSER_RETRY_BUDGET", 3),
			ProposerBatchSize:      getEnvInt("METACLUSTER_PROPOSER_BATCH_SIZE", 40),
			MinProposerBatch:       getEnvInt("METACLUSTER_MIN_PROPOSER_BATCH", 4),
			ReductionRatio:         getEnvFloat("METACLUSTER_REDUCTION_RATIO", 0.5),
			CallTimeout:            getEnvDuration("METACLUSTER_CALL_TIMEOUT", 45*time.Second),
			RepresentativeExamples: getEnvInt("METACLUSTER_REPRESENTATIVE_EXAMPLES", 3),
			SynthesizeParents:      getEnvBool("METACLUSTER_SYNTHESIZE_PARENTS", false),
		},
		LLM: LLMConfig{
			Provider:          getEnv("METACLUSTER_LLM_PROVIDER", "openai"),
			OpenAIAPIKey:      getEnv("METACLUSTER_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY")),
			OpenAIModel:       getEnv("METACLUSTER_OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL:     getEnv("METACLUSTER_OPENAI_BASE_URL", ""),
			OllamaURL:         getEnv("METACLUSTER_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:       getEnv("METACLUSTER_OLLAMA_MODEL", "qwen2.5:7b"),
			AnthropicAPIKey:   getEnv("METACLUSTER_ANTHROPIC_API_KEY", ""),
			AnthropicModel:    getEnv("METACLUSTER_ANTHROPIC_MODEL", "claude-haiku-4-5-20251001"),
			EmbeddingModel:    getEnv("METACLUSTER_EMBEDDING_MODEL", ""),
			RequestsPerSecond: getEnvFloat("METACLUSTER_REQUESTS_PER_SECOND", 0),
			Burst:             getEnvInt("METACLUSTER_BURST", 5),
			MaxRetries:        getEnvInt("METACLUSTER_MAX_RETRIES", 3),
			Timeout:           getEnvDuration("METACLUSTER_LLM_TIMEOUT", 60*time.Second),
			MaxOutputTokens:   getEnvInt("METACLUSTER_MAX_OUTPUT_TOKENS", 4096),
		},
		Storage: StorageConfig{
			Engine:      getEnv("METACLUSTER_STORAGE_ENGINE", "jsonl"),
			DataPath:    getEnv("METACLUSTER_DATA_PATH", "./data"),
			PostgresDSN: getEnv("METACLUSTER_POSTGRES_DSN", ""),
		},
		Logging: LoggingConfig{
			Level: getEnv("METACLUSTER_LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METACLUSTER_METRICS_ADDR", ""),
		},
	}
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable ("45s", "2m") or
// returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultValue
}
