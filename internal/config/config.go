// Package config loads the service configuration from a YAML file with
// environment overrides for secrets. A .env file in the working
// directory is honored for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the callwatch service.
type Config struct {
	// LLM configures the model provider used for relevance matching
	// and transcript grading.
	LLM LLMConfig `yaml:"llm" validate:"required"`
	// Database is the PostgreSQL connection settings.
	Database DatabaseConfig `yaml:"database" validate:"required"`
	// Queue is the Kafka consumer settings for the ingestion topic.
	Queue QueueConfig `yaml:"queue" validate:"required"`
	// Transcription configures the external transcription service.
	Transcription ServiceConfig `yaml:"transcription" validate:"required"`
	// Recordings configures the audio storage service.
	Recordings ServiceConfig `yaml:"recordings" validate:"required"`
	// Billing configures the usage metering service. Optional: when the
	// base URL is empty, billing is disabled.
	Billing ServiceConfig `yaml:"billing"`
	// Pipeline tunes call processing behavior.
	Pipeline PipelineConfig `yaml:"pipeline"`
	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LLMConfig selects the model provider and its operational limits.
type LLMConfig struct {
	// Provider is the model backend to use.
	Provider string `yaml:"provider" validate:"required,oneof=openai anthropic"`
	// Model overrides the provider's default model when set.
	Model string `yaml:"model"`
	// APIKey is the provider credential. Prefer the LLM_API_KEY
	// environment variable over placing it in the file.
	APIKey string `yaml:"api_key" validate:"required"`
	// BaseURL overrides the provider endpoint, for proxies and tests.
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	// Timeout bounds a single model request.
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
	// MaxRetries is the number of retry attempts on transient failures.
	MaxRetries int `yaml:"max_retries" validate:"min=0,max=10"`
	// RequestsPerSecond rate-limits outbound model calls. Zero disables
	// the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
}

// DatabaseConfig is the PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is a pgx connection string. Prefer the DATABASE_URL
	// environment variable over placing credentials in the file.
	URL string `yaml:"url" validate:"required"`
}

// QueueConfig is the Kafka settings for the call ingestion topic.
type QueueConfig struct {
	Brokers []string `yaml:"brokers" validate:"required,min=1,dive,required"`
	Topic   string   `yaml:"topic" validate:"required"`
	GroupID string   `yaml:"group_id" validate:"required"`
	// MaxConcurrency caps the number of calls processed at once.
	MaxConcurrency int `yaml:"max_concurrency" validate:"min=1,max=100"`
}

// ServiceConfig is the shared shape for the HTTP collaborator services.
type ServiceConfig struct {
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// PipelineConfig tunes call processing behavior.
type PipelineConfig struct {
	// DeepLinkBaseURL is the dashboard origin used to build call links
	// in webhooks and alert notifications.
	DeepLinkBaseURL string `yaml:"deep_link_base_url" validate:"omitempty,url"`
}

// MetricsConfig configures the Prometheus scrape endpoint.
type MetricsConfig struct {
	// Addr is the listen address for /metrics. Empty disables the
	// endpoint.
	Addr string `yaml:"addr"`
}

// Load reads the YAML file at path, applies environment overrides, and
// validates the result. Path may be empty when the environment supplies
// everything.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		LLM: LLMConfig{
			Provider:   "openai",
			Timeout:    2 * time.Minute,
			MaxRetries: 3,
		},
		Queue: QueueConfig{
			MaxConcurrency: 5,
		},
	}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.LLM.Provider, "LLM_PROVIDER")
	overrideString(&cfg.LLM.Model, "LLM_MODEL")
	overrideString(&cfg.LLM.APIKey, "LLM_API_KEY")
	overrideString(&cfg.LLM.BaseURL, "LLM_BASE_URL")
	overrideString(&cfg.Database.URL, "DATABASE_URL")
	overrideString(&cfg.Queue.Topic, "QUEUE_TOPIC")
	overrideString(&cfg.Queue.GroupID, "QUEUE_GROUP_ID")
	overrideString(&cfg.Transcription.BaseURL, "TRANSCRIPTION_BASE_URL")
	overrideString(&cfg.Transcription.APIKey, "TRANSCRIPTION_API_KEY")
	overrideString(&cfg.Recordings.BaseURL, "RECORDINGS_BASE_URL")
	overrideString(&cfg.Recordings.APIKey, "RECORDINGS_API_KEY")
	overrideString(&cfg.Billing.BaseURL, "BILLING_BASE_URL")
	overrideString(&cfg.Billing.APIKey, "BILLING_API_KEY")
	overrideString(&cfg.Pipeline.DeepLinkBaseURL, "DEEP_LINK_BASE_URL")
	overrideString(&cfg.Metrics.Addr, "METRICS_ADDR")

	if brokers := os.Getenv("QUEUE_BROKERS"); brokers != "" {
		var list []string
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				list = append(list, b)
			}
		}
		cfg.Queue.Brokers = list
	}
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
