package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Verifier VerifierConfig `yaml:"verifier"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Limits   LimitsConfig   `yaml:"limits"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	// Allow override via environment
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// StoreConfig selects the persistence backend for the three keyspaces.
// Type is "redis" or "memory"; the memory store is an in-process fake
// intended for local development and tests.
type StoreConfig struct {
	Type string `yaml:"type"`
}

// RedisConfig holds the connection URLs for the three logical keyspaces.
// Each may point at a separate Redis database; Data and Responses fall
// back to the snippets URL when empty.
type RedisConfig struct {
	SnippetsURL  string `yaml:"snippets_url"`
	DataURL      string `yaml:"data_url"`
	ResponsesURL string `yaml:"responses_url"`
}

// VerifierConfig holds the external email verification API configuration
type VerifierConfig struct {
	URL            string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c VerifierConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// WorkflowConfig holds the durable step engine and chunking settings
type WorkflowConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	MaxAttempts  int `yaml:"max_attempts"`
	Workers      int `yaml:"workers"`
	RetryBaseMS  int `yaml:"retry_base_ms"`
	MaxRedeliver int `yaml:"max_redeliver"`
}

// RetryBase returns the base backoff delay between verifier attempts
func (c WorkflowConfig) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMS) * time.Millisecond
}

// LimitsConfig holds per-job input constraints
type LimitsConfig struct {
	MaxEmails       int `yaml:"max_emails"`
	MaxPayloadBytes int `yaml:"max_payload_bytes"`
}

// ArchiveConfig holds optional S3 archival of completed reports
type ArchiveConfig struct {
	Enabled    bool   `yaml:"enabled"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Region   string `yaml:"s3_region"`
	AWSProfile string `yaml:"aws_profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c ArchiveConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	// On ECS/Lambda, don't use a profile - use IAM role
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// Default returns a configuration with all defaults applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = "redis"
	}
	if cfg.Redis.SnippetsURL == "" {
		cfg.Redis.SnippetsURL = "redis://localhost:6379/0"
	}
	if cfg.Redis.DataURL == "" {
		cfg.Redis.DataURL = cfg.Redis.SnippetsURL
	}
	if cfg.Redis.ResponsesURL == "" {
		cfg.Redis.ResponsesURL = cfg.Redis.SnippetsURL
	}
	if cfg.Verifier.TimeoutSeconds == 0 {
		cfg.Verifier.TimeoutSeconds = 300
	}
	if cfg.Workflow.ChunkSize == 0 {
		cfg.Workflow.ChunkSize = 250
	}
	if cfg.Workflow.MaxAttempts == 0 {
		cfg.Workflow.MaxAttempts = 4
	}
	if cfg.Workflow.Workers == 0 {
		cfg.Workflow.Workers = 2
	}
	if cfg.Workflow.RetryBaseMS == 0 {
		cfg.Workflow.RetryBaseMS = 5000
	}
	if cfg.Workflow.MaxRedeliver == 0 {
		cfg.Workflow.MaxRedeliver = 3
	}
	if cfg.Limits.MaxEmails == 0 {
		cfg.Limits.MaxEmails = 100000
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits.MaxPayloadBytes = 99 * 1024 * 1024 / 10 // 9.9 MB
	}
	if cfg.Archive.S3Region == "" {
		cfg.Archive.S3Region = "us-west-2"
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	// Override with environment variables if present
	if v := os.Getenv("USER_LIST_SNIPPETS_REDIS_URL"); v != "" {
		cfg.Redis.SnippetsURL = v
	}
	if v := os.Getenv("USER_LISTS_DATA_URL"); v != "" {
		cfg.Redis.DataURL = v
	}
	if v := os.Getenv("USER_VALIDATION_JOB_RESPONSES_URL"); v != "" {
		cfg.Redis.ResponsesURL = v
	}
	if v := os.Getenv("HTTP_VALIDATION_URL"); v != "" {
		cfg.Verifier.URL = v
	}
	if v := os.Getenv("STORE_TYPE"); v != "" {
		cfg.Store.Type = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
	}
	if v := os.Getenv("ARCHIVE_S3_REGION"); v != "" {
		cfg.Archive.S3Region = v
	}

	return cfg, nil
}
