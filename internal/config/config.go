package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is loaded from defaults, then an optional YAML file named by
// CMEM_CONFIG, then environment variables. Later sources win.
type Config struct {
	Port      int    `yaml:"port"`
	DBPath    string `yaml:"db_path"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	APIKey    string `yaml:"api_key"`

	Agent     AgentConfig     `yaml:"agent"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Qdrant    QdrantConfig    `yaml:"qdrant"`
	Queue     QueueConfig     `yaml:"queue"`
	Retention RetentionConfig `yaml:"retention"`

	TraceBufferSize int `yaml:"trace_buffer_size"`
	EventBuffer     int `yaml:"event_buffer"`
}

type AgentConfig struct {
	Provider   string        `yaml:"provider"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Backoff    time.Duration `yaml:"backoff"`
}

type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Dimension  int           `yaml:"dimension"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	CacheBytes int64         `yaml:"cache_bytes"`
}

type QdrantConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

type QueueConfig struct {
	DrainMode       string        `yaml:"drain_mode"`
	Workers         int           `yaml:"workers"`
	PoolSize        int           `yaml:"pool_size"`
	StaleAfter      time.Duration `yaml:"stale_after"`
	RetryCap        int           `yaml:"retry_cap"`
	RecoverInterval time.Duration `yaml:"recover_interval"`
}

type RetentionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	Schedule       string        `yaml:"schedule"`
	DefaultTTLDays int           `yaml:"default_ttl_days"`
	SoftDeleteDays int           `yaml:"soft_delete_days"`
}

func defaults() *Config {
	return &Config{
		Port:      8741,
		DBPath:    defaultDBPath(),
		LogLevel:  "info",
		LogFormat: "json",
		Agent: AgentConfig{
			Provider:   "rules",
			Model:      "gpt-4o-mini",
			MaxTokens:  1024,
			Timeout:    60 * time.Second,
			MaxRetries: 2,
			Backoff:    time.Second,
		},
		Embedding: EmbeddingConfig{
			Provider:   "none",
			BaseURL:    "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimension:  768,
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			CacheBytes: 16 << 20,
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "cmem_memory",
		},
		Queue: QueueConfig{
			DrainMode:       "sync",
			Workers:         2,
			PoolSize:        256,
			StaleAfter:      5 * time.Minute,
			RetryCap:        3,
			RecoverInterval: time.Minute,
		},
		Retention: RetentionConfig{
			Enabled:        true,
			Interval:       6 * time.Hour,
			DefaultTTLDays: 90,
			SoftDeleteDays: 30,
		},
		TraceBufferSize: 200,
		EventBuffer:     64,
	}
}

// Load reads configuration. A missing CMEM_CONFIG means defaults plus env.
func Load() (*Config, error) {
	return LoadFile(os.Getenv("CMEM_CONFIG"))
}

// LoadFile is Load with an explicit YAML path; empty skips the file.
func LoadFile(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envInt("PORT", c.Port)
	c.DBPath = envStr("CMEM_DB_PATH", c.DBPath)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envStr("LOG_FORMAT", c.LogFormat)
	c.APIKey = envStr("CMEM_API_KEY", c.APIKey)

	c.Agent.Provider = envStr("AGENT_PROVIDER", c.Agent.Provider)
	c.Agent.Model = envStr("AGENT_MODEL", c.Agent.Model)
	c.Agent.BaseURL = envStr("AGENT_BASE_URL", c.Agent.BaseURL)
	c.Agent.MaxTokens = envInt("AGENT_MAX_TOKENS", c.Agent.MaxTokens)
	c.Agent.Timeout = envDuration("AGENT_TIMEOUT", c.Agent.Timeout)
	c.Agent.MaxRetries = envInt("AGENT_MAX_RETRIES", c.Agent.MaxRetries)
	c.Agent.Backoff = envDuration("AGENT_BACKOFF", c.Agent.Backoff)
	switch c.Agent.Provider {
	case "openai":
		c.Agent.APIKey = envStr("OPENAI_API_KEY", c.Agent.APIKey)
	case "anthropic":
		c.Agent.APIKey = envStr("ANTHROPIC_API_KEY", c.Agent.APIKey)
	}
	c.Agent.APIKey = envStr("AGENT_API_KEY", c.Agent.APIKey)

	c.Embedding.Provider = envStr("EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.BaseURL = envStr("EMBEDDING_BASE_URL", envStr("OLLAMA_BASE_URL", c.Embedding.BaseURL))
	c.Embedding.APIKey = envStr("EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Model = envStr("EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.Dimension = envInt("EMBEDDING_DIM", c.Embedding.Dimension)
	c.Embedding.Timeout = envDuration("EMBEDDING_TIMEOUT", c.Embedding.Timeout)
	c.Embedding.MaxRetries = envInt("EMBEDDING_MAX_RETRIES", c.Embedding.MaxRetries)

	c.Qdrant.Enabled = envBool("QDRANT_ENABLED", c.Qdrant.Enabled)
	c.Qdrant.Host = envStr("QDRANT_HOST", c.Qdrant.Host)
	c.Qdrant.Port = envInt("QDRANT_PORT", c.Qdrant.Port)
	c.Qdrant.APIKey = envStr("QDRANT_API_KEY", c.Qdrant.APIKey)
	c.Qdrant.UseTLS = envBool("QDRANT_TLS", c.Qdrant.UseTLS)
	c.Qdrant.Collection = envStr("QDRANT_COLLECTION", c.Qdrant.Collection)

	c.Queue.DrainMode = envStr("QUEUE_DRAIN_MODE", c.Queue.DrainMode)
	c.Queue.Workers = envInt("QUEUE_WORKERS", c.Queue.Workers)
	c.Queue.PoolSize = envInt("QUEUE_POOL_SIZE", c.Queue.PoolSize)
	c.Queue.StaleAfter = envDuration("QUEUE_STALE_AFTER", c.Queue.StaleAfter)
	c.Queue.RetryCap = envInt("QUEUE_RETRY_CAP", c.Queue.RetryCap)
	c.Queue.RecoverInterval = envDuration("QUEUE_RECOVER_INTERVAL", c.Queue.RecoverInterval)

	c.Retention.Enabled = envBool("RETENTION_ENABLED", c.Retention.Enabled)
	c.Retention.Interval = envDuration("RETENTION_INTERVAL", c.Retention.Interval)
	c.Retention.Schedule = envStr("RETENTION_SCHEDULE", c.Retention.Schedule)
	c.Retention.DefaultTTLDays = envInt("RETENTION_DEFAULT_TTL_DAYS", c.Retention.DefaultTTLDays)
	c.Retention.SoftDeleteDays = envInt("RETENTION_SOFT_DELETE_DAYS", c.Retention.SoftDeleteDays)

	c.TraceBufferSize = envInt("SEARCH_TRACE_BUFFER", c.TraceBufferSize)
	c.EventBuffer = envInt("EVENT_BUFFER", c.EventBuffer)
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("CMEM_DB_PATH must not be empty")
	}
	switch c.Agent.Provider {
	case "", "rules":
	case "openai":
		// A custom base URL points at a local compatible server that needs no key.
		if c.Agent.APIKey == "" && c.Agent.BaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or AGENT_BASE_URL is required for the openai provider")
		}
	case "anthropic":
		if c.Agent.APIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	default:
		return fmt.Errorf("AGENT_PROVIDER must be rules, openai or anthropic, got %q", c.Agent.Provider)
	}
	switch c.Embedding.Provider {
	case "", "none", "ollama", "openai":
	default:
		return fmt.Errorf("EMBEDDING_PROVIDER must be none, ollama or openai, got %q", c.Embedding.Provider)
	}
	if c.Embedding.Dimension < 0 {
		return fmt.Errorf("EMBEDDING_DIM must not be negative, got %d", c.Embedding.Dimension)
	}
	if c.Queue.DrainMode != "sync" && c.Queue.DrainMode != "async" {
		return fmt.Errorf("QUEUE_DRAIN_MODE must be sync or async, got %q", c.Queue.DrainMode)
	}
	if c.Queue.RetryCap < 1 {
		return fmt.Errorf("QUEUE_RETRY_CAP must be positive, got %d", c.Queue.RetryCap)
	}
	if c.Retention.DefaultTTLDays < 1 {
		return fmt.Errorf("RETENTION_DEFAULT_TTL_DAYS must be positive, got %d", c.Retention.DefaultTTLDays)
	}
	if c.Retention.SoftDeleteDays < 1 {
		return fmt.Errorf("RETENTION_SOFT_DELETE_DAYS must be positive, got %d", c.Retention.SoftDeleteDays)
	}
	if c.Retention.Enabled && c.Retention.Schedule == "" && c.Retention.Interval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be positive when retention is enabled")
	}
	return nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "cmem.db"
	}
	return filepath.Join(home, ".cmem", "cmem.db")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
