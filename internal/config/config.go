// Package config provides configuration loading and structs for the jinzai service.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Search    SearchConfig    `yaml:"search"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Inbox     InboxConfig     `yaml:"inbox"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// StorageConfig holds the record store location.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Type is "onnx" or "mock".
	Type       string   `yaml:"type"`
	ModelPath  string   `yaml:"model_path"`
	Dimensions int      `yaml:"dimensions"`
	MaxTokens  int      `yaml:"max_tokens"`
	CacheSize  int      `yaml:"cache_size"`
	Timeout    Duration `yaml:"timeout"`
	// RateLimit is the maximum embed calls per second; 0 means unlimited.
	RateLimit   float64 `yaml:"rate_limit"`
	InitRetries int     `yaml:"init_retries"`
}

// SearchConfig holds query defaults and limits.
type SearchConfig struct {
	DefaultTopK         int      `yaml:"default_top_k"`
	MaxTopK             int      `yaml:"max_top_k"`
	SimilarityThreshold *float64 `yaml:"similarity_threshold"`
	Workers             int      `yaml:"workers"`
	SlowQueryThreshold  Duration `yaml:"slow_query_threshold"`
	RecordQueries       *bool    `yaml:"record_queries"`
	// RefreshInterval is how often the server checks the store for records written by
	// other processes and reloads its index when they changed.
	RefreshInterval Duration `yaml:"refresh_interval"`
}

// Threshold returns the configured similarity threshold, or 0.3 when unset.
func (s *SearchConfig) Threshold() float64 {
	if s.SimilarityThreshold != nil {
		return *s.SimilarityThreshold
	}
	return defaultThreshold
}

// RecordQueriesOrDefault returns whether searches are persisted for analytics; defaults to true.
func (s *SearchConfig) RecordQueriesOrDefault() bool {
	if s.RecordQueries != nil {
		return *s.RecordQueries
	}
	return true
}

// IngestionConfig holds batch pipeline settings.
type IngestionConfig struct {
	BatchSize        int      `yaml:"batch_size"`
	MaxSegmentLength int      `yaml:"max_segment_length"`
	RetryBackoffBase Duration `yaml:"retry_backoff_base"`
	MaxRetryAttempts int      `yaml:"max_retry_attempts"`
	Workers          int      `yaml:"workers"`
	Interval         Duration `yaml:"interval"`
	ClaimTimeout     Duration `yaml:"claim_timeout"`
}

// InboxConfig holds the directory watched for JSON document files.
type InboxConfig struct {
	Directory string `yaml:"directory"`
	Recursive *bool  `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (i *InboxConfig) RecursiveOrDefault() bool {
	if i.Recursive != nil {
		return *i.Recursive
	}
	return true
}

// Duration is a time.Duration written as a Go duration string ("30s", "1m") in YAML.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML parses a duration string. Bare integers are read as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if parsed, err := time.ParseDuration(s); err == nil {
		*d = Duration(parsed)
		return nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	return fmt.Errorf("invalid duration %q", s)
}

// MarshalYAML writes the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	if cfg.Inbox.Directory != "" {
		cfg.Inbox.Directory = expandPath(cfg.Inbox.Directory, configDir)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports every setting that is out of range.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}
	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Storage.DatabasePath != "", "storage.database_path is required")
	check(c.Embedding.Type == "onnx" || c.Embedding.Type == "mock", "embedding.type %q must be onnx or mock", c.Embedding.Type)
	check(c.Embedding.Dimensions > 0, "embedding.dimensions must be positive")
	check(c.Embedding.MaxTokens > 0, "embedding.max_tokens must be positive")
	check(c.Embedding.CacheSize >= 0, "embedding.cache_size must not be negative")
	check(c.Embedding.RateLimit >= 0, "embedding.rate_limit must not be negative")
	check(c.Embedding.Timeout >= 0, "embedding.timeout must not be negative")
	check(c.Search.DefaultTopK > 0, "search.default_top_k must be positive")
	check(c.Search.MaxTopK >= c.Search.DefaultTopK, "search.max_top_k %d is below default_top_k %d", c.Search.MaxTopK, c.Search.DefaultTopK)
	th := c.Search.Threshold()
	check(th >= -1 && th <= 1, "search.similarity_threshold %v outside [-1, 1]", th)
	check(c.Search.Workers > 0, "search.workers must be positive")
	check(c.Search.RefreshInterval > 0, "search.refresh_interval must be positive")
	check(c.Ingestion.BatchSize > 0, "ingestion.batch_size must be positive")
	check(c.Ingestion.MaxSegmentLength > 0, "ingestion.max_segment_length must be positive")
	check(c.Ingestion.RetryBackoffBase > 0, "ingestion.retry_backoff_base must be positive")
	check(c.Ingestion.MaxRetryAttempts > 0, "ingestion.max_retry_attempts must be positive")
	check(c.Ingestion.Workers > 0, "ingestion.workers must be positive")
	check(c.Ingestion.Interval > 0, "ingestion.interval must be positive")
	check(c.Ingestion.ClaimTimeout > 0, "ingestion.claim_timeout must be positive")
	return errors.Join(errs...)
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
