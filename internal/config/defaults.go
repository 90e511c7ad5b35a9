package config

import "time"

const defaultThreshold = 0.3

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/jinzai/data/db/jinzai.db"
	}

	if cfg.Embedding.Type == "" {
		cfg.Embedding.Type = "onnx"
	}
	if cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = "/usr/local/var/jinzai/data/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = Duration(30 * time.Second)
	}
	if cfg.Embedding.InitRetries == 0 {
		cfg.Embedding.InitRetries = 3
	}

	if cfg.Search.DefaultTopK == 0 {
		cfg.Search.DefaultTopK = 10
	}
	if cfg.Search.MaxTopK == 0 {
		cfg.Search.MaxTopK = 100
	}
	if cfg.Search.SimilarityThreshold == nil {
		t := defaultThreshold
		cfg.Search.SimilarityThreshold = &t
	}
	if cfg.Search.Workers == 0 {
		cfg.Search.Workers = 4
	}
	if cfg.Search.SlowQueryThreshold == 0 {
		cfg.Search.SlowQueryThreshold = Duration(200 * time.Millisecond)
	}
	if cfg.Search.RefreshInterval == 0 {
		cfg.Search.RefreshInterval = Duration(5 * time.Second)
	}
	if cfg.Search.RecordQueries == nil {
		t := true
		cfg.Search.RecordQueries = &t
	}

	if cfg.Ingestion.BatchSize == 0 {
		cfg.Ingestion.BatchSize = 100
	}
	if cfg.Ingestion.MaxSegmentLength == 0 {
		cfg.Ingestion.MaxSegmentLength = 512
	}
	if cfg.Ingestion.RetryBackoffBase == 0 {
		cfg.Ingestion.RetryBackoffBase = Duration(time.Minute)
	}
	if cfg.Ingestion.MaxRetryAttempts == 0 {
		cfg.Ingestion.MaxRetryAttempts = 5
	}
	if cfg.Ingestion.Workers == 0 {
		cfg.Ingestion.Workers = 2
	}
	if cfg.Ingestion.Interval == 0 {
		cfg.Ingestion.Interval = Duration(30 * time.Second)
	}
	if cfg.Ingestion.ClaimTimeout == 0 {
		cfg.Ingestion.ClaimTimeout = Duration(10 * time.Minute)
	}

	// Recursive defaults to true when an inbox is configured.
	if cfg.Inbox.Directory != "" && cfg.Inbox.Recursive == nil {
		t := true
		cfg.Inbox.Recursive = &t
	}
}
