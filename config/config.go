// Package config loads the sluice configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the file.
const (
	EnvEmbeddingToken = "SLUICE_EMBEDDING_TOKEN"
	EnvPostgresDSN    = "SLUICE_PG_DSN"
)

// Store backends.
const (
	BackendQdrant   = "qdrant"
	BackendPgvector = "pgvector"
	BackendBadger   = "badger"
)

// ErrInvalid is returned by Validate for an unusable configuration.
var ErrInvalid = errors.New("invalid configuration")

// Store selects and addresses the vector store.
type Store struct {
	Backend         string `yaml:"backend"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	APIKey          string `yaml:"api_key,omitempty"`
	UseTLS          bool   `yaml:"use_tls"`
	DSN             string `yaml:"dsn,omitempty"`
	Path            string `yaml:"path"`
	Collection      string `yaml:"collection"`
	InsertBatchSize int    `yaml:"insert_batch_size"`
}

// Embedding configures the OpenAI-compatible embedding provider.
type Embedding struct {
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	Token             string        `yaml:"token,omitempty"`
	Dimensions        int           `yaml:"dimensions"` // zero learns it from the first batch
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	BatchSize         int           `yaml:"batch_size"`
	Timeout           time.Duration `yaml:"timeout"`
}

// Ingest configures discovery, splitting and chunking.
type Ingest struct {
	Root              string   `yaml:"root"`
	Extensions        []string `yaml:"extensions"`
	MaxDirectBytes    int64    `yaml:"max_direct_bytes"`
	MinSegmentBytes   int64    `yaml:"min_segment_bytes"`
	MaxRecursionDepth int      `yaml:"max_recursion_depth"`
	ChunkSize         int      `yaml:"chunk_size"`
	ChunkOverlap      int      `yaml:"chunk_overlap"`
	Encoding          string   `yaml:"encoding"`
	VerifyWrites      bool     `yaml:"verify_writes"`
	ScratchDir        string   `yaml:"scratch_dir"`
	MemoryLimitMB     int64    `yaml:"memory_limit_mb"` // zero leaves the runtime default
}

// Retry is the backoff envelope shared by store and provider calls.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
}

// Queue locates the queue and checkpoint files.
type Queue struct {
	StateDir string `yaml:"state_dir"`
}

// Run bounds a single invocation.
type Run struct {
	IterationCap  int `yaml:"iteration_cap"` // zero or less drains the queue
	VerifyWorkers int `yaml:"verify_workers"`
}

// Config holds application configuration.
type Config struct {
	Store     Store     `yaml:"store"`
	Embedding Embedding `yaml:"embedding"`
	Ingest    Ingest    `yaml:"ingest"`
	Retry     Retry     `yaml:"retry"`
	Queue     Queue     `yaml:"queue"`
	Run       Run       `yaml:"run"`
}

// Default returns the default configuration.
func Default() *Config {
	cfg := &Config{}

	cfg.Store.Backend = BackendQdrant
	cfg.Store.Host = "localhost"
	cfg.Store.Port = 6334
	cfg.Store.Path = filepath.Join(".sluice", "vectors")
	cfg.Store.Collection = "documents"
	cfg.Store.InsertBatchSize = 10

	cfg.Embedding.BaseURL = "http://localhost:11434/v1"
	cfg.Embedding.Model = "embeddinggemma"
	cfg.Embedding.Burst = 1
	cfg.Embedding.BatchSize = 16
	cfg.Embedding.Timeout = 60 * time.Second

	cfg.Ingest.Root = "."
	cfg.Ingest.Extensions = []string{".txt", ".md"}
	cfg.Ingest.MaxDirectBytes = 5 << 20
	cfg.Ingest.MinSegmentBytes = 1 << 20
	cfg.Ingest.MaxRecursionDepth = 5
	cfg.Ingest.ChunkSize = 800
	cfg.Ingest.ChunkOverlap = 100
	cfg.Ingest.Encoding = "cl100k_base"
	cfg.Ingest.VerifyWrites = true
	cfg.Ingest.ScratchDir = filepath.Join(".sluice", "scratch")

	cfg.Retry.MaxAttempts = 5
	cfg.Retry.BaseDelay = time.Second

	cfg.Queue.StateDir = filepath.Join(".sluice", "state")

	cfg.Run.IterationCap = 1
	cfg.Run.VerifyWorkers = 8

	return cfg
}

// Load reads the configuration at path over the defaults. A missing file
// yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides secrets from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvEmbeddingToken); v != "" {
		c.Embedding.Token = v
	}
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Store.DSN = v
	}
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Store.Backend {
	case BackendQdrant:
		check(c.Store.Host != "", "store.host is required for qdrant")
		check(c.Store.Port > 0, "store.port must be positive")
	case BackendPgvector:
		check(c.Store.DSN != "", "store.dsn (or %s) is required for pgvector", EnvPostgresDSN)
	case BackendBadger:
		check(c.Store.Path != "", "store.path is required for badger")
	default:
		errs = append(errs, fmt.Errorf("store.backend %q must be one of %s, %s, %s",
			c.Store.Backend, BackendQdrant, BackendPgvector, BackendBadger))
	}
	check(strings.TrimSpace(c.Store.Collection) != "", "store.collection is required")
	check(c.Store.InsertBatchSize > 0, "store.insert_batch_size must be positive")

	check(c.Embedding.BaseURL != "", "embedding.base_url is required")
	check(c.Embedding.Model != "", "embedding.model is required")
	check(c.Embedding.Dimensions >= 0, "embedding.dimensions cannot be negative")
	check(c.Embedding.RequestsPerSecond >= 0, "embedding.requests_per_second cannot be negative")
	check(c.Embedding.BatchSize > 0, "embedding.batch_size must be positive")
	check(c.Embedding.Timeout >= 0, "embedding.timeout cannot be negative")

	check(c.Ingest.Root != "", "ingest.root is required")
	check(c.Ingest.MinSegmentBytes > 0, "ingest.min_segment_bytes must be positive")
	check(c.Ingest.MaxDirectBytes >= c.Ingest.MinSegmentBytes, "ingest.max_direct_bytes must be at least ingest.min_segment_bytes")
	check(c.Ingest.MaxRecursionDepth >= 0, "ingest.max_recursion_depth cannot be negative")
	check(c.Ingest.ChunkSize > 0, "ingest.chunk_size must be positive")
	check(c.Ingest.ChunkOverlap >= 0 && c.Ingest.ChunkOverlap < c.Ingest.ChunkSize,
		"ingest.chunk_overlap must be non-negative and smaller than ingest.chunk_size")
	check(c.Ingest.Encoding != "", "ingest.encoding is required")
	check(c.Ingest.ScratchDir != "", "ingest.scratch_dir is required")
	check(c.Ingest.MemoryLimitMB >= 0, "ingest.memory_limit_mb cannot be negative")

	check(c.Retry.MaxAttempts > 0, "retry.max_attempts must be positive")
	check(c.Retry.BaseDelay >= 0, "retry.base_delay cannot be negative")

	check(c.Queue.StateDir != "", "queue.state_dir is required")
	check(c.Run.VerifyWorkers >= 0, "run.verify_workers cannot be negative")

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
