package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendQdrant, cfg.Store.Backend)
	assert.Equal(t, 6334, cfg.Store.Port)
	assert.Equal(t, "documents", cfg.Store.Collection)
	assert.Equal(t, 10, cfg.Store.InsertBatchSize)
	assert.Equal(t, 16, cfg.Embedding.BatchSize)
	assert.Equal(t, []string{".txt", ".md"}, cfg.Ingest.Extensions)
	assert.Equal(t, int64(5*1024*1024), cfg.Ingest.MaxDirectBytes)
	assert.Equal(t, int64(1024*1024), cfg.Ingest.MinSegmentBytes)
	assert.Equal(t, 5, cfg.Ingest.MaxRecursionDepth)
	assert.Equal(t, 800, cfg.Ingest.ChunkSize)
	assert.Equal(t, 100, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, "cl100k_base", cfg.Ingest.Encoding)
	assert.True(t, cfg.Ingest.VerifyWrites)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 1, cfg.Run.IterationCap)
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	t.Setenv(EnvEmbeddingToken, "")
	t.Setenv(EnvPostgresDSN, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	t.Setenv(EnvEmbeddingToken, "")
	t.Setenv(EnvPostgresDSN, "")

	path := filepath.Join(t.TempDir(), "sluice.yaml")
	doc := `
store:
  backend: badger
  path: /var/lib/sluice/vectors
embedding:
  model: text-embedding-3-small
  requests_per_second: 2.5
retry:
  base_delay: 250ms
ingest:
  extensions: [".txt"]
  max_direct_bytes: 2048
  min_segment_bytes: 512
run:
  iteration_cap: 0
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, "/var/lib/sluice/vectors", cfg.Store.Path)
	assert.Equal(t, "documents", cfg.Store.Collection, "unset keys keep defaults")
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.InDelta(t, 2.5, cfg.Embedding.RequestsPerSecond, 1e-9)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, []string{".txt"}, cfg.Ingest.Extensions)
	assert.Equal(t, int64(2048), cfg.Ingest.MaxDirectBytes)
	assert.Zero(t, cfg.Run.IterationCap)
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sluice.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unclosed"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv(EnvEmbeddingToken, "secret-token")
	t.Setenv(EnvPostgresDSN, "postgres://localhost/vectors")

	path := filepath.Join(t.TempDir(), "sluice.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedding:\n  token: from-file\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Embedding.Token)
	assert.Equal(t, "postgres://localhost/vectors", cfg.Store.DSN)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Setenv(EnvEmbeddingToken, "")
	t.Setenv(EnvPostgresDSN, "")

	cfg := Default()
	cfg.Store.Backend = BackendPgvector
	cfg.Store.DSN = "postgres://db/vectors"
	cfg.Retry.BaseDelay = 1500 * time.Millisecond

	path := filepath.Join(t.TempDir(), "nested", "sluice.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }, "store.backend"},
		{"pgvector without dsn", func(c *Config) { c.Store.Backend = BackendPgvector; c.Store.DSN = "" }, "store.dsn"},
		{"badger without path", func(c *Config) { c.Store.Backend = BackendBadger; c.Store.Path = "" }, "store.path"},
		{"empty collection", func(c *Config) { c.Store.Collection = " " }, "store.collection"},
		{"zero insert batch", func(c *Config) { c.Store.InsertBatchSize = 0 }, "insert_batch_size"},
		{"zero embed batch", func(c *Config) { c.Embedding.BatchSize = 0 }, "embedding.batch_size"},
		{"negative rate", func(c *Config) { c.Embedding.RequestsPerSecond = -1 }, "requests_per_second"},
		{"direct below minimum", func(c *Config) { c.Ingest.MaxDirectBytes = 10; c.Ingest.MinSegmentBytes = 20 }, "max_direct_bytes"},
		{"overlap not smaller than chunk", func(c *Config) { c.Ingest.ChunkOverlap = c.Ingest.ChunkSize }, "chunk_overlap"},
		{"negative depth", func(c *Config) { c.Ingest.MaxRecursionDepth = -1 }, "max_recursion_depth"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"no state dir", func(c *Config) { c.Queue.StateDir = "" }, "queue.state_dir"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrInvalid)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Store.Collection = ""
	cfg.Retry.MaxAttempts = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.collection")
	assert.Contains(t, err.Error(), "retry.max_attempts")
}
