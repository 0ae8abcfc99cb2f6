// Package config loads AkiDB's process configuration: one struct per
// concern, YAML on disk with environment-variable overrides layered on
// top, the way the corpus layers project config over env vars.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// WALConfig controls write-ahead-log durability.
type WALConfig struct {
	Fsync          string `yaml:"fsync" json:"fsync"` // always, batch, never
	BatchWindowMs  int    `yaml:"batch_window_ms" json:"batch_window_ms"`
	BatchCount     int    `yaml:"batch_count" json:"batch_count"`
}

// StorageConfig controls tiering, upload retry, circuit breaking and DLQ
// backpressure.
type StorageConfig struct {
	HotBytes               int64 `yaml:"hot_bytes" json:"hot_bytes"`
	HotAgeMs               int   `yaml:"hot_age_ms" json:"hot_age_ms"`
	UploadMaxAttempts      int   `yaml:"upload_max_attempts" json:"upload_max_attempts"`
	UploadInitialBackoffMs int   `yaml:"upload_initial_backoff_ms" json:"upload_initial_backoff_ms"`
	UploadJitter           bool  `yaml:"upload_jitter" json:"upload_jitter"`
	CircuitFailureThreshold int  `yaml:"circuit_failure_threshold" json:"circuit_failure_threshold"`
	CircuitResetTimeoutMs  int   `yaml:"circuit_reset_timeout_ms" json:"circuit_reset_timeout_ms"`
	CircuitRateThreshold   float64 `yaml:"circuit_rate_threshold" json:"circuit_rate_threshold"`
	CircuitRateWindowMs    int   `yaml:"circuit_rate_window_ms" json:"circuit_rate_window_ms"`
	CircuitMinRateSamples  int   `yaml:"circuit_min_rate_samples" json:"circuit_min_rate_samples"`
	DLQMaxDepth            int   `yaml:"dlq_max_depth" json:"dlq_max_depth"`
}

// HNSWConfig controls the approximate index's graph and search parameters.
// Dimension and Metric are per-collection and fixed at creation. A config
// reload does not change M, EfConstruction or EfSearch in a running process.
type HNSWConfig struct {
	M              int `yaml:"m" json:"m"`
	EfConstruction int `yaml:"ef_construction" json:"ef_construction"`
	EfSearch       int `yaml:"ef_search" json:"ef_search"`
}

// CompactionConfig schedules background HNSW compaction.
type CompactionConfig struct {
	Enabled         bool    `yaml:"enabled" json:"enabled"`
	OrphanThreshold float64 `yaml:"orphan_threshold" json:"orphan_threshold"`
	MinOrphanCount  int     `yaml:"min_orphan_count" json:"min_orphan_count"`
	IdleTimeoutMs   int     `yaml:"idle_timeout_ms" json:"idle_timeout_ms"`
}

// EmbeddingConfig bounds the concurrency of calls into the external
// embedding boundary.
type EmbeddingConfig struct {
	Concurrency int `yaml:"concurrency" json:"concurrency"`
}

// QueryConfig supplies defaults a caller may override per-request.
type QueryConfig struct {
	DefaultEf          int `yaml:"default_ef" json:"default_ef"`
	DefaultDeadlineMs  int `yaml:"default_deadline_ms" json:"default_deadline_ms"`
}

// ServerConfig controls process-level concerns.
type ServerConfig struct {
	DataDir string `yaml:"data_dir" json:"data_dir"`
}

// Config is AkiDB's full process configuration.
type Config struct {
	WAL        WALConfig        `yaml:"wal" json:"wal"`
	Storage    StorageConfig    `yaml:"storage" json:"storage"`
	HNSW       HNSWConfig       `yaml:"hnsw" json:"hnsw"`
	Compaction CompactionConfig `yaml:"compaction" json:"compaction"`
	Embedding  EmbeddingConfig  `yaml:"embedding" json:"embedding"`
	Query      QueryConfig      `yaml:"query" json:"query"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// NewConfig returns the default configuration.
func NewConfig() Config {
	return Config{
		WAL: WALConfig{
			Fsync:         "batch",
			BatchWindowMs: 10,
			BatchCount:    256,
		},
		Storage: StorageConfig{
			HotBytes:                64 << 20,
			HotAgeMs:                5 * 60 * 1000,
			UploadMaxAttempts:       5,
			UploadInitialBackoffMs:  1000,
			UploadJitter:            true,
			CircuitFailureThreshold: 5,
			CircuitResetTimeoutMs:   30_000,
			CircuitRateThreshold:    0.5,
			CircuitRateWindowMs:     30_000,
			CircuitMinRateSamples:   10,
			DLQMaxDepth:             1000,
		},
		HNSW: HNSWConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       64,
		},
		Compaction: CompactionConfig{
			Enabled:         true,
			OrphanThreshold: 0.3,
			MinOrphanCount:  1000,
			IdleTimeoutMs:   60_000,
		},
		Embedding: EmbeddingConfig{
			Concurrency: runtime.NumCPU(),
		},
		Query: QueryConfig{
			DefaultEf:         64,
			DefaultDeadlineMs: 2000,
		},
		Server: ServerConfig{
			DataDir: DefaultDataDir(),
		},
	}
}

// DefaultDataDir returns ~/.akidb/data, falling back to a temp directory if
// the home directory is unavailable.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".akidb", "data")
	}
	return filepath.Join(home, ".akidb", "data")
}

// Load reads path (if it exists) into a copy of NewConfig's defaults, then
// applies AKIDB_-prefixed environment variable overrides on top.
func Load(path string) (Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects a configuration that would misbehave rather than fail
// fast — every numeric knob named in the recognized-options list must be
// positive where positivity is meaningful.
func (c Config) Validate() error {
	switch c.WAL.Fsync {
	case "always", "batch", "never":
	default:
		return fmt.Errorf("config: wal.fsync must be one of always|batch|never, got %q", c.WAL.Fsync)
	}
	if c.HNSW.M <= 0 || c.HNSW.EfConstruction <= 0 || c.HNSW.EfSearch <= 0 {
		return fmt.Errorf("config: hnsw.m, hnsw.ef_construction and hnsw.ef_search must be positive")
	}
	if c.Embedding.Concurrency <= 0 {
		return fmt.Errorf("config: embedding.concurrency must be positive")
	}
	if c.Storage.DLQMaxDepth <= 0 {
		return fmt.Errorf("config: storage.dlq_max_depth must be positive")
	}
	return nil
}

// applyEnvOverrides layers AKIDB_SECTION_FIELD style environment variables
// over the loaded config, matching the corpus's env-override-on-top-of-file
// layering without requiring a third-party env-binding library for a
// config surface this small.
func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("AKIDB_WAL_FSYNC"); ok {
		cfg.WAL.Fsync = v
	}
	if v, ok := envInt("AKIDB_HNSW_EF_SEARCH"); ok {
		cfg.HNSW.EfSearch = v
	}
	if v, ok := envInt("AKIDB_QUERY_DEFAULT_EF"); ok {
		cfg.Query.DefaultEf = v
	}
	if v, ok := envInt("AKIDB_QUERY_DEFAULT_DEADLINE_MS"); ok {
		cfg.Query.DefaultDeadlineMs = v
	}
	if v, ok := os.LookupEnv("AKIDB_SERVER_DATA_DIR"); ok {
		cfg.Server.DataDir = v
	}
	if v, ok := envInt("AKIDB_EMBEDDING_CONCURRENCY"); ok {
		cfg.Embedding.Concurrency = v
	}
}

func envInt(name string) (int, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}
