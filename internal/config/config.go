// Package config provides unified configuration for all rptbench commands.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Kind identifies which measurement a run performs.
type Kind string

const (
	KindTiming   Kind = "timing"
	KindMemory   Kind = "memory"
	KindJoinSize Kind = "joins"
)

// MemoryStrategy selects how peak memory is measured.
type MemoryStrategy string

const (
	// MemoryAuto uses the time wrapper when available, sampling otherwise.
	MemoryAuto   MemoryStrategy = "auto"
	MemoryTime   MemoryStrategy = "time"
	MemorySample MemoryStrategy = "sample"
)

// Config holds the unified configuration for one rptbench invocation.
type Config struct {
	// Engine describes the external database CLI
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Run holds per-invocation settings
	Run RunConfig `json:"run" yaml:"run"`

	// Timeouts bound every engine invocation
	Timeouts TimeoutConfig `json:"timeouts" yaml:"timeouts"`

	// Memory profiler configuration
	Memory MemoryConfig `json:"memory" yaml:"memory"`

	// Catalog configuration
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Archive configuration
	Archive ArchiveConfig `json:"archive" yaml:"archive"`

	// Publish configuration
	Publish PublishConfig `json:"publish" yaml:"publish"`

	// Logging configuration
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// EngineConfig describes how to invoke the database engine.
type EngineConfig struct {
	// Bin is the path to the engine executable
	Bin string `json:"bin" yaml:"bin"`

	// DB is the path to the database file passed as first argument
	DB string `json:"db" yaml:"db"`

	// ExtraArgs are inserted between the database path and -c
	ExtraArgs []string `json:"extra_args" yaml:"extra_args"`
}

// RunConfig holds settings for a single measurement run.
type RunConfig struct {
	// Mode labels the run, e.g. baseline or rpt
	Mode string `json:"mode" yaml:"mode"`

	// Reps is the number of timed repetitions per query (default 5)
	Reps int `json:"reps" yaml:"reps"`

	// MemoryReps is the number of memory measurements per query (default 3)
	MemoryReps int `json:"memory_reps" yaml:"memory_reps"`

	// Out is the output CSV path; empty selects the per-kind default
	Out string `json:"out" yaml:"out"`

	// Queries restricts the run to the given ids, in order
	Queries []string `json:"queries" yaml:"queries"`
}

// TimeoutConfig holds engine invocation timeouts.
type TimeoutConfig struct {
	// Query bounds full query runs, timed or memory-profiled
	Query time.Duration `json:"query" yaml:"query"`

	// Probe bounds cardinality probes
	Probe time.Duration `json:"probe" yaml:"probe"`
}

// MemoryConfig holds memory profiler settings.
type MemoryConfig struct {
	// Strategy is auto, time or sample
	Strategy MemoryStrategy `json:"strategy" yaml:"strategy"`

	// TimeBin is the peak-memory reporting wrapper
	TimeBin string `json:"time_bin" yaml:"time_bin"`

	// SampleInterval is the polling period of the sampling strategy
	SampleInterval time.Duration `json:"sample_interval" yaml:"sample_interval"`

	// ProcRoot is the process-status pseudo-filesystem mount point
	ProcRoot string `json:"proc_root" yaml:"proc_root"`
}

// CatalogConfig selects the query catalog.
type CatalogConfig struct {
	// Path is a YAML catalog file; empty uses the built-in SSB catalog
	Path string `json:"path" yaml:"path"`
}

// ArchiveConfig holds run archive settings.
type ArchiveConfig struct {
	// Enabled records every run in the SQLite archive
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path is the archive database file
	Path string `json:"path" yaml:"path"`
}

// PublishConfig holds result publishing settings.
type PublishConfig struct {
	// Enabled uploads result files after each run
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Prefix is prepended to every object path
	Prefix string `json:"prefix" yaml:"prefix"`

	// Storage is the object storage backend
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	// Level is debug, info, warn or error
	Level string `json:"level" yaml:"level"`

	// Format is console or json
	Format string `json:"format" yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			DB: "db/ssb.duckdb",
		},
		Run: RunConfig{
			Reps:       5,
			MemoryReps: 3,
		},
		Timeouts: TimeoutConfig{
			Query: 300 * time.Second,
			Probe: 60 * time.Second,
		},
		Memory: MemoryConfig{
			Strategy:       MemoryAuto,
			TimeBin:        "/usr/bin/time",
			SampleInterval: 100 * time.Millisecond,
			ProcRoot:       "/proc",
		},
		Archive: ArchiveConfig{
			Enabled: false,
			Path:    "results/archive.db",
		},
		Publish: PublishConfig{
			Prefix: "rptbench",
			Storage: StorageConfig{
				Type: "local",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// DefaultOut returns the default output file for a run kind.
func DefaultOut(kind Kind) string {
	switch kind {
	case KindMemory:
		return "memory_usage.csv"
	case KindJoinSize:
		return "join_sizes.csv"
	default:
		return "results.csv"
	}
}

// Resolve fills derived defaults for the given run kind.
func (c *Config) Resolve(kind Kind) {
	if c.Run.Out == "" {
		c.Run.Out = DefaultOut(kind)
	}

	if c.Publish.Storage.Type == "" {
		c.Publish.Storage.Type = "local"
	}

	// Local publishing defaults next to the results
	if c.Publish.Storage.Type == "local" && c.Publish.Storage.Path == "" {
		c.Publish.Storage.Path = filepath.Join(filepath.Dir(c.Run.Out), "published")
	}

	if c.Memory.ProcRoot == "" {
		c.Memory.ProcRoot = "/proc"
	}
}

// Validate validates the configuration for a measurement run.
func (c *Config) Validate() error {
	if c.Run.Mode == "" {
		return fmt.Errorf("run.mode is required")
	}

	if c.Engine.Bin == "" {
		return fmt.Errorf("engine.bin is required")
	}

	if c.Engine.DB == "" {
		return fmt.Errorf("engine.db is required")
	}

	if c.Run.Reps < 1 {
		return fmt.Errorf("run.reps must be at least 1, got %d", c.Run.Reps)
	}

	if c.Run.MemoryReps < 1 {
		return fmt.Errorf("run.memory_reps must be at least 1, got %d", c.Run.MemoryReps)
	}

	if c.Timeouts.Query <= 0 || c.Timeouts.Probe <= 0 {
		return fmt.Errorf("timeouts must be positive (query=%v, probe=%v)", c.Timeouts.Query, c.Timeouts.Probe)
	}

	switch c.Memory.Strategy {
	case MemoryAuto, MemoryTime, MemorySample:
	default:
		return fmt.Errorf("invalid memory.strategy: %s (must be auto, time, or sample)", c.Memory.Strategy)
	}

	if c.Memory.SampleInterval <= 0 {
		return fmt.Errorf("memory.sample_interval must be positive, got %v", c.Memory.SampleInterval)
	}

	if c.Publish.Enabled {
		if c.Publish.Storage.Type != "local" && c.Publish.Storage.Type != "s3" {
			return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Publish.Storage.Type)
		}
		if c.Publish.Storage.Type == "s3" && c.Publish.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when storage type is s3")
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored and variables that are already set
// are never overridden.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the RPTBENCH_ prefix.
func LoadFromEnv(cfg *Config) {
	// Engine configuration
	if v := os.Getenv("RPTBENCH_ENGINE_BIN"); v != "" {
		cfg.Engine.Bin = v
	}
	if v := os.Getenv("RPTBENCH_DB"); v != "" {
		cfg.Engine.DB = v
	}

	// Run configuration
	if v := os.Getenv("RPTBENCH_MODE"); v != "" {
		cfg.Run.Mode = v
	}
	if v := os.Getenv("RPTBENCH_REPS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Run.Reps)
	}
	if v := os.Getenv("RPTBENCH_MEMORY_REPS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Run.MemoryReps)
	}
	if v := os.Getenv("RPTBENCH_QUERIES"); v != "" {
		cfg.Run.Queries = strings.Fields(strings.ReplaceAll(v, ",", " "))
	}

	// Timeouts
	if v := os.Getenv("RPTBENCH_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeouts.Query = d
		}
	}
	if v := os.Getenv("RPTBENCH_PROBE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Timeouts.Probe = d
		}
	}

	// Memory configuration
	if v := os.Getenv("RPTBENCH_MEMORY_STRATEGY"); v != "" {
		cfg.Memory.Strategy = MemoryStrategy(v)
	}
	if v := os.Getenv("RPTBENCH_TIME_BIN"); v != "" {
		cfg.Memory.TimeBin = v
	}

	// Catalog configuration
	if v := os.Getenv("RPTBENCH_CATALOG"); v != "" {
		cfg.Catalog.Path = v
	}

	// Archive configuration
	if v := os.Getenv("RPTBENCH_ARCHIVE_ENABLED"); v != "" {
		cfg.Archive.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RPTBENCH_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}

	// Publish configuration
	if v := os.Getenv("RPTBENCH_PUBLISH_ENABLED"); v != "" {
		cfg.Publish.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("RPTBENCH_STORAGE_TYPE"); v != "" {
		cfg.Publish.Storage.Type = v
	}
	if v := os.Getenv("RPTBENCH_STORAGE_PATH"); v != "" {
		cfg.Publish.Storage.Path = v
	}
	if v := os.Getenv("RPTBENCH_S3_BUCKET"); v != "" {
		cfg.Publish.Storage.S3.Bucket = v
	}
	if v := os.Getenv("RPTBENCH_S3_REGION"); v != "" {
		cfg.Publish.Storage.S3.Region = v
	}
	if v := os.Getenv("RPTBENCH_S3_ENDPOINT"); v != "" {
		cfg.Publish.Storage.S3.Endpoint = v
	}

	// Logging configuration
	if v := os.Getenv("RPTBENCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RPTBENCH_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// EnsureDirectories creates the parent directories of every output path.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Run.Out)}
	if c.Archive.Enabled {
		dirs = append(dirs, filepath.Dir(c.Archive.Path))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
