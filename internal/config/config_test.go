package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Run.Mode = "baseline"
	cfg.Engine.Bin = "/usr/local/bin/duckdb"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Run.Reps != 5 {
		t.Errorf("default reps = %d, want 5", cfg.Run.Reps)
	}
	if cfg.Run.MemoryReps != 3 {
		t.Errorf("default memory reps = %d, want 3", cfg.Run.MemoryReps)
	}
	if cfg.Timeouts.Query != 300*time.Second || cfg.Timeouts.Probe != 60*time.Second {
		t.Errorf("unexpected default timeouts: %+v", cfg.Timeouts)
	}
	if cfg.Memory.SampleInterval != 100*time.Millisecond {
		t.Errorf("default sample interval = %v, want 100ms", cfg.Memory.SampleInterval)
	}
}

func TestResolve_DefaultOut(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTiming, "results.csv"},
		{KindMemory, "memory_usage.csv"},
		{KindJoinSize, "join_sizes.csv"},
	}
	for _, tt := range tests {
		cfg := validConfig()
		cfg.Resolve(tt.kind)
		if cfg.Run.Out != tt.want {
			t.Errorf("%s: out = %q, want %q", tt.kind, cfg.Run.Out, tt.want)
		}
	}
}

func TestResolve_KeepsExplicitOut(t *testing.T) {
	cfg := validConfig()
	cfg.Run.Out = "results/ssb_rpt.csv"
	cfg.Resolve(KindTiming)
	if cfg.Run.Out != "results/ssb_rpt.csv" {
		t.Errorf("out overwritten: %q", cfg.Run.Out)
	}
	if cfg.Publish.Storage.Path != filepath.Join("results", "published") {
		t.Errorf("storage path = %q", cfg.Publish.Storage.Path)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing mode", func(c *Config) { c.Run.Mode = "" }, true},
		{"missing engine", func(c *Config) { c.Engine.Bin = "" }, true},
		{"missing db", func(c *Config) { c.Engine.DB = "" }, true},
		{"zero reps", func(c *Config) { c.Run.Reps = 0 }, true},
		{"zero memory reps", func(c *Config) { c.Run.MemoryReps = 0 }, true},
		{"zero timeout", func(c *Config) { c.Timeouts.Probe = 0 }, true},
		{"bad strategy", func(c *Config) { c.Memory.Strategy = "valgrind" }, true},
		{"bad interval", func(c *Config) { c.Memory.SampleInterval = 0 }, true},
		{"s3 without bucket", func(c *Config) {
			c.Publish.Enabled = true
			c.Publish.Storage.Type = "s3"
		}, true},
		{"bad storage type ignored when disabled", func(c *Config) { c.Publish.Storage.Type = "gcs" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	content := `
engine:
  bin: /opt/duckdb/build/release/duckdb
  db: db/ssb_sf10.duckdb
run:
  mode: rpt
  reps: 7
timeouts:
  query: 120s
memory:
  strategy: sample
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.Engine.Bin != "/opt/duckdb/build/release/duckdb" {
		t.Errorf("engine.bin = %q", cfg.Engine.Bin)
	}
	if cfg.Run.Mode != "rpt" || cfg.Run.Reps != 7 {
		t.Errorf("run = %+v", cfg.Run)
	}
	if cfg.Timeouts.Query != 120*time.Second {
		t.Errorf("query timeout = %v", cfg.Timeouts.Query)
	}
	// Unset fields keep defaults
	if cfg.Timeouts.Probe != 60*time.Second {
		t.Errorf("probe timeout = %v", cfg.Timeouts.Probe)
	}
	if cfg.Memory.Strategy != MemorySample {
		t.Errorf("strategy = %q", cfg.Memory.Strategy)
	}
}

func TestLoadFromFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for .toml config")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("RPTBENCH_MODE", "rpt")
	t.Setenv("RPTBENCH_ENGINE_BIN", "/bin/duckdb")
	t.Setenv("RPTBENCH_REPS", "9")
	t.Setenv("RPTBENCH_QUERIES", "q1.1, q2.1")
	t.Setenv("RPTBENCH_PROBE_TIMEOUT", "5s")
	t.Setenv("RPTBENCH_ARCHIVE_ENABLED", "1")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.Run.Mode != "rpt" || cfg.Engine.Bin != "/bin/duckdb" || cfg.Run.Reps != 9 {
		t.Errorf("env not applied: %+v %+v", cfg.Run, cfg.Engine)
	}
	if len(cfg.Run.Queries) != 2 || cfg.Run.Queries[0] != "q1.1" || cfg.Run.Queries[1] != "q2.1" {
		t.Errorf("queries = %v", cfg.Run.Queries)
	}
	if cfg.Timeouts.Probe != 5*time.Second {
		t.Errorf("probe timeout = %v", cfg.Timeouts.Probe)
	}
	if !cfg.Archive.Enabled {
		t.Error("archive should be enabled")
	}
}

func TestLoadDotEnv_DoesNotOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "RPTBENCH_TEST_DOTENV_A=from-file\nRPTBENCH_TEST_DOTENV_B=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RPTBENCH_TEST_DOTENV_A", "from-env")
	t.Cleanup(func() { os.Unsetenv("RPTBENCH_TEST_DOTENV_B") })

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("RPTBENCH_TEST_DOTENV_A"); got != "from-env" {
		t.Errorf("A = %q, want from-env", got)
	}
	if got := os.Getenv("RPTBENCH_TEST_DOTENV_B"); got != "from-file" {
		t.Errorf("B = %q, want from-file", got)
	}
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	cfg := validConfig()
	cfg.Run.Out = filepath.Join(root, "results", "nested", "timing.csv")
	cfg.Archive.Enabled = true
	cfg.Archive.Path = filepath.Join(root, "archive", "runs.db")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{filepath.Dir(cfg.Run.Out), filepath.Dir(cfg.Archive.Path)} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("directory %s not created", dir)
		}
	}
}
