package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}

	if cfg.Batch.TotalRuns != 50 {
		t.Fatalf("expected 50 total runs, got %d", cfg.Batch.TotalRuns)
	}
	if cfg.Batch.Parallelism != 8 {
		t.Fatalf("expected parallelism 8, got %d", cfg.Batch.Parallelism)
	}
	if !cfg.Batch.SplitByRuns || cfg.Batch.SplitByFiles {
		t.Fatalf("expected split-by-runs as default strategy")
	}
	if cfg.Sampler.Interval != 300*time.Second {
		t.Fatalf("expected 300s sampler interval, got %v", cfg.Sampler.Interval)
	}
	if !cfg.Batch.PropagateRunFailures {
		t.Fatal("expected run failure propagation on by default")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data:
  root: /data/synthetic
  status_file: /data/noteStatusHistory-00000.tsv
batch:
  total_runs: 10
  parallelism: 4
  split_by_runs: false
  split_by_files: true
  output_root: /out
scorer:
  python: python3
  main: /src/main.py
  extra_args: ["--seed", "42"]
kafka:
  brokers: ["localhost:9092"]
  reports_enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Data.Root != "/data/synthetic" {
		t.Fatalf("unexpected data root %q", cfg.Data.Root)
	}
	if cfg.Batch.TotalRuns != 10 || cfg.Batch.Parallelism != 4 {
		t.Fatalf("unexpected batch config %+v", cfg.Batch)
	}
	if cfg.Batch.SplitByRuns || !cfg.Batch.SplitByFiles {
		t.Fatalf("expected split-by-files strategy, got %+v", cfg.Batch)
	}
	if len(cfg.Scorer.ExtraArgs) != 2 || cfg.Scorer.ExtraArgs[0] != "--seed" {
		t.Fatalf("unexpected extra args %v", cfg.Scorer.ExtraArgs)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Fatalf("unexpected brokers %v", cfg.Kafka.Brokers)
	}
	// Untouched keys keep their defaults.
	if cfg.Kafka.GroupID != "notebatch-worker" {
		t.Fatalf("unexpected group id %q", cfg.Kafka.GroupID)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
batch:
  split_by_runs: true
  split_by_files: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for conflicting strategies")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"zero total runs":          func(c *Config) { c.Batch.TotalRuns = 0 },
		"negative parallelism":     func(c *Config) { c.Batch.Parallelism = -1 },
		"no split strategy":        func(c *Config) { c.Batch.SplitByRuns = false },
		"missing python":           func(c *Config) { c.Scorer.Python = "" },
		"missing scorer main":      func(c *Config) { c.Scorer.Main = "" },
		"sampler without interval": func(c *Config) { c.Sampler.Enabled = true; c.Sampler.Interval = 0 },
		"docker without image":     func(c *Config) { c.Docker.Enabled = true },
		"reports without brokers":  func(c *Config) { c.Kafka.ReportsEnabled = true },
	}

	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
