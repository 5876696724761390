package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"notebatch/internal/conf"
	dockerinfra "notebatch/internal/infra/docker"
	"notebatch/internal/infra/procfs"
	"notebatch/internal/infra/scorer"
	"notebatch/internal/ports"
)

// statusPath resolves the shared status file, anchoring relative paths at the
// data root.
func statusPath(cfg *conf.Config) string {
	if filepath.IsAbs(cfg.Data.StatusFile) {
		return cfg.Data.StatusFile
	}
	return filepath.Join(cfg.Data.Root, cfg.Data.StatusFile)
}

// parseIndex parses a non-negative run index from a positional argument.
func parseIndex(raw, name string) (int, error) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s index %q: %w", name, raw, err)
	}
	if value < 0 {
		return 0, fmt.Errorf("%s index must be non-negative, got %d", name, value)
	}
	return value, nil
}

// newRunner builds the configured scorer runner. samplerDir receives the
// memory CSV when sampling is enabled; mounts lists host directories the
// containerized runner must see.
func newRunner(cfg *conf.Config, samplerDir string, mounts []string) (ports.ScorerRunner, error) {
	if cfg.Docker.Enabled {
		return dockerinfra.New(dockerinfra.Config{
			Image:     cfg.Docker.Image,
			Python:    cfg.Scorer.Python,
			Main:      cfg.Scorer.Main,
			ExtraArgs: cfg.Scorer.ExtraArgs,
			Mounts:    mounts,
		})
	}

	var monitor ports.MemoryMonitor
	if cfg.Sampler.Enabled {
		sampler, err := procfs.New(procfs.Config{
			Interval: cfg.Sampler.Interval,
			CSVPath:  filepath.Join(samplerDir, "memory_usage.csv"),
		})
		if err != nil {
			return nil, err
		}
		monitor = sampler
	}

	return scorer.New(scorer.Config{
		Python:    cfg.Scorer.Python,
		Main:      cfg.Scorer.Main,
		ExtraArgs: cfg.Scorer.ExtraArgs,
		Monitor:   monitor,
	})
}
