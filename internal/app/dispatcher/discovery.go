package dispatcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"notebatch/internal/domain/batch"
)

// DefaultPattern locates notes files one level below the data root, the
// layout produced by the synthetic dataset generator.
const DefaultPattern = "*/*-notes-00000.tsv"

func (s *Service) discover() ([]batch.Dataset, error) {
	return Discover(s.cfg.DataRoot, s.cfg.Pattern, s.cfg.StatusFile)
}

// Discover globs for notes files under the data root and derives the full
// dataset for each match. Matches are sorted so worker assignment is stable
// across invocations. Zero matches is an error: silently dispatching nothing
// hides a misconfigured root or pattern.
func Discover(dataRoot, globPattern, statusFile string) ([]batch.Dataset, error) {
	if globPattern == "" {
		globPattern = DefaultPattern
	}
	pattern := filepath.Join(dataRoot, globPattern)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("glob datasets with %q: %w", pattern, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("no datasets match %q", pattern)
	}
	sort.Strings(matches)

	datasets := make([]batch.Dataset, 0, len(matches))
	for _, notesPath := range matches {
		ds, err := batch.Derive(notesPath, statusFile)
		if err != nil {
			return nil, err
		}
		for _, path := range ds.SiblingPaths() {
			if _, err := os.Stat(path); err != nil {
				return nil, fmt.Errorf("dataset %s: input missing: %w", ds.Name, err)
			}
		}
		datasets = append(datasets, ds)
	}
	return datasets, nil
}
