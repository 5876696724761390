// Package survey inspects an output tree and reports which runs completed.
package survey

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"notebatch/internal/infra/scorer"
)

// DirectoryReport summarizes one directory that holds run_* subdirectories.
type DirectoryReport struct {
	Dir            string
	Successful     int
	Total          int
	SuccessfulRuns []string
}

// CountRuns inspects the run_* subdirectories of dir. A run counts as
// successful when both completion markers are present.
func CountRuns(dir string) (DirectoryReport, error) {
	report := DirectoryReport{Dir: dir}

	runDirs, err := filepath.Glob(filepath.Join(dir, "run_*"))
	if err != nil {
		return report, fmt.Errorf("glob run dirs under %q: %w", dir, err)
	}
	sort.Strings(runDirs)

	for _, runDir := range runDirs {
		info, err := os.Stat(runDir)
		if err != nil || !info.IsDir() {
			continue
		}
		report.Total++

		complete, err := scorer.RunComplete(runDir)
		if err != nil {
			return report, err
		}
		if complete {
			report.Successful++
			report.SuccessfulRuns = append(report.SuccessfulRuns, filepath.Base(runDir))
		}
	}
	return report, nil
}

// SurveyTree walks root two levels deep, mirroring the output layout of a
// dispatched batch, and reports every leaf directory in sorted order.
func SurveyTree(root string) ([]DirectoryReport, error) {
	topDirs, err := subdirectories(root)
	if err != nil {
		return nil, err
	}

	var reports []DirectoryReport
	for _, topDir := range topDirs {
		leafDirs, err := subdirectories(topDir)
		if err != nil {
			return nil, err
		}
		// A top-level dir holding run_* dirs directly is a leaf itself.
		if len(leafDirs) == 0 {
			leafDirs = []string{topDir}
		}
		for _, leaf := range leafDirs {
			report, err := CountRuns(leaf)
			if err != nil {
				return nil, err
			}
			reports = append(reports, report)
		}
	}
	return reports, nil
}

// WriteReports renders reports in the "successful/total" text format.
func WriteReports(w io.Writer, root string, reports []DirectoryReport) error {
	for _, report := range reports {
		rel, err := filepath.Rel(root, report.Dir)
		if err != nil {
			rel = report.Dir
		}

		if _, err := fmt.Fprintf(w, "%s: %d/%d successful runs\n", rel, report.Successful, report.Total); err != nil {
			return err
		}
		if len(report.SuccessfulRuns) > 0 {
			if _, err := fmt.Fprintf(w, "  successful runs: %s\n", strings.Join(report.SuccessfulRuns, ", ")); err != nil {
				return err
			}
		}
	}
	return nil
}

func subdirectories(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %q: %w", dir, err)
	}

	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), "run_") {
			dirs = append(dirs, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}
