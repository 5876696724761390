package dispatcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"notebatch/internal/domain/batch"
	"notebatch/internal/infra/timing"
)

func TestNewServiceValidation(t *testing.T) {
	t.Parallel()

	valid := Config{
		DataRoot:    "/data",
		StatusFile:  "/data/noteStatusHistory-00000.tsv",
		OutputRoot:  "/out",
		TotalRuns:   50,
		Parallelism: 8,
		SplitByRuns: true,
	}

	cases := map[string]func(Config) Config{
		"missing data root":   func(c Config) Config { c.DataRoot = ""; return c },
		"missing output root": func(c Config) Config { c.OutputRoot = ""; return c },
		"missing status file": func(c Config) Config { c.StatusFile = ""; return c },
		"zero total runs":     func(c Config) Config { c.TotalRuns = 0; return c },
		"zero parallelism":    func(c Config) Config { c.Parallelism = 0; return c },
		"no strategy":         func(c Config) Config { c.SplitByRuns = false; return c },
		"both strategies":     func(c Config) Config { c.SplitByFiles = true; return c },
	}

	for name, mutate := range cases {
		if _, err := NewService(mutate(valid), &countingRunner{}, nil); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}

	if _, err := NewService(valid, nil, nil); err == nil {
		t.Fatal("expected error when runner missing")
	}
	if _, err := NewService(valid, &countingRunner{}, nil); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestDispatchSplitByRunsCoversEveryIndex(t *testing.T) {
	t.Parallel()

	dataRoot, statusFile := writeDatasets(t, "pollution_0.1", "waste_0.3")
	outputRoot := t.TempDir()
	runner := &countingRunner{}

	service, err := NewService(Config{
		DataRoot:    dataRoot,
		StatusFile:  statusFile,
		OutputRoot:  outputRoot,
		TotalRuns:   10,
		Parallelism: 3,
		SplitByRuns: true,
	}, runner, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	summary, err := service.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if summary.Executed != 20 {
		t.Fatalf("expected 20 executed runs, got %d", summary.Executed)
	}
	for _, ds := range []string{"pollution_0.1", "waste_0.3"} {
		indices := runner.indicesFor(ds)
		if len(indices) != 10 {
			t.Fatalf("dataset %s: expected 10 runs, got %d", ds, len(indices))
		}
		seen := map[int]bool{}
		for _, i := range indices {
			if seen[i] {
				t.Fatalf("dataset %s: index %d dispatched twice", ds, i)
			}
			seen[i] = true
		}
		for i := 0; i < 10; i++ {
			if !seen[i] {
				t.Fatalf("dataset %s: index %d never dispatched", ds, i)
			}
		}
	}

	// ceil(10/3)=4 gives chunks [0,4) [4,8) [8,10); each leaves a timing file.
	for _, ds := range []string{"pollution_0.1", "waste_0.3"} {
		for _, name := range []string{
			timing.FileName(0, 4),
			timing.FileName(4, 8),
			timing.FileName(8, 10),
		} {
			if _, err := os.Stat(filepath.Join(outputRoot, ds, name)); err != nil {
				t.Fatalf("dataset %s: expected timing file %s: %v", ds, name, err)
			}
		}
	}
}

func TestDispatchSplitByFilesGivesEachWorkerFullRanges(t *testing.T) {
	t.Parallel()

	dataRoot, statusFile := writeDatasets(t, "a_0.1", "b_0.2", "c_0.3")
	outputRoot := t.TempDir()
	runner := &countingRunner{}

	service, err := NewService(Config{
		DataRoot:     dataRoot,
		StatusFile:   statusFile,
		OutputRoot:   outputRoot,
		TotalRuns:    4,
		Parallelism:  2,
		SplitByFiles: true,
	}, runner, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	summary, err := service.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if summary.Executed != 12 {
		t.Fatalf("expected 12 executed runs, got %d", summary.Executed)
	}

	for _, ds := range []string{"a_0.1", "b_0.2", "c_0.3"} {
		if got := len(runner.indicesFor(ds)); got != 4 {
			t.Fatalf("dataset %s: expected full range of 4 runs, got %d", ds, got)
		}
		// One worker owns the whole range, so one timing file per dataset.
		if _, err := os.Stat(filepath.Join(outputRoot, ds, timing.FileName(0, 4))); err != nil {
			t.Fatalf("dataset %s: expected timing file: %v", ds, err)
		}
	}
}

func TestDispatchFailsWhenNoDatasetsMatch(t *testing.T) {
	t.Parallel()

	service, err := NewService(Config{
		DataRoot:    t.TempDir(),
		StatusFile:  "/data/noteStatusHistory-00000.tsv",
		OutputRoot:  t.TempDir(),
		TotalRuns:   1,
		Parallelism: 1,
		SplitByRuns: true,
	}, &countingRunner{}, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	if _, err := service.Dispatch(context.Background()); err == nil {
		t.Fatal("expected error when discovery finds nothing")
	}
}

func TestDispatchFailsWhenSiblingMissing(t *testing.T) {
	t.Parallel()

	dataRoot, statusFile := writeDatasets(t, "pollution_0.1")
	if err := os.Remove(filepath.Join(dataRoot, "pollution_0.1", "pollution_0.1-ratings-00000.tsv")); err != nil {
		t.Fatalf("remove ratings file: %v", err)
	}

	service, err := NewService(Config{
		DataRoot:    dataRoot,
		StatusFile:  statusFile,
		OutputRoot:  t.TempDir(),
		TotalRuns:   1,
		Parallelism: 1,
		SplitByRuns: true,
	}, &countingRunner{}, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	_, err = service.Dispatch(context.Background())
	if err == nil || !strings.Contains(err.Error(), "pollution_0.1") {
		t.Fatalf("expected missing-sibling error naming the dataset, got %v", err)
	}
}

func TestDispatchPropagatesRunFailures(t *testing.T) {
	t.Parallel()

	dataRoot, statusFile := writeDatasets(t, "pollution_0.1")
	runner := &countingRunner{failIndices: map[int]bool{1: true, 3: true}}

	cfg := Config{
		DataRoot:             dataRoot,
		StatusFile:           statusFile,
		OutputRoot:           t.TempDir(),
		TotalRuns:            5,
		Parallelism:          1,
		SplitByRuns:          true,
		PropagateRunFailures: true,
	}

	service, err := NewService(cfg, runner, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	summary, err := service.Dispatch(context.Background())
	if err == nil {
		t.Fatal("expected error when runs failed and propagation is on")
	}
	if !strings.Contains(err.Error(), "2 of 5") {
		t.Fatalf("expected failure counts in error, got %v", err)
	}
	if summary.Failed != 2 {
		t.Fatalf("expected 2 failed runs, got %d", summary.Failed)
	}
}

func TestDispatchIgnoresRunFailuresWhenNotPropagating(t *testing.T) {
	t.Parallel()

	dataRoot, statusFile := writeDatasets(t, "pollution_0.1")
	runner := &countingRunner{failIndices: map[int]bool{0: true}}

	service, err := NewService(Config{
		DataRoot:    dataRoot,
		StatusFile:  statusFile,
		OutputRoot:  t.TempDir(),
		TotalRuns:   3,
		Parallelism: 1,
		SplitByRuns: true,
	}, runner, nil)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	summary, err := service.Dispatch(context.Background())
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if summary.Failed != 1 {
		t.Fatalf("expected 1 failed run in summary, got %d", summary.Failed)
	}
}

func TestDispatchPublishesReports(t *testing.T) {
	t.Parallel()

	dataRoot, statusFile := writeDatasets(t, "pollution_0.1")
	publisher := &recordingPublisher{}

	service, err := NewService(Config{
		DataRoot:    dataRoot,
		StatusFile:  statusFile,
		OutputRoot:  t.TempDir(),
		TotalRuns:   4,
		Parallelism: 2,
		SplitByRuns: true,
		BatchID:     "batch-test",
	}, &countingRunner{}, publisher)
	if err != nil {
		t.Fatalf("NewService returned error: %v", err)
	}

	if _, err := service.Dispatch(context.Background()); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if got := publisher.count(); got != 4 {
		t.Fatalf("expected 4 published reports, got %d", got)
	}
}

// countingRunner records dispatched runs; safe for concurrent workers.
type countingRunner struct {
	mu          sync.Mutex
	runs        []batch.Run
	failIndices map[int]bool
}

func (c *countingRunner) RunOnce(ctx context.Context, run batch.Run) (*batch.Result, error) {
	c.mu.Lock()
	c.runs = append(c.runs, run)
	c.mu.Unlock()

	result := &batch.Result{
		Status:     batch.StatusOK,
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}
	if c.failIndices[run.Index] {
		result.Status = batch.StatusFailed
		result.ExitCode = 1
	}
	return result, nil
}

func (c *countingRunner) Close() error { return nil }

func (c *countingRunner) indicesFor(dataset string) []int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var indices []int
	for _, run := range c.runs {
		if run.Dataset.Name == dataset {
			indices = append(indices, run.Index)
		}
	}
	return indices
}

type recordingPublisher struct {
	mu      sync.Mutex
	reports []batch.RunReport
}

func (r *recordingPublisher) PublishRunReport(ctx context.Context, report batch.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

func (r *recordingPublisher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

// writeDatasets lays out a data root with one directory per dataset holding
// the full input triplet, plus a shared status file.
func writeDatasets(t *testing.T, names ...string) (dataRoot, statusFile string) {
	t.Helper()

	dataRoot = t.TempDir()
	statusFile = filepath.Join(dataRoot, "noteStatusHistory-00000.tsv")
	if err := os.WriteFile(statusFile, []byte("noteId\tstatus\n"), 0o644); err != nil {
		t.Fatalf("write status file: %v", err)
	}

	for _, name := range names {
		dir := filepath.Join(dataRoot, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("create dataset dir: %v", err)
		}
		for _, suffix := range []string{
			batch.NotesSuffix,
			batch.RatingsSuffix,
			batch.EnrollmentSuffix,
		} {
			path := filepath.Join(dir, name+suffix)
			if err := os.WriteFile(path, []byte("header\n"), 0o644); err != nil {
				t.Fatalf("write %s: %v", path, err)
			}
		}
	}
	return dataRoot, statusFile
}
