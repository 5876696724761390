// Package scorer runs the external note-scoring program as a host process.
package scorer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"notebatch/internal/domain/batch"
	"notebatch/internal/ports"
)

// RunLogName is the file inside each run directory that captures the scorer's
// combined stdout and stderr.
const RunLogName = "output.log"

// Config describes how to invoke the scorer.
type Config struct {
	// Python is the interpreter used to launch the scorer entry point.
	Python string
	// Main is the path to the scorer's entry point script.
	Main string
	// ExtraArgs are appended after the fixed flag set.
	ExtraArgs []string
	// Monitor, when set, is attached to every scorer process for the duration
	// of the run.
	Monitor ports.MemoryMonitor
}

// Runner invokes the scorer once per run, writing outputs into the run's
// directory. Already-complete runs are skipped, which is what makes a batch
// resumable after partial failure or preemption.
type Runner struct {
	cfg Config
}

var _ ports.ScorerRunner = (*Runner)(nil)

// New validates cfg and builds a Runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Python == "" {
		cfg.Python = "python"
	}
	if cfg.Main == "" {
		return nil, fmt.Errorf("scorer: entry point must be configured")
	}
	return &Runner{cfg: cfg}, nil
}

// RunOnce executes the scorer for one run. A non-zero scorer exit is reported
// through the result, not as an error; errors are reserved for failures to
// launch or observe the process.
func (r *Runner) RunOnce(ctx context.Context, run batch.Run) (*batch.Result, error) {
	done, err := RunComplete(run.OutDir)
	if err != nil {
		return nil, err
	}
	if done {
		zap.L().Debug("run already complete, skipping", zap.String("run", run.Label()))
		return &batch.Result{Status: batch.StatusSkipped}, nil
	}

	if err := os.MkdirAll(run.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	logFile, err := os.Create(filepath.Join(run.OutDir, RunLogName))
	if err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}
	defer logFile.Close()

	argv := CommandLine(r.cfg.Python, r.cfg.Main, r.cfg.ExtraArgs, run)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	startedAt := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start scorer: %w", err)
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	monitorDone := r.attachMonitor(monitorCtx, cmd.Process.Pid, run.Label())

	waitErr := cmd.Wait()
	finishedAt := time.Now()
	stopMonitor()
	<-monitorDone

	result := &batch.Result{
		Status:     batch.StatusOK,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		Duration:   finishedAt.Sub(startedAt),
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("wait for scorer: %w", waitErr)
		}
		result.Status = batch.StatusFailed
		result.ExitCode = int64(exitErr.ExitCode())
	}

	return result, nil
}

// Close implements ports.ScorerRunner. The runner holds no resources.
func (r *Runner) Close() error {
	return nil
}

func (r *Runner) attachMonitor(ctx context.Context, pid int, label string) <-chan struct{} {
	done := make(chan struct{})
	if r.cfg.Monitor == nil {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		if err := r.cfg.Monitor.Watch(ctx, pid, label); err != nil {
			zap.L().Warn("memory monitor stopped", zap.String("run", label), zap.Error(err))
		}
	}()
	return done
}

// CommandLine builds the full scorer argv: interpreter, entry point, the
// input triplet, the output directory, and the fixed flag set used by every
// synthetic experiment. Shared by the host and containerized runners.
func CommandLine(python, main string, extraArgs []string, run batch.Run) []string {
	argv := []string{
		python,
		main,
		"--enrollment", run.Dataset.EnrollmentPath,
		"--notes", run.Dataset.NotesPath,
		"--ratings", run.Dataset.RatingsPath,
		"--status", run.Dataset.StatusPath,
		"--outdir", run.OutDir,
		"--nostrict-columns",
		"--nopseudoraters",
		"--noparquet",
		"--scorers", "MFCoreScorer",
	}
	return append(argv, extraArgs...)
}

// RunComplete reports whether every completion marker exists in dir.
func RunComplete(dir string) (bool, error) {
	for _, name := range batch.CompletionMarkers {
		info, err := os.Stat(filepath.Join(dir, name))
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("stat completion marker: %w", err)
		}
		if info.IsDir() {
			return false, nil
		}
	}
	return true, nil
}
