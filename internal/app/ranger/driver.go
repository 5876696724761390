// Package ranger executes a contiguous range of run indices against one
// dataset, sequentially and in order.
package ranger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"notebatch/internal/domain/batch"
	"notebatch/internal/infra/timing"
	"notebatch/internal/ports"
)

// ErrInvalidRange is returned when the requested range is inverted.
var ErrInvalidRange = errors.New("invalid run range")

// TimingAppender records one timing row per executed run.
type TimingAppender interface {
	Append(timing.Record) error
}

// Summary counts what a driver actually did over its range. Executed covers
// every scorer invocation, including ones that exited non-zero; Failed counts
// non-zero exits plus runs that could not be launched at all.
type Summary struct {
	Executed int
	Skipped  int
	Failed   int
}

// Add folds another summary into s.
func (s *Summary) Add(other Summary) {
	s.Executed += other.Executed
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}

// Driver walks run indices in strictly increasing order, invoking the runner
// once per index. There is no internal parallelism: the unit of concurrency
// is the driver itself, one per worker chunk.
type Driver struct {
	runner   ports.ScorerRunner
	timings  TimingAppender
	onReport func(batch.RunReport)
}

// NewDriver builds a Driver. timings and onReport may be nil.
func NewDriver(runner ports.ScorerRunner, timings TimingAppender, onReport func(batch.RunReport)) *Driver {
	return &Driver{runner: runner, timings: timings, onReport: onReport}
}

// Execute processes indices [start, end) for ds, writing each run into
// parentDir/run_<i>. An inverted range fails before any side effect. A run
// that fails is recorded and the loop continues; retrying is a re-invocation
// concern, made safe by the runner's completed-run skip.
func (d *Driver) Execute(ctx context.Context, ds batch.Dataset, parentDir string, start, end int) (Summary, error) {
	if start > end {
		return Summary{}, fmt.Errorf("%w: start index %d is greater than end index %d", ErrInvalidRange, start, end)
	}

	var summary Summary
	for i := start; i < end; i++ {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		run := batch.Run{
			Dataset: ds,
			Index:   i,
			OutDir:  filepath.Join(parentDir, batch.RunDirName(i)),
		}

		result, err := d.runner.RunOnce(ctx, run)
		report := batch.RunReport{Run: run, Result: result, Err: err}

		switch {
		case err != nil:
			summary.Failed++
			zap.L().Warn("run could not be executed",
				zap.String("run", run.Label()),
				zap.Error(err))
		case result.Status == batch.StatusSkipped:
			summary.Skipped++
			zap.L().Debug("run skipped", zap.String("run", run.Label()))
		default:
			summary.Executed++
			if result.Status == batch.StatusFailed {
				summary.Failed++
				zap.L().Warn("run exited non-zero",
					zap.String("run", run.Label()),
					zap.Int64("exit_code", result.ExitCode))
			}
			if err := d.appendTiming(ds, run, result); err != nil {
				return summary, err
			}
		}

		if d.onReport != nil {
			d.onReport(report)
		}
	}

	return summary, nil
}

// appendTiming records timing for executed runs only, so row counts reflect
// work actually performed.
func (d *Driver) appendTiming(ds batch.Dataset, run batch.Run, result *batch.Result) error {
	if d.timings == nil {
		return nil
	}

	err := d.timings.Append(timing.Record{
		InputFile:  ds.NotesPath,
		OutputDir:  run.OutDir,
		StartedAt:  result.StartedAt,
		FinishedAt: result.FinishedAt,
		Duration:   result.Duration,
	})
	if err != nil {
		return fmt.Errorf("append timing record: %w", err)
	}
	return nil
}
