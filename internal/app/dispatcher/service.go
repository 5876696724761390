// Package dispatcher fans a batch of scoring runs out over a bounded pool of
// workers, either by splitting each dataset's run range or by splitting the
// dataset list itself.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notebatch/internal/app/ranger"
	"notebatch/internal/domain/batch"
	"notebatch/internal/infra/timing"
	"notebatch/internal/ports"
)

// Config controls discovery, chunking, and failure semantics for one batch.
// Exactly one of SplitByRuns and SplitByFiles must be set.
type Config struct {
	DataRoot   string
	Pattern    string
	StatusFile string
	OutputRoot string

	TotalRuns   int
	Parallelism int

	SplitByRuns  bool
	SplitByFiles bool

	// PropagateRunFailures makes the batch exit non-zero when any individual
	// run failed, even though dispatch itself completed. Disable to treat
	// per-run failures as advisory only.
	PropagateRunFailures bool

	// BatchID tags published run reports; a fresh UUID is generated when
	// empty.
	BatchID string
}

// Service owns one batch dispatch. The runner executes individual runs; the
// publisher, when present, receives a report per run.
type Service struct {
	cfg       Config
	runner    ports.ScorerRunner
	publisher ports.RunReportPublisher
}

// NewService validates cfg and builds a Service. publisher may be nil.
func NewService(cfg Config, runner ports.ScorerRunner, publisher ports.RunReportPublisher) (*Service, error) {
	if cfg.DataRoot == "" {
		return nil, fmt.Errorf("data root must be provided")
	}
	if cfg.OutputRoot == "" {
		return nil, fmt.Errorf("output root must be provided")
	}
	if cfg.StatusFile == "" {
		return nil, fmt.Errorf("status file must be provided")
	}
	if cfg.TotalRuns <= 0 {
		return nil, fmt.Errorf("total runs must be positive, got %d", cfg.TotalRuns)
	}
	if cfg.Parallelism <= 0 {
		return nil, fmt.Errorf("parallelism must be positive, got %d", cfg.Parallelism)
	}
	if cfg.SplitByRuns == cfg.SplitByFiles {
		return nil, fmt.Errorf("exactly one split strategy must be selected")
	}
	if runner == nil {
		return nil, fmt.Errorf("scorer runner must be provided")
	}

	if cfg.Pattern == "" {
		cfg.Pattern = DefaultPattern
	}
	if cfg.BatchID == "" {
		cfg.BatchID = uuid.NewString()
	}

	return &Service{cfg: cfg, runner: runner, publisher: publisher}, nil
}

// Dispatch discovers datasets and processes the whole batch, blocking until
// every worker has finished. The returned summary aggregates all workers.
func (s *Service) Dispatch(ctx context.Context) (ranger.Summary, error) {
	datasets, err := s.discover()
	if err != nil {
		return ranger.Summary{}, err
	}

	zap.L().Info("dispatching batch",
		zap.String("batch_id", s.cfg.BatchID),
		zap.Int("datasets", len(datasets)),
		zap.Int("total_runs", s.cfg.TotalRuns),
		zap.Int("parallelism", s.cfg.Parallelism),
		zap.Bool("split_by_runs", s.cfg.SplitByRuns))

	var (
		summary ranger.Summary
		errs    []error
	)
	if s.cfg.SplitByRuns {
		summary, errs = s.dispatchByRuns(ctx, datasets)
	} else {
		summary, errs = s.dispatchByFiles(ctx, datasets)
	}

	if s.cfg.PropagateRunFailures && summary.Failed > 0 {
		errs = append(errs, fmt.Errorf("%d of %d attempted runs failed",
			summary.Failed, summary.Executed))
	}

	zap.L().Info("batch finished",
		zap.String("batch_id", s.cfg.BatchID),
		zap.Int("executed", summary.Executed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))

	return summary, errors.Join(errs...)
}

// dispatchByRuns processes datasets one at a time; within each dataset the
// run range [0, TotalRuns) is chunked across Parallelism concurrent drivers.
func (s *Service) dispatchByRuns(ctx context.Context, datasets []batch.Dataset) (ranger.Summary, []error) {
	var (
		total ranger.Summary
		errs  []error
	)
	chunks := batch.SplitRange(s.cfg.TotalRuns, s.cfg.Parallelism)

	for _, ds := range datasets {
		tasks := make([]task, 0, len(chunks))
		for _, chunk := range chunks {
			tasks = append(tasks, s.rangeTask(ds, chunk))
		}

		summary, dsErrs := s.launch(ctx, tasks)
		total.Add(summary)
		errs = append(errs, dsErrs...)
	}
	return total, errs
}

// dispatchByFiles chunks the dataset list across Parallelism concurrent
// workers; each worker processes the full run range of its datasets
// sequentially.
func (s *Service) dispatchByFiles(ctx context.Context, datasets []batch.Dataset) (ranger.Summary, []error) {
	chunks := batch.SplitRange(len(datasets), s.cfg.Parallelism)

	tasks := make([]task, 0, len(chunks))
	for _, chunk := range chunks {
		tasks = append(tasks, s.filesTask(datasets[chunk.Start:chunk.End]))
	}

	return s.launch(ctx, tasks)
}

type task func(ctx context.Context) (ranger.Summary, error)

// launch runs every task in its own goroutine and waits for all of them.
func (s *Service) launch(ctx context.Context, tasks []task) (ranger.Summary, []error) {
	var wg sync.WaitGroup
	summaries := make([]ranger.Summary, len(tasks))
	taskErrs := make([]error, len(tasks))

	for i, run := range tasks {
		wg.Add(1)
		go func(i int, run task) {
			defer wg.Done()
			summaries[i], taskErrs[i] = run(ctx)
		}(i, run)
	}
	wg.Wait()

	var (
		total ranger.Summary
		errs  []error
	)
	for i := range tasks {
		total.Add(summaries[i])
		if taskErrs[i] != nil {
			errs = append(errs, taskErrs[i])
		}
	}
	return total, errs
}

// rangeTask covers one chunk of one dataset's run range.
func (s *Service) rangeTask(ds batch.Dataset, chunk batch.Chunk) task {
	return func(ctx context.Context) (ranger.Summary, error) {
		parent := filepath.Join(s.cfg.OutputRoot, ds.Name)
		if err := os.MkdirAll(parent, 0o755); err != nil {
			return ranger.Summary{}, fmt.Errorf("create output dir for %s: %w", ds.Name, err)
		}

		writer := timing.NewWriter(filepath.Join(parent, timing.FileName(chunk.Start, chunk.End)))
		defer writer.Close()

		driver := ranger.NewDriver(s.runner, writer, s.publishReport)
		return driver.Execute(ctx, ds, parent, chunk.Start, chunk.End)
	}
}

// filesTask covers the full run range of a slice of datasets, one after
// another.
func (s *Service) filesTask(datasets []batch.Dataset) task {
	return func(ctx context.Context) (ranger.Summary, error) {
		var total ranger.Summary
		for _, ds := range datasets {
			parent := filepath.Join(s.cfg.OutputRoot, ds.Name)
			if err := os.MkdirAll(parent, 0o755); err != nil {
				return total, fmt.Errorf("create output dir for %s: %w", ds.Name, err)
			}

			writer := timing.NewWriter(filepath.Join(parent, timing.FileName(0, s.cfg.TotalRuns)))
			driver := ranger.NewDriver(s.runner, writer, s.publishReport)

			summary, err := driver.Execute(ctx, ds, parent, 0, s.cfg.TotalRuns)
			total.Add(summary)
			if closeErr := writer.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
			if err != nil {
				return total, err
			}
		}
		return total, nil
	}
}

// publishReport forwards one run report to the publisher, if configured.
// Publish failures are logged rather than failing the batch: the report
// stream is an observability surface, not the source of truth.
func (s *Service) publishReport(report batch.RunReport) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishRunReport(context.Background(), report); err != nil {
		zap.L().Warn("failed to publish run report",
			zap.String("run", report.Run.Label()),
			zap.Error(err))
	}
}
