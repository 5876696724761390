package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"notebatch/internal/app/dispatcher"
	"notebatch/internal/app/ranger"
	"notebatch/internal/app/survey"
	"notebatch/internal/app/worker"
	"notebatch/internal/conf"
	"notebatch/internal/domain/batch"
	kafkainfra "notebatch/internal/infra/kafka"
	"notebatch/internal/infra/procfs"
	"notebatch/internal/infra/timing"
	"notebatch/internal/ports"
)

// runRange executes runs [start, end) for a single dataset, identified by its
// notes file, writing run directories and a timing CSV under parentOutDir.
func runRange(ctx context.Context, cfg *conf.Config, args []string) error {
	if len(args) < 2 || len(args) > 4 {
		return fmt.Errorf("usage: range <notesFile> <parentOutDir> [start] [end]")
	}
	notesFile, parentDir := args[0], args[1]

	start, end := 0, cfg.Batch.TotalRuns
	var err error
	if len(args) >= 3 {
		if start, err = parseIndex(args[2], "start"); err != nil {
			return err
		}
	}
	if len(args) == 4 {
		if end, err = parseIndex(args[3], "end"); err != nil {
			return err
		}
	}

	ds, err := batch.Derive(notesFile, statusPath(cfg))
	if err != nil {
		return err
	}

	runner, err := newRunner(cfg, parentDir, []string{filepath.Dir(notesFile), parentDir})
	if err != nil {
		return err
	}
	defer runner.Close()

	// The runner creates run directories (and thereby parentDir) on demand, so
	// an invalid range leaves the filesystem untouched.
	writer := timing.NewWriter(filepath.Join(parentDir, timing.FileName(start, end)))
	defer writer.Close()

	driver := ranger.NewDriver(runner, writer, nil)
	summary, err := driver.Execute(ctx, ds, parentDir, start, end)
	if err != nil {
		return err
	}

	zap.L().Info("range complete",
		zap.String("dataset", ds.Name),
		zap.Int("start", start),
		zap.Int("end", end),
		zap.Int("executed", summary.Executed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))

	if cfg.Batch.PropagateRunFailures && summary.Failed > 0 {
		return fmt.Errorf("%d of %d attempted runs failed", summary.Failed, summary.Executed)
	}
	return nil
}

// runDispatch discovers every dataset under the data root and processes the
// full batch with the configured split strategy.
func runDispatch(ctx context.Context, cfg *conf.Config, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("dispatch takes no arguments, got %d", len(args))
	}

	if err := os.MkdirAll(cfg.Batch.OutputRoot, 0o755); err != nil {
		return fmt.Errorf("create output root: %w", err)
	}

	runner, err := newRunner(cfg, cfg.Batch.OutputRoot, []string{cfg.Data.Root, cfg.Batch.OutputRoot})
	if err != nil {
		return err
	}
	defer runner.Close()

	batchID := uuid.NewString()

	var publisher ports.RunReportPublisher
	if cfg.Kafka.ReportsEnabled {
		kafkaPublisher, err := kafkainfra.NewPublisher(kafkainfra.PublisherConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ReportsTopic,
			BatchID: batchID,
		})
		if err != nil {
			return err
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	service, err := dispatcher.NewService(dispatcher.Config{
		DataRoot:             cfg.Data.Root,
		Pattern:              cfg.Data.Pattern,
		StatusFile:           statusPath(cfg),
		OutputRoot:           cfg.Batch.OutputRoot,
		TotalRuns:            cfg.Batch.TotalRuns,
		Parallelism:          cfg.Batch.Parallelism,
		SplitByRuns:          cfg.Batch.SplitByRuns,
		SplitByFiles:         cfg.Batch.SplitByFiles,
		PropagateRunFailures: cfg.Batch.PropagateRunFailures,
		BatchID:              batchID,
	}, runner, publisher)
	if err != nil {
		return err
	}

	_, err = service.Dispatch(ctx)
	return err
}

// runSample attaches the memory sampler to an already-running process and
// blocks until the process exits or the context is cancelled.
func runSample(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sample", flag.ContinueOnError)
	logPath := fs.String("log", "", "log file (defaults to the CSV path with a .log extension)")
	interval := fs.Duration("interval", 0, "sampling interval (defaults to 300s)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) < 2 || len(rest) > 3 {
		return fmt.Errorf("usage: sample [flags] <pid> <csvPath> [label]")
	}

	pid, err := strconv.Atoi(rest[0])
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid %q", rest[0])
	}
	csvPath := rest[1]
	label := fmt.Sprintf("pid-%d", pid)
	if len(rest) == 3 {
		label = rest[2]
	}

	sampler, err := procfs.New(procfs.Config{
		Interval: *interval,
		CSVPath:  csvPath,
		LogPath:  *logPath,
	})
	if err != nil {
		return err
	}

	return sampler.Watch(ctx, pid, label)
}

// runSurvey prints per-directory completion counts for an output tree.
func runSurvey(args []string) error {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}

	reports, err := survey.SurveyTree(root)
	if err != nil {
		return err
	}
	return survey.WriteReports(os.Stdout, root, reports)
}

// runEnqueue publishes one run request per (dataset, index) pair, then one
// end-of-feed marker per consuming worker.
func runEnqueue(ctx context.Context, cfg *conf.Config, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	workers := fs.Int("workers", 1, "number of consuming workers to release with end-of-feed markers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	datasets, err := dispatcher.Discover(cfg.Data.Root, cfg.Data.Pattern, statusPath(cfg))
	if err != nil {
		return err
	}

	enqueuer, err := kafkainfra.NewEnqueuer(cfg.Kafka.Brokers, cfg.Kafka.RequestsTopic)
	if err != nil {
		return err
	}
	defer enqueuer.Close()

	enqueued := 0
	for _, ds := range datasets {
		parent := filepath.Join(cfg.Batch.OutputRoot, ds.Name)
		for i := 0; i < cfg.Batch.TotalRuns; i++ {
			run := batch.Run{
				Dataset: ds,
				Index:   i,
				OutDir:  filepath.Join(parent, batch.RunDirName(i)),
			}
			if err := enqueuer.EnqueueRun(ctx, run); err != nil {
				return err
			}
			enqueued++
		}
	}
	for i := 0; i < *workers; i++ {
		if err := enqueuer.EnqueueDone(ctx); err != nil {
			return err
		}
	}

	zap.L().Info("run requests enqueued",
		zap.Int("datasets", len(datasets)),
		zap.Int("runs", enqueued),
		zap.Int("workers", *workers))
	return nil
}

// runWorker consumes run requests from Kafka and executes them with bounded
// parallelism until the feed ends.
func runWorker(ctx context.Context, cfg *conf.Config, args []string) error {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	maxRuns := fs.Int("max-runs", 0, "stop after this many runs (0 = run until the feed ends)")
	parallel := fs.Int("parallel", cfg.Batch.Parallelism, "maximum concurrent runs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	consumer, err := kafkainfra.NewConsumer(kafkainfra.Config{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.RequestsTopic,
		GroupID: cfg.Kafka.GroupID,
	})
	if err != nil {
		return err
	}
	defer consumer.Close()

	runner, err := newRunner(cfg, cfg.Batch.OutputRoot, []string{cfg.Data.Root, cfg.Batch.OutputRoot})
	if err != nil {
		return err
	}

	service := worker.NewService(runner)
	defer func() {
		if cerr := service.Close(); cerr != nil {
			zap.L().Warn("failed to close runner", zap.Error(cerr))
		}
	}()

	var publisher ports.RunReportPublisher
	if cfg.Kafka.ReportsEnabled {
		kafkaPublisher, err := kafkainfra.NewPublisher(kafkainfra.PublisherConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.ReportsTopic,
			BatchID: uuid.NewString(),
		})
		if err != nil {
			return err
		}
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	}

	onReport := func(report batch.RunReport) {
		if report.Failed() {
			zap.L().Warn("run failed", zap.String("run", report.Run.Label()), zap.Error(report.Err))
		} else {
			zap.L().Info("run finished", zap.String("run", report.Run.Label()))
		}
		if publisher != nil {
			if err := publisher.PublishRunReport(context.Background(), report); err != nil {
				zap.L().Warn("failed to publish run report",
					zap.String("run", report.Run.Label()),
					zap.Error(err))
			}
		}
	}

	return service.ExecuteFromProducer(ctx, consumer, *maxRuns, *parallel, onReport)
}
