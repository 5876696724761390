// Package worker consumes queued run requests and executes them with bounded
// parallelism. It is the consuming side of queue mode.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"notebatch/internal/domain/batch"
	"notebatch/internal/ports"
)

// Service pulls runs from a producer and hands them to a scorer runner.
type Service struct {
	runner ports.ScorerRunner
}

// NewService constructs a Service with the provided runner dependency.
func NewService(runner ports.ScorerRunner) *Service {
	return &Service{runner: runner}
}

// ExecuteFromProducer pulls runs from the supplied producer and executes them
// with bounded parallelism.
//
// If maxRuns is greater than zero the loop stops after the specified number
// of runs has been accepted. Otherwise it keeps consuming until the context
// is cancelled or the producer signals completion via io.EOF.
//
// When onReport is provided it is invoked after every run with the
// corresponding run report.
func (s *Service) ExecuteFromProducer(
	ctx context.Context,
	producer ports.RunProducer,
	maxRuns int,
	maxParallel int,
	onReport func(batch.RunReport),
) error {
	if maxParallel <= 0 {
		maxParallel = 1
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, maxParallel)
	processed := 0

	finish := func(err error) error {
		wg.Wait()
		return err
	}

	for {
		if maxRuns > 0 && processed >= maxRuns {
			return finish(nil)
		}

		run, err := producer.NextRun(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return finish(nil)
			}

			return finish(fmt.Errorf("get next run: %w", err))
		}

		sem <- struct{}{}
		wg.Add(1)
		processed++
		go func(run batch.Run) {
			defer wg.Done()
			defer func() { <-sem }()

			result, runErr := s.runner.RunOnce(ctx, run)
			if onReport != nil {
				onReport(batch.RunReport{Run: run, Result: result, Err: runErr})
			}
		}(run)
	}
}

// Close releases any resources owned by the underlying runner.
func (s *Service) Close() error {
	return s.runner.Close()
}
