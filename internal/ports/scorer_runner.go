package ports

import (
	"context"

	"notebatch/internal/domain/batch"
)

// ScorerRunner executes one scorer invocation for a run, creating the run's
// output directory on demand and skipping work that is already complete.
type ScorerRunner interface {
	RunOnce(ctx context.Context, run batch.Run) (*batch.Result, error)
	Close() error
}
