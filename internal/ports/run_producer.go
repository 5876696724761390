package ports

import (
	"context"

	"notebatch/internal/domain/batch"
)

// RunProducer yields runs for execution. Implementations return io.EOF once
// the work feed is exhausted.
type RunProducer interface {
	NextRun(ctx context.Context) (batch.Run, error)
}
