package ports

import (
	"context"

	"notebatch/internal/domain/batch"
)

// RunReportPublisher publishes run reports to an external system for
// downstream analysis.
type RunReportPublisher interface {
	PublishRunReport(ctx context.Context, report batch.RunReport) error
	Close() error
}
