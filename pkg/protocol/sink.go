package protocol

import (
	"context"

	"github.com/dukex/pipewright/pkg/models"
)

// ReportSink receives finished run reports.
type ReportSink interface {
	Consume(ctx context.Context, report *models.RunReport) error
}
