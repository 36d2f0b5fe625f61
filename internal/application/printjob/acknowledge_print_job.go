package printjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/domain/outbox"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/cassiomorais/printqueue/internal/domain/printjob"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AcknowledgePrintJobRequest reports the outcome of a print.
type AcknowledgePrintJobRequest struct {
	PrintJobID uuid.UUID
	PrinterID  uuid.UUID
	Success    bool
	Reason     string
}

// AcknowledgePrintJobUseCase finishes a processing job for its printer.
type AcknowledgePrintJobUseCase struct {
	jobs         JobStore
	printers     PrinterStore
	outbox       OutboxWriter
	coordinators Coordinators
	metrics      *observability.Metrics
	logger       zerolog.Logger
	now          func() time.Time
}

// NewAcknowledgePrintJobUseCase creates a new AcknowledgePrintJobUseCase.
func NewAcknowledgePrintJobUseCase(
	jobs JobStore,
	printers PrinterStore,
	outbox OutboxWriter,
	coordinators Coordinators,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *AcknowledgePrintJobUseCase {
	return &AcknowledgePrintJobUseCase{
		jobs:         jobs,
		printers:     printers,
		outbox:       outbox,
		coordinators: coordinators,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// Execute completes or fails the job. Only the owning printer may
// acknowledge, and only once: a job that is not processing yields
// ErrInvalidStateTransition.
func (uc *AcknowledgePrintJobUseCase) Execute(ctx context.Context, req AcknowledgePrintJobRequest) (printjob.PrintJob, error) {
	job, err := uc.jobs.GetByID(ctx, req.PrintJobID)
	if err != nil {
		return printjob.PrintJob{}, err
	}
	if job.PrinterID != req.PrinterID {
		return printjob.PrintJob{}, domainErrors.ErrOwnershipViolation
	}

	now := uc.now()
	var (
		next  printjob.PrintJob
		event outbox.DomainEvent
	)
	if req.Success {
		next, event, err = job.Complete(now)
	} else {
		next, event, err = job.Fail(req.Reason, now)
	}
	if err != nil {
		return printjob.PrintJob{}, err
	}

	c := uc.coordinators.New()
	defer c.Close()

	uc.jobs.StageTransition(c, next, printjob.StatusProcessing)
	if _, err := uc.outbox.StoreEventFor(ctx, c, event); err != nil {
		return printjob.PrintJob{}, fmt.Errorf("stage %s event: %w", event.EventName(), err)
	}
	if err := c.Commit(ctx); err != nil {
		if errors.Is(err, storage.ErrConditionFailed) {
			return printjob.PrintJob{}, domainErrors.InvalidTransition(string(printjob.StatusProcessing), string(next.Status))
		}
		return printjob.PrintJob{}, fmt.Errorf("acknowledge print job %s: %w", job.ID, err)
	}
	recordTransition(uc.metrics, next.Status)

	uc.recordProcessed(ctx, req.PrinterID, now)
	return next, nil
}

// recordProcessed stamps the printer's last processed time outside the
// acknowledge commit. Losing it only affects the operator status view.
func (uc *AcknowledgePrintJobUseCase) recordProcessed(ctx context.Context, printerID uuid.UUID, at time.Time) {
	err := updatePrinter(ctx, uc.printers, uc.coordinators, printerID, func(p printer.Printer) printer.Printer {
		return p.RecordJobProcessed(at)
	})
	if err != nil {
		uc.logger.Warn().Err(err).Str("printer_id", printerID.String()).Msg("Last processed update failed")
	}
}
