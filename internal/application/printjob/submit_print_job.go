package printjob

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/printjob"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/google/uuid"
)

// SubmitPrintJobRequest holds the input for queueing a sticker print.
type SubmitPrintJobRequest struct {
	PrinterID  uuid.UUID
	UserID     string
	StickerID  string
	StickerURL string
}

// SubmitPrintJobUseCase queues a job and its JobQueued event in one commit.
type SubmitPrintJobUseCase struct {
	jobs         JobStore
	printers     PrinterStore
	outbox       OutboxWriter
	coordinators Coordinators
	metrics      *observability.Metrics
	now          func() time.Time
}

// NewSubmitPrintJobUseCase creates a new SubmitPrintJobUseCase.
func NewSubmitPrintJobUseCase(
	jobs JobStore,
	printers PrinterStore,
	outbox OutboxWriter,
	coordinators Coordinators,
	metrics *observability.Metrics,
) *SubmitPrintJobUseCase {
	return &SubmitPrintJobUseCase{
		jobs:         jobs,
		printers:     printers,
		outbox:       outbox,
		coordinators: coordinators,
		metrics:      metrics,
		now:          time.Now,
	}
}

// Execute validates the request, checks the printer exists and persists the
// job together with its outbox row.
func (uc *SubmitPrintJobUseCase) Execute(ctx context.Context, req SubmitPrintJobRequest) (printjob.PrintJob, error) {
	job, queued, err := printjob.New(req.PrinterID, req.UserID, req.StickerID, req.StickerURL, uc.now())
	if err != nil {
		return printjob.PrintJob{}, err
	}
	if _, err := uc.printers.GetByID(ctx, req.PrinterID); err != nil {
		return printjob.PrintJob{}, err
	}

	c := uc.coordinators.New()
	defer c.Close()

	uc.jobs.StageCreate(c, job)
	if _, err := uc.outbox.StoreEventFor(ctx, c, queued); err != nil {
		return printjob.PrintJob{}, fmt.Errorf("stage job queued event: %w", err)
	}
	if err := c.Commit(ctx); err != nil {
		return printjob.PrintJob{}, fmt.Errorf("persist print job: %w", err)
	}

	recordTransition(uc.metrics, job.Status)
	return job, nil
}

// GetPrintJobUseCase loads a single job.
type GetPrintJobUseCase struct {
	jobs JobStore
}

// NewGetPrintJobUseCase creates a new GetPrintJobUseCase.
func NewGetPrintJobUseCase(jobs JobStore) *GetPrintJobUseCase {
	return &GetPrintJobUseCase{jobs: jobs}
}

// Execute returns the job with the given ID.
func (uc *GetPrintJobUseCase) Execute(ctx context.Context, id uuid.UUID) (printjob.PrintJob, error) {
	return uc.jobs.GetByID(ctx, id)
}

func recordTransition(m *observability.Metrics, status printjob.Status) {
	if m == nil {
		return
	}
	m.PrintJobTransitions.WithLabelValues(string(status)).Inc()
}
