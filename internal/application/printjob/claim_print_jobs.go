package printjob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/cassiomorais/printqueue/internal/domain/printjob"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultMaxJobs is used when a poll does not ask for a positive count.
	DefaultMaxJobs = 10
	// MaxJobsLimit caps how many jobs one poll may claim.
	MaxJobsLimit = 50
)

// ClaimPrintJobsUseCase hands queued jobs to the printer that polls for them.
type ClaimPrintJobsUseCase struct {
	jobs           JobStore
	printers       PrinterStore
	outbox         OutboxWriter
	coordinators   Coordinators
	defaultMaxJobs int
	metrics        *observability.Metrics
	logger         zerolog.Logger
	now            func() time.Time
}

// NewClaimPrintJobsUseCase creates a new ClaimPrintJobsUseCase.
func NewClaimPrintJobsUseCase(
	jobs JobStore,
	printers PrinterStore,
	outbox OutboxWriter,
	coordinators Coordinators,
	defaultMaxJobs int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *ClaimPrintJobsUseCase {
	if defaultMaxJobs <= 0 || defaultMaxJobs > MaxJobsLimit {
		defaultMaxJobs = DefaultMaxJobs
	}
	return &ClaimPrintJobsUseCase{
		jobs:           jobs,
		printers:       printers,
		outbox:         outbox,
		coordinators:   coordinators,
		defaultMaxJobs: defaultMaxJobs,
		metrics:        metrics,
		logger:         logger,
		now:            time.Now,
	}
}

// ClampMaxJobs maps a requested count into [1, MaxJobsLimit]; non-positive
// values select def.
func ClampMaxJobs(requested, def int) int {
	switch {
	case requested <= 0:
		return def
	case requested > MaxJobsLimit:
		return MaxJobsLimit
	default:
		return requested
	}
}

// Execute claims up to maxJobs of the printer's oldest queued jobs. Each job
// moves to processing in its own conditional commit, so a job taken by a
// concurrent poll is skipped rather than returned twice. An empty, non-nil
// slice means nothing was waiting.
func (uc *ClaimPrintJobsUseCase) Execute(ctx context.Context, printerID uuid.UUID, maxJobs int) ([]printjob.PrintJob, error) {
	limit := ClampMaxJobs(maxJobs, uc.defaultMaxJobs)

	uc.heartbeat(ctx, printerID)

	queued, err := uc.jobs.ListQueued(ctx, printerID, limit)
	if err != nil {
		return nil, err
	}

	claimed := make([]printjob.PrintJob, 0, len(queued))
	for _, job := range queued {
		next, err := uc.claim(ctx, job)
		if errors.Is(err, storage.ErrConditionFailed) {
			uc.logger.Debug().Str("print_job_id", job.ID.String()).Msg("Job claimed by a concurrent poll, skipping")
			if uc.metrics != nil {
				uc.metrics.ClaimConflicts.Inc()
			}
			continue
		}
		if err != nil {
			if len(claimed) == 0 {
				return nil, err
			}
			// Jobs already moved to processing belong to this printer now and
			// must reach it, so the poll ends early instead of failing.
			uc.logger.Error().Err(err).
				Str("printer_id", printerID.String()).
				Int("claimed", len(claimed)).
				Msg("Claim interrupted, returning jobs claimed so far")
			break
		}
		claimed = append(claimed, next)
		recordTransition(uc.metrics, next.Status)
	}

	if uc.metrics != nil {
		uc.metrics.ClaimedPerPoll.Observe(float64(len(claimed)))
	}
	return claimed, nil
}

func (uc *ClaimPrintJobsUseCase) claim(ctx context.Context, job printjob.PrintJob) (printjob.PrintJob, error) {
	next, event, err := job.MarkProcessing(uc.now())
	if err != nil {
		return printjob.PrintJob{}, err
	}

	c := uc.coordinators.New()
	defer c.Close()

	uc.jobs.StageTransition(c, next, printjob.StatusQueued)
	if _, err := uc.outbox.StoreEventFor(ctx, c, event); err != nil {
		return printjob.PrintJob{}, fmt.Errorf("stage job claimed event: %w", err)
	}
	if err := c.Commit(ctx); err != nil {
		return printjob.PrintJob{}, fmt.Errorf("claim print job %s: %w", job.ID, err)
	}
	return next, nil
}

// heartbeat refreshes the printer's last-seen time. It is advisory and never
// fails the poll.
func (uc *ClaimPrintJobsUseCase) heartbeat(ctx context.Context, printerID uuid.UUID) {
	now := uc.now()
	err := updatePrinter(ctx, uc.printers, uc.coordinators, printerID, func(p printer.Printer) printer.Printer {
		return p.Heartbeat(now)
	})
	if err != nil {
		uc.logger.Warn().Err(err).Str("printer_id", printerID.String()).Msg("Heartbeat update failed")
	}
}
