package printjob

import (
	"context"
	"errors"

	"github.com/cassiomorais/printqueue/internal/domain/outbox"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/cassiomorais/printqueue/internal/domain/printjob"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/google/uuid"
)

// JobStore reads print jobs and stages their writes on a coordinator.
type JobStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (printjob.PrintJob, error)
	ListQueued(ctx context.Context, printerID uuid.UUID, limit int) ([]printjob.PrintJob, error)
	StageCreate(c *storage.Coordinator, j printjob.PrintJob)
	StageTransition(c *storage.Coordinator, j printjob.PrintJob, from printjob.Status)
}

// PrinterStore is the part of the printer repository the job use cases need.
type PrinterStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (printer.Printer, error)
	StageUpdate(c *storage.Coordinator, p printer.Printer)
}

// OutboxWriter stages the outbox row of a domain event.
type OutboxWriter interface {
	StoreEventFor(ctx context.Context, c *storage.Coordinator, event outbox.DomainEvent) (*outbox.Item, error)
}

// Coordinators hands out one coordinator per atomic unit of work.
type Coordinators interface {
	New() *storage.Coordinator
}

// printerUpdateAttempts bounds the re-reads of a printer whose version moved
// between read and write.
const printerUpdateAttempts = 3

// updatePrinter applies change to the stored printer and commits it under its
// version, re-reading the printer when a concurrent update won the write.
func updatePrinter(ctx context.Context, printers PrinterStore, coordinators Coordinators, id uuid.UUID, change func(printer.Printer) printer.Printer) error {
	for attempt := 1; ; attempt++ {
		p, err := printers.GetByID(ctx, id)
		if err != nil {
			return err
		}
		c := coordinators.New()
		printers.StageUpdate(c, change(p))
		err = c.Commit(ctx)
		c.Close()
		if !errors.Is(err, storage.ErrConditionFailed) || attempt == printerUpdateAttempts {
			return err
		}
	}
}
