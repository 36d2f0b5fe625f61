package printer

import (
	"context"

	"github.com/cassiomorais/printqueue/internal/domain/outbox"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/google/uuid"
)

// PrinterStore reads printers and stages their writes on a coordinator.
type PrinterStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (printer.Printer, error)
	ListByEvent(ctx context.Context, eventName string) ([]printer.Printer, error)
	StageCreate(c *storage.Coordinator, p printer.Printer)
}

// OutboxWriter stages the outbox row of a domain event.
type OutboxWriter interface {
	StoreEventFor(ctx context.Context, c *storage.Coordinator, event outbox.DomainEvent) (*outbox.Item, error)
}

// Coordinators hands out one coordinator per atomic unit of work.
type Coordinators interface {
	New() *storage.Coordinator
}
