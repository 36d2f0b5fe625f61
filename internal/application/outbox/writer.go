package outbox

import (
	"context"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/outbox"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/cassiomorais/printqueue/internal/repository"
	"github.com/cassiomorais/printqueue/internal/storage"
)

// Writer turns domain events into outbox rows staged on a Coordinator.
type Writer struct {
	repo      *repository.OutboxRepository
	retention time.Duration
	now       func() time.Time
}

// NewWriter creates a new Writer. A non-positive retention selects the
// default of seven days.
func NewWriter(repo *repository.OutboxRepository, retention time.Duration) *Writer {
	if retention <= 0 {
		retention = outbox.DefaultRetention
	}
	return &Writer{repo: repo, retention: retention, now: time.Now}
}

// StoreEventFor registers the outbox row for event on c and returns it. It
// does not commit: the row must ride in the same commit as the mutation that
// produced the event.
func (w *Writer) StoreEventFor(ctx context.Context, c *storage.Coordinator, event outbox.DomainEvent) (*outbox.Item, error) {
	item, err := outbox.NewItem(event, w.now(), w.retention, observability.TraceID(ctx))
	if err != nil {
		return nil, err
	}
	w.repo.StageInsert(c, item)
	return item, nil
}
