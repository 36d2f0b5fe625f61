package testutil

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/outbox"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/cassiomorais/printqueue/internal/domain/printjob"
	"github.com/cassiomorais/printqueue/internal/repository"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/cassiomorais/printqueue/internal/storage/memory"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// Table is the logical table used by tests.
const Table = "printqueue"

func commit(t *testing.T, w storage.Writer, stage func(c *storage.Coordinator)) {
	t.Helper()
	c := storage.NewCoordinator(w, zerolog.Nop())
	defer c.Close()
	stage(c)
	require.NoError(t, c.Commit(context.Background()))
}

// SeedPrinter stores a registered printer directly, bypassing the outbox.
func SeedPrinter(t *testing.T, store *memory.Store, eventName, name string) printer.Printer {
	t.Helper()
	p, _, err := printer.New(eventName, name, "$2a$10$test-hash", time.Now())
	require.NoError(t, err)
	commit(t, store, func(c *storage.Coordinator) {
		repository.NewPrinterRepository(store, Table).StageCreate(c, p)
	})
	return p
}

// SeedQueuedJob stores a queued job for printerID created at createdAt.
func SeedQueuedJob(t *testing.T, store *memory.Store, printerID uuid.UUID, createdAt time.Time) printjob.PrintJob {
	t.Helper()
	j, _, err := printjob.New(printerID, "user-1", "sticker-"+uuid.NewString()[:8], "https://cdn.example.com/s.png", createdAt)
	require.NoError(t, err)
	commit(t, store, func(c *storage.Coordinator) {
		repository.NewPrintJobRepository(store, Table).StageCreate(c, j)
	})
	return j
}

// SeedProcessingJob stores a job already claimed by printerID.
func SeedProcessingJob(t *testing.T, store *memory.Store, printerID uuid.UUID) printjob.PrintJob {
	t.Helper()
	j := SeedQueuedJob(t, store, printerID, time.Now())
	next, _, err := j.MarkProcessing(time.Now())
	require.NoError(t, err)
	commit(t, store, func(c *storage.Coordinator) {
		repository.NewPrintJobRepository(store, Table).StageTransition(c, next, printjob.StatusQueued)
	})
	return next
}

// OutboxRows decodes every outbox row currently in the test table.
func OutboxRows(t *testing.T, store *memory.Store) []*outbox.Item {
	t.Helper()
	var rows []*outbox.Item
	for _, it := range store.Items(Table) {
		if !strings.HasPrefix(it.String(storage.AttrPK), outbox.PartitionPrefix) {
			continue
		}
		item, err := repository.DecodeOutboxItem(it)
		require.NoError(t, err)
		rows = append(rows, item)
	}
	return rows
}

// OutboxRowsOfType filters OutboxRows by event type.
func OutboxRowsOfType(t *testing.T, store *memory.Store, eventType string) []*outbox.Item {
	t.Helper()
	var rows []*outbox.Item
	for _, r := range OutboxRows(t, store) {
		if r.EventType == eventType {
			rows = append(rows, r)
		}
	}
	return rows
}

// OutboxInsert builds the change record the feed produces for a freshly
// written outbox row.
func OutboxInsert(t *testing.T, pos storage.Position, event outbox.DomainEvent) (storage.ChangeRecord, *outbox.Item) {
	t.Helper()
	item, err := outbox.NewItem(event, time.Now(), time.Hour, "")
	require.NoError(t, err)
	img := repository.EncodeOutboxItem(item)
	return storage.ChangeRecord{
		Position: pos,
		Event:    storage.ChangeInsert,
		Table:    Table,
		Key:      img.Key(),
		NewImage: img,
	}, item
}
