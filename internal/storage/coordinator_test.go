package storage_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	mu       sync.Mutex
	puts     []storage.Item
	deletes  []storage.Key
	txs      [][]storage.Operation
	failWith error
}

func (w *recordingWriter) PutItem(_ context.Context, _ string, item storage.Item, _ storage.Condition) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return w.failWith
	}
	w.puts = append(w.puts, item)
	return nil
}

func (w *recordingWriter) DeleteItem(_ context.Context, _ string, key storage.Key, _ storage.Condition) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return w.failWith
	}
	w.deletes = append(w.deletes, key)
	return nil
}

func (w *recordingWriter) TransactWrite(_ context.Context, ops []storage.Operation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWith != nil {
		return w.failWith
	}
	w.txs = append(w.txs, ops)
	return nil
}

func item(i int) storage.Item {
	return storage.Item{
		storage.AttrPK: fmt.Sprintf("ITEM#%d", i),
		storage.AttrSK: "METADATA",
	}
}

func TestCoordinator_CommitPaths(t *testing.T) {
	tests := []struct {
		name       string
		ops        int
		wantPuts   int
		wantTxs    int
		wantTxSize int
		wantErrIs  error
	}{
		{name: "no operations is a no-op", ops: 0},
		{name: "single operation uses single-item write", ops: 1, wantPuts: 1},
		{name: "two operations use a transaction", ops: 2, wantTxs: 1, wantTxSize: 2},
		{name: "one hundred operations use a transaction", ops: 100, wantTxs: 1, wantTxSize: 100},
		{name: "one hundred and one operations are rejected", ops: 101, wantErrIs: domainErrors.ErrTransactionTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &recordingWriter{}
			c := storage.NewCoordinator(w, zerolog.Nop())
			for i := 0; i < tt.ops; i++ {
				c.Put("printqueue", item(i))
			}

			err := c.Commit(context.Background())

			if tt.wantErrIs != nil {
				require.ErrorIs(t, err, tt.wantErrIs)
			} else {
				require.NoError(t, err)
			}
			assert.Len(t, w.puts, tt.wantPuts)
			assert.Len(t, w.txs, tt.wantTxs)
			if tt.wantTxs > 0 {
				assert.Len(t, w.txs[0], tt.wantTxSize)
			}
			assert.Zero(t, c.Pending())
		})
	}
}

func TestCoordinator_SingleDeleteUsesDeleteItem(t *testing.T) {
	w := &recordingWriter{}
	c := storage.NewCoordinator(w, zerolog.Nop())

	c.Delete("printqueue", storage.Key{PK: "OUTBOX#1", SK: "EVENT#x"})
	require.NoError(t, c.Commit(context.Background()))

	require.Len(t, w.deletes, 1)
	assert.Equal(t, "OUTBOX#1", w.deletes[0].PK)
	assert.Empty(t, w.puts)
	assert.Empty(t, w.txs)
}

func TestCoordinator_SecondCommitIsNoop(t *testing.T) {
	w := &recordingWriter{}
	c := storage.NewCoordinator(w, zerolog.Nop())
	c.Put("printqueue", item(1))
	c.Put("printqueue", item(2))

	require.NoError(t, c.Commit(context.Background()))
	require.NoError(t, c.Commit(context.Background()))

	assert.Len(t, w.txs, 1)
}

func TestCoordinator_CancelledContextWritesNothing(t *testing.T) {
	w := &recordingWriter{}
	c := storage.NewCoordinator(w, zerolog.Nop())
	c.Put("printqueue", item(1))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Commit(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, w.puts)
}

func TestCoordinator_WriterErrorPropagates(t *testing.T) {
	w := &recordingWriter{failWith: storage.ErrConditionFailed}
	c := storage.NewCoordinator(w, zerolog.Nop())
	c.Put("printqueue", item(1), storage.AttributeEquals("status", "queued"))

	err := c.Commit(context.Background())
	assert.True(t, errors.Is(err, storage.ErrConditionFailed))
}

func TestCoordinator_PutCopiesItem(t *testing.T) {
	w := &recordingWriter{}
	c := storage.NewCoordinator(w, zerolog.Nop())
	it := item(1)
	c.Put("printqueue", it)
	it["status"] = "mutated"

	require.NoError(t, c.Commit(context.Background()))
	require.Len(t, w.puts, 1)
	_, ok := w.puts[0]["status"]
	assert.False(t, ok)
}

func TestCoordinator_WithMaxItems(t *testing.T) {
	w := &recordingWriter{}
	c := storage.NewCoordinator(w, zerolog.Nop(), storage.WithMaxItems(2))
	for i := 0; i < 3; i++ {
		c.Put("printqueue", item(i))
	}

	err := c.Commit(context.Background())
	var de *domainErrors.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "transaction_too_large", de.Code)
	assert.Empty(t, w.txs)
}

func TestCoordinator_CloseReportsPendingOperations(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	c := storage.NewCoordinator(&recordingWriter{}, logger)
	c.Put("printqueue", item(7))

	c.Close()

	out := buf.String()
	assert.Contains(t, out, `"level":"fatal"`)
	assert.Contains(t, out, "ITEM#7|METADATA")
	assert.Contains(t, out, "uncommitted storage operations discarded")
	assert.Zero(t, c.Pending())
}

func TestCoordinator_CloseAfterCommitIsSilent(t *testing.T) {
	var buf bytes.Buffer
	c := storage.NewCoordinator(&recordingWriter{}, zerolog.New(&buf))
	c.Put("printqueue", item(1))
	require.NoError(t, c.Commit(context.Background()))

	c.Close()

	assert.Empty(t, buf.String())
}

func TestCoordinator_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics("test", reg)
	factory := storage.NewCoordinatorFactory(&recordingWriter{}, zerolog.Nop(), storage.WithMetrics(metrics))

	single := factory.New()
	single.Put("printqueue", item(1))
	require.NoError(t, single.Commit(context.Background()))

	tx := factory.New()
	tx.Put("printqueue", item(1))
	tx.Put("printqueue", item(2))
	require.NoError(t, tx.Commit(context.Background()))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageCommits.WithLabelValues(storage.PathSingle, "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StorageCommits.WithLabelValues(storage.PathTransaction, "success")))
}
