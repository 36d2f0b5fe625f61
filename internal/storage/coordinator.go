package storage

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// DefaultMaxTransactionItems is the largest number of operations a single
// transaction may carry.
const DefaultMaxTransactionItems = 100

// Commit paths reported to metrics and logs.
const (
	PathSingle      = "single"
	PathTransaction = "transaction"
)

// Coordinator collects the mutations of one logical operation and commits
// them as a single all-or-nothing unit. A Coordinator is used by one
// goroutine at a time and is not reused across operations.
type Coordinator struct {
	writer   Writer
	maxItems int
	metrics  *observability.Metrics
	state    *pending
}

// pending is kept apart from the Coordinator so the GC cleanup can inspect it
// after the Coordinator itself is unreachable.
type pending struct {
	mu     sync.Mutex
	ops    []Operation
	logger zerolog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithMaxItems overrides the transaction size cap.
func WithMaxItems(n int) CoordinatorOption {
	return func(c *Coordinator) {
		if n > 0 {
			c.maxItems = n
		}
	}
}

// WithMetrics records commit outcomes.
func WithMetrics(m *observability.Metrics) CoordinatorOption {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// NewCoordinator creates an empty Coordinator over w.
func NewCoordinator(w Writer, logger zerolog.Logger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		writer:   w,
		maxItems: DefaultMaxTransactionItems,
		state:    &pending{logger: logger},
	}
	for _, opt := range opts {
		opt(c)
	}
	runtime.AddCleanup(c, func(p *pending) { p.reportLeak("coordinator garbage collected") }, c.state)
	return c
}

// Put registers a put of item into table. The item must carry pk and sk.
func (c *Coordinator) Put(table string, item Item, cond ...Condition) {
	op := Operation{Kind: OpPut, Table: table, Key: item.Key(), Item: item.Clone()}
	if len(cond) > 0 {
		op.Condition = cond[0]
	}
	c.add(op)
}

// Delete registers a delete of key from table.
func (c *Coordinator) Delete(table string, key Key, cond ...Condition) {
	op := Operation{Kind: OpDelete, Table: table, Key: key}
	if len(cond) > 0 {
		op.Condition = cond[0]
	}
	c.add(op)
}

func (c *Coordinator) add(op Operation) {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	c.state.ops = append(c.state.ops, op)
}

// Pending returns the number of registered, uncommitted operations.
func (c *Coordinator) Pending() int {
	c.state.mu.Lock()
	defer c.state.mu.Unlock()
	return len(c.state.ops)
}

// Commit writes every pending operation. Zero operations is a no-op, one
// operation uses the single-item primitive and two or more use one
// transaction. Pending operations are consumed whatever the outcome, so a
// second Commit without new registrations does nothing.
func (c *Coordinator) Commit(ctx context.Context) error {
	c.state.mu.Lock()
	ops := c.state.ops
	c.state.ops = nil
	c.state.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	if len(ops) > c.maxItems {
		c.observe(PathTransaction, len(ops), domainErrors.ErrTransactionTooLarge, 0)
		return domainErrors.TooLarge(len(ops), c.maxItems)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("commit cancelled: %w", err)
	}

	start := time.Now()
	var (
		err  error
		path string
	)
	if len(ops) == 1 {
		path = PathSingle
		err = c.writeSingle(ctx, ops[0])
	} else {
		path = PathTransaction
		err = c.writer.TransactWrite(ctx, ops)
	}
	c.observe(path, len(ops), err, time.Since(start))
	if err != nil {
		return fmt.Errorf("commit %d operation(s): %w", len(ops), err)
	}
	return nil
}

func (c *Coordinator) writeSingle(ctx context.Context, op Operation) error {
	if op.Kind == OpDelete {
		return c.writer.DeleteItem(ctx, op.Table, op.Key, op.Condition)
	}
	return c.writer.PutItem(ctx, op.Table, op.Item, op.Condition)
}

func (c *Coordinator) observe(path string, n int, err error, elapsed time.Duration) {
	if c.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.metrics.StorageCommits.WithLabelValues(path, result).Inc()
	if elapsed > 0 {
		c.metrics.StorageCommitDuration.WithLabelValues(path).Observe(elapsed.Seconds())
	}
	c.metrics.StorageCommitSize.Observe(float64(n))
}

// Close releases the Coordinator. Operations still pending at this point
// were never persisted although the caller may believe they were, so they are
// reported at fatal level and dropped.
func (c *Coordinator) Close() {
	c.state.reportLeak("coordinator closed")
}

func (p *pending) reportLeak(reason string) {
	p.mu.Lock()
	ops := p.ops
	p.ops = nil
	p.mu.Unlock()

	if len(ops) == 0 {
		return
	}
	keys := make([]string, 0, len(ops))
	for _, op := range ops {
		keys = append(keys, op.Kind.String()+" "+op.Table+"/"+op.Key.String())
	}
	p.logger.WithLevel(zerolog.FatalLevel).
		Str("reason", reason).
		Int("pending_operations", len(ops)).
		Strs("operations", keys).
		Msg("uncommitted storage operations discarded")
}

// CoordinatorFactory hands out Coordinators sharing one writer and options.
type CoordinatorFactory struct {
	writer Writer
	logger zerolog.Logger
	opts   []CoordinatorOption
}

// NewCoordinatorFactory creates a CoordinatorFactory.
func NewCoordinatorFactory(w Writer, logger zerolog.Logger, opts ...CoordinatorOption) *CoordinatorFactory {
	return &CoordinatorFactory{writer: w, logger: logger, opts: opts}
}

// New returns a fresh Coordinator for one logical operation.
func (f *CoordinatorFactory) New() *Coordinator {
	return NewCoordinator(f.writer, f.logger, f.opts...)
}
