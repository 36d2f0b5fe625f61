package relay

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/rs/zerolog"
)

// Locker is a lease that keeps a single runner reading the feed.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// DefaultMaxAttempts is how many times the earliest failed record is retried
// while the bus accepts other records before it is parked.
const DefaultMaxAttempts = 5

// RunnerConfig holds the feed polling settings.
type RunnerConfig struct {
	Consumer    string
	BatchSize   int
	LeaseTTL    time.Duration
	MaxAttempts int
}

// PollResult summarizes one batch.
type PollResult struct {
	Read     int
	Failed   int
	Parked   int
	Advanced bool
}

// Runner reads the change feed after a durable checkpoint and hands each
// batch to the Handler. Failed records are redelivered: the checkpoint only
// moves up to the record before the earliest failure.
type Runner struct {
	feed        storage.FeedReader
	checkpoints storage.CheckpointStore
	handler     *Handler
	lock        Locker
	cfg         RunnerConfig
	logger      zerolog.Logger
	held        bool

	// earliest failed record of the last batch and how often it failed
	headID       string
	headAttempts int
}

// NewRunner creates a new Runner.
func NewRunner(
	feed storage.FeedReader,
	checkpoints storage.CheckpointStore,
	handler *Handler,
	lock Locker,
	cfg RunnerConfig,
	logger zerolog.Logger,
) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Runner{
		feed:        feed,
		checkpoints: checkpoints,
		handler:     handler,
		lock:        lock,
		cfg:         cfg,
		logger:      logger.With().Str("consumer", cfg.Consumer).Logger(),
	}
}

// PollOnce processes one batch.
func (r *Runner) PollOnce(ctx context.Context) (PollResult, error) {
	pos, err := r.checkpoints.LoadCheckpoint(ctx, r.cfg.Consumer)
	if err != nil {
		return PollResult{}, fmt.Errorf("load checkpoint: %w", err)
	}
	records, err := r.feed.ReadAfter(ctx, pos, r.cfg.BatchSize)
	if err != nil {
		return PollResult{}, fmt.Errorf("read change feed after %s: %w", pos, err)
	}
	if len(records) == 0 {
		return PollResult{}, nil
	}

	result := r.handler.HandleBatch(ctx, records)
	failures := r.settle(records, result)
	next := NextCheckpoint(pos, records, failures)
	res := PollResult{
		Read:     len(records),
		Failed:   len(failures),
		Parked:   len(result.Failures) - len(failures),
		Advanced: next != pos,
	}
	if res.Advanced {
		if err := r.checkpoints.SaveCheckpoint(ctx, r.cfg.Consumer, next); err != nil {
			return res, fmt.Errorf("save checkpoint %s: %w", next, err)
		}
	}

	if len(failures) > 0 {
		r.logger.Warn().
			Strs("failed_records", failures).
			Int("published", result.Published).
			Str("checkpoint", next.String()).
			Msg("Batch partially failed, failed records will be redelivered")
	}
	return res, nil
}

// settle returns the failures that must be redelivered. Rejected rows are
// parked at once. The earliest remaining failure is parked after failing
// MaxAttempts batches in which other records did publish, so an unreachable
// bus never parks anything.
func (r *Runner) settle(records []storage.ChangeRecord, result BatchResult) []string {
	if len(result.Failures) == 0 {
		r.headID, r.headAttempts = "", 0
		return nil
	}

	byID := make(map[string]storage.ChangeRecord, len(records))
	for _, rec := range records {
		byID[rec.ID()] = rec
	}
	parked := make(map[string]struct{}, len(result.Rejected))
	for _, id := range result.Rejected {
		parked[id] = struct{}{}
		r.park(byID[id], 1, "malformed outbox row")
	}

	head := ""
	for _, rec := range records {
		if _, ok := parked[rec.ID()]; ok {
			continue
		}
		if slices.Contains(result.Failures, rec.ID()) {
			head = rec.ID()
			break
		}
	}
	if head != "" {
		if head != r.headID {
			r.headID, r.headAttempts = head, 0
		}
		if result.Published > 0 {
			r.headAttempts++
		}
		if r.headAttempts >= r.cfg.MaxAttempts {
			r.park(byID[head], r.headAttempts, "publish kept failing")
			parked[head] = struct{}{}
			r.headID, r.headAttempts = "", 0
		}
	}

	failures := make([]string, 0, len(result.Failures))
	for _, id := range result.Failures {
		if _, ok := parked[id]; !ok {
			failures = append(failures, id)
		}
	}
	return failures
}

// park gives up on a record so the checkpoint can move past it.
func (r *Runner) park(rec storage.ChangeRecord, attempts int, reason string) {
	r.logger.Error().
		Str("record_id", rec.ID()).
		Str("pk", rec.Key.PK).
		Int("attempts", attempts).
		Str("reason", reason).
		Msg("Outbox record parked, it will not be published")
	r.handler.count(OutcomeParked)
}

// NextCheckpoint returns the position to resume after: the last record of
// the batch, or the record preceding the earliest failure.
func NextCheckpoint(current storage.Position, records []storage.ChangeRecord, failures []string) storage.Position {
	if len(failures) == 0 {
		return records[len(records)-1].Position
	}
	failed := make(map[string]struct{}, len(failures))
	for _, id := range failures {
		failed[id] = struct{}{}
	}
	next := current
	for _, rec := range records {
		if _, ok := failed[rec.ID()]; ok {
			break
		}
		next = rec.Position
	}
	return next
}

// Run polls every interval until ctx is cancelled. Only the lease holder
// reads the feed.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer r.release()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !r.ensureLease(ctx) {
				continue
			}
			r.drain(ctx)
		}
	}
}

// drain reads full batches back to back while they make clean progress. A
// batch with failures waits for the next tick. The lease is extended before
// every further batch.
func (r *Runner) drain(ctx context.Context) {
	for ctx.Err() == nil {
		res, err := r.PollOnce(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("Relay poll failed")
			return
		}
		if res.Read < r.cfg.BatchSize || res.Failed > 0 || !res.Advanced {
			return
		}
		if !r.ensureLease(ctx) {
			return
		}
	}
}

func (r *Runner) ensureLease(ctx context.Context) bool {
	if r.held {
		if err := r.lock.Extend(ctx, r.cfg.LeaseTTL); err != nil {
			r.logger.Warn().Err(err).Msg("Relay lease lost")
			r.held = false
		}
		return r.held
	}

	ok, err := r.lock.Acquire(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to acquire relay lease")
		return false
	}
	if ok {
		r.logger.Info().Msg("Relay lease acquired")
	}
	r.held = ok
	return ok
}

func (r *Runner) release() {
	if !r.held {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.lock.Release(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to release relay lease")
	}
	r.held = false
}
