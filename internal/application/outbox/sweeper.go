package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/outbox"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/cassiomorais/printqueue/internal/repository"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/rs/zerolog"
)

// Sweeper deletes outbox rows whose retention has elapsed. Stores with
// native item expiry do not need it.
type Sweeper struct {
	expirer      storage.Expirer
	coordinators *storage.CoordinatorFactory
	repo         *repository.OutboxRepository
	batchSize    int
	metrics      *observability.Metrics
	logger       zerolog.Logger
	now          func() time.Time
}

// NewSweeper creates a new Sweeper. batchSize is capped to the coordinator
// transaction limit.
func NewSweeper(
	expirer storage.Expirer,
	coordinators *storage.CoordinatorFactory,
	repo *repository.OutboxRepository,
	batchSize int,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Sweeper {
	if batchSize <= 0 || batchSize > storage.DefaultMaxTransactionItems {
		batchSize = storage.DefaultMaxTransactionItems
	}
	return &Sweeper{
		expirer:      expirer,
		coordinators: coordinators,
		repo:         repo,
		batchSize:    batchSize,
		metrics:      metrics,
		logger:       logger,
		now:          time.Now,
	}
}

// SweepOnce deletes every expired row and returns how many were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.now()
	total := 0
	for {
		keys, err := s.expirer.ExpiredKeys(ctx, s.repo.Table(), outbox.PartitionPrefix, cutoff, s.batchSize)
		if err != nil {
			return total, fmt.Errorf("list expired outbox rows: %w", err)
		}
		if len(keys) == 0 {
			return total, nil
		}

		c := s.coordinators.New()
		for _, k := range keys {
			s.repo.StageDelete(c, k)
		}
		err = c.Commit(ctx)
		c.Close()
		if err != nil {
			return total, fmt.Errorf("delete expired outbox rows: %w", err)
		}

		total += len(keys)
		if s.metrics != nil {
			s.metrics.OutboxSwept.Add(float64(len(keys)))
		}
		if len(keys) < s.batchSize {
			return total, nil
		}
	}
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.Error().Err(err).Int("deleted", n).Msg("Outbox sweep failed")
				continue
			}
			if n > 0 {
				s.logger.Info().Int("deleted", n).Msg("Expired outbox rows removed")
			}
		}
	}
}
