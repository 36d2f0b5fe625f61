// Package relay publishes committed outbox rows read from the storage change
// feed to the event bus.
package relay

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/outbox"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/cassiomorais/printqueue/internal/repository"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Record outcomes reported to metrics.
const (
	OutcomePublished = "published"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
	OutcomeRejected  = "rejected"
	OutcomeParked    = "parked"
)

// DefaultConcurrency bounds the in-flight publishes of one batch.
const DefaultConcurrency = 8

// Publisher sends one envelope to the event bus.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// BatchResult lists the IDs of the records that must be redelivered.
// Rejected is the subset of Failures that no retry can publish.
type BatchResult struct {
	Failures  []string
	Rejected  []string
	Published int
	Skipped   int
}

// Handler turns a batch of change records into bus messages.
type Handler struct {
	publisher   Publisher
	source      string
	concurrency int
	metrics     *observability.Metrics
	logger      zerolog.Logger
}

// NewHandler creates a new Handler. source identifies this service in
// published envelopes.
func NewHandler(publisher Publisher, source string, concurrency int, metrics *observability.Metrics, logger zerolog.Logger) *Handler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Handler{
		publisher:   publisher,
		source:      source,
		concurrency: concurrency,
		metrics:     metrics,
		logger:      logger,
	}
}

// Qualifies reports whether rec is the creation of an outbox row. Updates,
// removals and other rows sharing the table are ignored.
func Qualifies(rec storage.ChangeRecord) bool {
	return rec.Event == storage.ChangeInsert && strings.HasPrefix(rec.Key.PK, outbox.PartitionPrefix)
}

// HandleBatch publishes every qualifying record independently. A record that
// fails, whether the row is malformed or the bus rejects it, is reported by
// ID and never holds back the others.
func (h *Handler) HandleBatch(ctx context.Context, records []storage.ChangeRecord) BatchResult {
	start := time.Now()
	outcomes := make([]string, len(records))
	var (
		mu     sync.Mutex
		result BatchResult
	)

	var g errgroup.Group
	g.SetLimit(h.concurrency)
	for i, rec := range records {
		if !Qualifies(rec) {
			result.Skipped++
			h.count(OutcomeSkipped)
			continue
		}
		g.Go(func() error {
			outcome := h.publish(ctx, rec)
			mu.Lock()
			defer mu.Unlock()
			outcomes[i] = outcome
			if outcome == OutcomePublished {
				result.Published++
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, outcome := range outcomes {
		switch outcome {
		case OutcomeRejected:
			result.Rejected = append(result.Rejected, records[i].ID())
			result.Failures = append(result.Failures, records[i].ID())
		case OutcomeFailed:
			result.Failures = append(result.Failures, records[i].ID())
		}
	}
	if h.metrics != nil {
		h.metrics.RelayBatchDuration.Observe(time.Since(start).Seconds())
	}
	return result
}

func (h *Handler) publish(ctx context.Context, rec storage.ChangeRecord) string {
	log := h.logger.With().Str("record_id", rec.ID()).Str("pk", rec.Key.PK).Logger()

	item, err := repository.DecodeOutboxItem(rec.NewImage)
	if err != nil {
		log.Error().Err(err).Msg("Malformed outbox row")
		h.count(OutcomeRejected)
		return OutcomeRejected
	}

	env := NewEnvelope(item, h.source)
	if err := h.publisher.Publish(ctx, env); err != nil {
		log.Warn().Err(err).Str("event_id", env.ID).Str("event_type", env.Type).Msg("Publish failed, record will be redelivered")
		h.count(OutcomeFailed)
		return OutcomeFailed
	}

	log.Debug().Str("event_id", env.ID).Str("event_type", env.Type).Msg("Outbox event published")
	h.count(OutcomePublished)
	return OutcomePublished
}

func (h *Handler) count(outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.RelayRecords.WithLabelValues(outcome).Inc()
}
