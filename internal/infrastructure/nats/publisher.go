package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/printqueue/internal/application/relay"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// MsgPublisher is the JetStream call the Publisher relies on.
type MsgPublisher interface {
	PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// PublisherConfig tunes the Publisher.
type PublisherConfig struct {
	SubjectPrefix    string
	PublishTimeout   time.Duration
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
}

// Publisher sends relay envelopes to JetStream. The envelope ID is used as
// the JetStream message ID so redelivered events inside the stream's
// duplicate window are dropped by the server.
type Publisher struct {
	js      MsgPublisher
	cfg     PublisherConfig
	breaker *gobreaker.CircuitBreaker[*jetstream.PubAck]
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// NewPublisher creates a new Publisher.
func NewPublisher(js MsgPublisher, cfg PublisherConfig, metrics *observability.Metrics, logger zerolog.Logger) *Publisher {
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	p := &Publisher{js: js, cfg: cfg, metrics: metrics, logger: logger}
	p.breaker = gobreaker.NewCircuitBreaker[*jetstream.PubAck](gobreaker.Settings{
		Name:        "jetstream",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerThreshold
		},
		OnStateChange: p.onStateChange,
	})
	return p
}

// Subject returns the subject an event type is published on.
func (p *Publisher) Subject(eventType string) string {
	return p.cfg.SubjectPrefix + "." + eventType
}

// Publish sends env and waits for the stream acknowledgement.
func (p *Publisher) Publish(ctx context.Context, env relay.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", env.ID, err)
	}

	msg := nats.NewMsg(p.Subject(env.Type))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/cloudevents+json")
	msg.Header.Set("Ce-Id", env.ID)
	msg.Header.Set("Ce-Type", env.Type)
	if env.TraceID != "" {
		msg.Header.Set("Trace-Id", env.TraceID)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	ack, err := p.breaker.Execute(func() (*jetstream.PubAck, error) {
		return p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(env.ID))
	})
	p.countRequest(err)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("event bus unavailable: %w", err)
		}
		return fmt.Errorf("publish %s: %w", env.ID, err)
	}
	if ack != nil && ack.Duplicate {
		p.logger.Debug().Str("event_id", env.ID).Uint64("sequence", ack.Sequence).Msg("Event already in stream")
	}
	return nil
}

func (p *Publisher) countRequest(err error) {
	if p.metrics == nil {
		return
	}
	result := "success"
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		result = "rejected"
	case err != nil:
		result = "failure"
	}
	p.metrics.CircuitBreakerRequests.WithLabelValues("jetstream", result).Inc()
}

func (p *Publisher) onStateChange(name string, from, to gobreaker.State) {
	p.logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
	if p.metrics != nil {
		p.metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
	}
}
