package nats_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/printqueue/internal/application/relay"
	natsbus "github.com/cassiomorais/printqueue/internal/infrastructure/nats"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJetStream struct {
	msgs  []*nats.Msg
	opts  []int
	err   error
	calls int
}

func (f *fakeJetStream) PublishMsg(_ context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	f.msgs = append(f.msgs, msg)
	f.opts = append(f.opts, len(opts))
	return &jetstream.PubAck{Stream: "PRINTQUEUE_EVENTS", Sequence: uint64(len(f.msgs))}, nil
}

func envelope() relay.Envelope {
	return relay.Envelope{
		SpecVersion:     relay.SpecVersion,
		ID:              "9b2f4c1e-0000-4000-8000-000000000001",
		Type:            "print_job.queued.v1",
		Source:          "printqueue",
		Time:            time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		TraceID:         "4bf92f3577b34da6a3ce929d0e0e4736",
		DataContentType: "application/json",
		Data:            json.RawMessage(`{"print_job_id":"abc"}`),
	}
}

func TestPublisher_PublishesEnvelopeOnTypedSubject(t *testing.T) {
	js := &fakeJetStream{}
	p := natsbus.NewPublisher(js, natsbus.PublisherConfig{SubjectPrefix: "printqueue.events"}, nil, zerolog.Nop())

	require.NoError(t, p.Publish(context.Background(), envelope()))

	require.Len(t, js.msgs, 1)
	msg := js.msgs[0]
	assert.Equal(t, "printqueue.events.print_job.queued.v1", msg.Subject)
	assert.Equal(t, envelope().ID, msg.Header.Get("Ce-Id"))
	assert.Equal(t, "print_job.queued.v1", msg.Header.Get("Ce-Type"))
	assert.Equal(t, envelope().TraceID, msg.Header.Get("Trace-Id"))
	assert.Equal(t, 1, js.opts[0], "message id option is always passed")

	var got relay.Envelope
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, envelope().ID, got.ID)
	assert.JSONEq(t, `{"print_job_id":"abc"}`, string(got.Data))
}

func TestPublisher_BreakerOpensAfterConsecutiveFailures(t *testing.T) {
	js := &fakeJetStream{err: errors.New("nats: timeout")}
	metrics := observability.NewMetrics("test", prometheus.NewRegistry())
	p := natsbus.NewPublisher(js, natsbus.PublisherConfig{
		SubjectPrefix:    "printqueue.events",
		BreakerThreshold: 2,
		BreakerTimeout:   time.Minute,
	}, metrics, zerolog.Nop())

	for i := 0; i < 2; i++ {
		err := p.Publish(context.Background(), envelope())
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}

	err := p.Publish(context.Background(), envelope())
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, js.calls, "open breaker does not reach the server")

	assert.Equal(t, 2.0, promtestutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("jetstream", "failure")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(metrics.CircuitBreakerRequests.WithLabelValues("jetstream", "rejected")))
	assert.Equal(t, float64(gobreaker.StateOpen), promtestutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("jetstream")))
}
