package printer_test

import (
	"testing"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/errors"
	"github.com/cassiomorais/printqueue/internal/domain/printer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNew(t *testing.T) {
	p, ev, err := printer.New("devfest-2025", "booth-a", "hash", now)
	require.NoError(t, err)

	assert.Equal(t, "devfest-2025", p.EventName)
	assert.Equal(t, "booth-a", p.Name)
	assert.Nil(t, p.LastHeartbeat)
	assert.Equal(t, p.ID, ev.PrinterID)
	assert.Equal(t, "devfest-2025", ev.Event)
	assert.Equal(t, "printer.registered", ev.EventName())
	assert.Equal(t, p.ID.String(), ev.AggregateID())
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name, event, printerName, hash, field string
	}{
		{"missing event", "", "booth", "h", "event_name"},
		{"missing name", "ev", " ", "h", "printer_name"},
		{"missing credential", "ev", "booth", "", "credential"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := printer.New(tt.event, tt.printerName, tt.hash, now)
			var ve *errors.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestIsOnline(t *testing.T) {
	p, _, err := printer.New("ev", "booth", "h", now)
	require.NoError(t, err)
	window := 2 * time.Minute

	assert.False(t, p.IsOnline(now, window), "never polled")

	p = p.Heartbeat(now)
	assert.True(t, p.IsOnline(now.Add(time.Minute), window))
	assert.True(t, p.IsOnline(now.Add(window), window))
	assert.False(t, p.IsOnline(now.Add(window+time.Second), window))
}

func TestStatus(t *testing.T) {
	p, _, err := printer.New("ev", "booth", "h", now)
	require.NoError(t, err)
	p = p.Heartbeat(now).RecordJobProcessed(now.Add(time.Second))
	assert.Equal(t, 2, p.Version, "every change bumps the version")

	st := p.Status(now.Add(30*time.Second), time.Minute)
	assert.Equal(t, p.ID, st.PrinterID)
	assert.Equal(t, "booth", st.Name)
	assert.True(t, st.Online)
	require.NotNil(t, st.LastJobProcessedAt)
	assert.Equal(t, now.Add(time.Second), *st.LastJobProcessedAt)
}
