package relay

import (
	"encoding/json"
	"time"

	"github.com/cassiomorais/printqueue/internal/domain/outbox"
)

// SpecVersion is the envelope format version.
const SpecVersion = "1.0"

// Envelope is the integration event put on the bus. ID is the outbox ItemID
// and stays the same on every redelivery, so consumers dedupe on it.
type Envelope struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject,omitempty"`
	Time            time.Time       `json:"time"`
	TraceID         string          `json:"traceid,omitempty"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
}

// NewEnvelope wraps an outbox row for publishing.
func NewEnvelope(item *outbox.Item, source string) Envelope {
	return Envelope{
		SpecVersion:     SpecVersion,
		ID:              item.ItemID.String(),
		Type:            item.EventType,
		Source:          source,
		Subject:         item.AggregateID,
		Time:            item.EventTime,
		TraceID:         item.TraceID,
		DataContentType: "application/json",
		Data:            item.EventData,
	}
}
