package outbox

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Key conventions of outbox rows.
const (
	PartitionPrefix = "OUTBOX#"
	SortPrefix      = "EVENT#"
	ItemType        = "outbox"
)

// DefaultRetention is how long an outbox row is kept before storage-side
// garbage collection removes it.
const DefaultRetention = 7 * 24 * time.Hour

// DomainEvent is anything an aggregate emits that must be published.
type DomainEvent interface {
	EventName() string
	EventVersion() int
	AggregateID() string
}

// Item is one durable outbox row. ItemID is generated once and doubles as
// the idempotency key of the published event.
type Item struct {
	ItemID        uuid.UUID
	AggregateID   string
	EventType     string
	EventData     json.RawMessage
	EventTime     time.Time
	ExpiresAt     time.Time
	TraceID       string
	Processed     bool
	Failed        bool
	FailureReason string
}

// EventType renders the versioned type of e, e.g. "print_job.queued.v1".
func EventType(e DomainEvent) string {
	return fmt.Sprintf("%s.v%d", e.EventName(), e.EventVersion())
}

// NewItem serialises e into a fresh outbox row.
func NewItem(e DomainEvent, now time.Time, retention time.Duration, traceID string) (*Item, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.EventName(), err)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	now = now.UTC()
	return &Item{
		ItemID:      uuid.New(),
		AggregateID: e.AggregateID(),
		EventType:   EventType(e),
		EventData:   data,
		EventTime:   now,
		ExpiresAt:   now.Add(retention),
		TraceID:     traceID,
	}, nil
}

// PartitionKey returns the row's partition key.
func (i *Item) PartitionKey() string {
	return PartitionPrefix + i.ItemID.String()
}

// SortKey returns the row's sort key.
func (i *Item) SortKey() string {
	return SortPrefix + i.EventType
}

// IsOutboxKey reports whether pk addresses an outbox row.
func IsOutboxKey(pk string) bool {
	return strings.HasPrefix(pk, PartitionPrefix)
}
