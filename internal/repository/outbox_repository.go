package repository

import (
	"encoding/json"
	"fmt"

	"github.com/cassiomorais/printqueue/internal/domain/outbox"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/google/uuid"
)

const (
	attrItemID        = "item_id"
	attrAggregateID   = "aggregate_id"
	attrEventType     = "event_type"
	attrEventData     = "event_data"
	attrEventTime     = "event_time"
	attrTraceID       = "trace_id"
	attrProcessed     = "processed"
	attrFailed        = "failed"
	attrOutboxFailure = "failure_reason"
)

// OutboxRepository stages outbox rows and decodes them back from change
// records.
type OutboxRepository struct {
	table string
}

// NewOutboxRepository creates a new OutboxRepository.
func NewOutboxRepository(table string) *OutboxRepository {
	return &OutboxRepository{table: table}
}

// Table returns the table outbox rows are written to.
func (r *OutboxRepository) Table() string {
	return r.table
}

// StageInsert registers the put of a new outbox row.
func (r *OutboxRepository) StageInsert(c *storage.Coordinator, item *outbox.Item) {
	c.Put(r.table, EncodeOutboxItem(item), storage.NotExists())
}

// StageDelete registers the removal of an outbox row.
func (r *OutboxRepository) StageDelete(c *storage.Coordinator, key storage.Key) {
	c.Delete(r.table, key)
}

// EncodeOutboxItem renders the persisted row shape of item.
func EncodeOutboxItem(item *outbox.Item) storage.Item {
	it := storage.Item{
		storage.AttrPK:        item.PartitionKey(),
		storage.AttrSK:        item.SortKey(),
		storage.AttrItemType:  outbox.ItemType,
		storage.AttrExpiresAt: storage.FormatTime(item.ExpiresAt),
		attrItemID:            item.ItemID.String(),
		attrAggregateID:       item.AggregateID,
		attrEventType:         item.EventType,
		attrEventData:         string(item.EventData),
		attrEventTime:         storage.FormatTime(item.EventTime),
		attrProcessed:         item.Processed,
		attrFailed:            item.Failed,
	}
	if item.TraceID != "" {
		it[attrTraceID] = item.TraceID
	}
	if item.FailureReason != "" {
		it[attrOutboxFailure] = item.FailureReason
	}
	return it
}

// DecodeOutboxItem parses a stored outbox row.
func DecodeOutboxItem(it storage.Item) (*outbox.Item, error) {
	if it.String(storage.AttrItemType) != outbox.ItemType {
		return nil, fmt.Errorf("%w: item type %q is not an outbox row", ErrMalformedItem, it.String(storage.AttrItemType))
	}
	id, err := uuid.Parse(it.String(attrItemID))
	if err != nil {
		return nil, fmt.Errorf("%w: outbox item id: %v", ErrMalformedItem, err)
	}
	eventType := it.String(attrEventType)
	if eventType == "" {
		return nil, fmt.Errorf("%w: outbox item %s has no event type", ErrMalformedItem, id)
	}
	data := it.String(attrEventData)
	if !json.Valid([]byte(data)) {
		return nil, fmt.Errorf("%w: outbox item %s carries invalid event data", ErrMalformedItem, id)
	}
	eventTime, err := it.Time(attrEventTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	expiresAt, err := it.Time(storage.AttrExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedItem, err)
	}
	return &outbox.Item{
		ItemID:        id,
		AggregateID:   it.String(attrAggregateID),
		EventType:     eventType,
		EventData:     json.RawMessage(data),
		EventTime:     eventTime,
		ExpiresAt:     expiresAt,
		TraceID:       it.String(attrTraceID),
		Processed:     it.Bool(attrProcessed),
		Failed:        it.Bool(attrFailed),
		FailureReason: it.String(attrOutboxFailure),
	}, nil
}
