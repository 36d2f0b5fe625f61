// Package storage defines the key-value storage contract used by the print
// queue: items addressed by a partition/sort key pair inside a logical table,
// single-item and bounded multi-item conditional writes, a secondary index
// lookup and an ordered change feed.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Well-known item attributes.
const (
	AttrPK        = "pk"
	AttrSK        = "sk"
	AttrItemType  = "item_type"
	AttrGSI1PK    = "gsi1pk"
	AttrGSI1SK    = "gsi1sk"
	AttrExpiresAt = "expires_at"
)

var (
	// ErrItemNotFound is returned by GetItem when no item has the key.
	ErrItemNotFound = errors.New("item not found")

	// ErrConditionFailed is returned when a write precondition does not hold.
	// Inside a transaction it cancels every operation of the transaction.
	ErrConditionFailed = errors.New("conditional check failed")
)

// Key addresses one item within a table.
type Key struct {
	PK string
	SK string
}

func (k Key) String() string {
	return k.PK + "|" + k.SK
}

// Item is the full attribute set of a stored row. Values are JSON-compatible
// scalars (string, bool, float64, int64).
type Item map[string]any

// Key extracts the primary key attributes of the item.
func (i Item) Key() Key {
	return Key{PK: i.String(AttrPK), SK: i.String(AttrSK)}
}

// String returns the attribute as a string, or "" when absent.
func (i Item) String(attr string) string {
	switch v := i[attr].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the attribute as a bool, or false when absent.
func (i Item) Bool(attr string) bool {
	v, _ := i[attr].(bool)
	return v
}

// Time parses an RFC 3339 attribute. A missing attribute yields the zero time.
func (i Item) Time(attr string) (time.Time, error) {
	s := i.String(attr)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s: %w", attr, err)
	}
	return t, nil
}

// Clone returns a shallow copy of the item.
func (i Item) Clone() Item {
	if i == nil {
		return nil
	}
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// FormatTime renders timestamps the way items store them.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ConditionKind selects the precondition evaluated before a write.
type ConditionKind int

const (
	ConditionNone ConditionKind = iota
	ConditionNotExists
	ConditionAttributeEquals
)

// Condition is a precondition on the current version of the written item.
type Condition struct {
	Kind      ConditionKind
	Attribute string
	Value     string
}

// NotExists requires that no item exists under the written key.
func NotExists() Condition {
	return Condition{Kind: ConditionNotExists}
}

// AttributeEquals requires that the item exists and attr equals value.
func AttributeEquals(attr, value string) Condition {
	return Condition{Kind: ConditionAttributeEquals, Attribute: attr, Value: value}
}

// Holds evaluates the condition against the current item (nil if absent).
func (c Condition) Holds(current Item) bool {
	switch c.Kind {
	case ConditionNotExists:
		return current == nil
	case ConditionAttributeEquals:
		return current != nil && current.String(c.Attribute) == c.Value
	default:
		return true
	}
}

// OpKind is the kind of a write operation.
type OpKind int

const (
	OpPut OpKind = iota
	OpDelete
)

func (k OpKind) String() string {
	if k == OpDelete {
		return "delete"
	}
	return "put"
}

// Operation is one pending mutation.
type Operation struct {
	Kind      OpKind
	Table     string
	Key       Key
	Item      Item
	Condition Condition
}

// Writer exposes the write primitives of the store.
type Writer interface {
	// PutItem writes a single item, replacing any previous version.
	PutItem(ctx context.Context, table string, item Item, cond Condition) error
	// DeleteItem removes a single item. Deleting a missing item is not an error
	// unless the condition requires it to exist.
	DeleteItem(ctx context.Context, table string, key Key, cond Condition) error
	// TransactWrite applies all operations atomically or none of them.
	TransactWrite(ctx context.Context, ops []Operation) error
}

// IndexQuery selects items by their gsi1 partition value, ordered by gsi1 sort value.
type IndexQuery struct {
	PartitionValue string
	Limit          int
}

// Reader exposes the read primitives of the store.
type Reader interface {
	GetItem(ctx context.Context, table string, key Key) (Item, error)
	QueryIndex(ctx context.Context, table string, q IndexQuery) ([]Item, error)
}

// Expirer lists items whose expires_at attribute lies before a point in time.
type Expirer interface {
	ExpiredKeys(ctx context.Context, table string, pkPrefix string, before time.Time, limit int) ([]Key, error)
}

// ChangeEvent is the kind of mutation a change record describes.
type ChangeEvent string

const (
	ChangeInsert ChangeEvent = "INSERT"
	ChangeModify ChangeEvent = "MODIFY"
	ChangeRemove ChangeEvent = "REMOVE"
)

// Position orders change records. Records are totally ordered by (TxID, Seq).
type Position struct {
	TxID int64
	Seq  int64
}

// Before reports whether p sorts before o.
func (p Position) Before(o Position) bool {
	if p.TxID != o.TxID {
		return p.TxID < o.TxID
	}
	return p.Seq < o.Seq
}

func (p Position) String() string {
	return fmt.Sprintf("%d-%d", p.TxID, p.Seq)
}

// ChangeRecord is one entry of the change feed with full post-write image.
type ChangeRecord struct {
	Position  Position
	Event     ChangeEvent
	Table     string
	Key       Key
	NewImage  Item
	OldImage  Item
	CreatedAt time.Time
}

// ID identifies the record in partial batch failure reports.
func (r ChangeRecord) ID() string {
	return r.Position.String()
}

// FeedReader reads committed change records strictly after a position.
type FeedReader interface {
	ReadAfter(ctx context.Context, after Position, limit int) ([]ChangeRecord, error)
}

// CheckpointStore persists how far a named consumer has read the feed.
type CheckpointStore interface {
	LoadCheckpoint(ctx context.Context, consumer string) (Position, error)
	SaveCheckpoint(ctx context.Context, consumer string, pos Position) error
}

// Store is the complete storage surface implemented by adapters.
type Store interface {
	Writer
	Reader
	Expirer
	FeedReader
	CheckpointStore
}
