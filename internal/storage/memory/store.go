// Package memory is an in-process implementation of the storage contract,
// including conditional writes and the change feed. Intended for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cassiomorais/printqueue/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store keeps every table in memory. Safe for concurrent access.
type Store struct {
	mu sync.RWMutex

	tables      map[string]map[storage.Key]storage.Item
	feed        []storage.ChangeRecord
	checkpoints map[string]storage.Position

	txid int64
	seq  int64
	now  func() time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		tables:      make(map[string]map[storage.Key]storage.Item),
		checkpoints: make(map[string]storage.Position),
		now:         time.Now,
	}
}

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// PutItem writes one item if cond holds.
func (m *Store) PutItem(ctx context.Context, table string, item storage.Item, cond storage.Condition) error {
	return m.TransactWrite(ctx, []storage.Operation{{
		Kind:      storage.OpPut,
		Table:     table,
		Key:       item.Key(),
		Item:      item,
		Condition: cond,
	}})
}

// DeleteItem removes one item if cond holds.
func (m *Store) DeleteItem(ctx context.Context, table string, key storage.Key, cond storage.Condition) error {
	return m.TransactWrite(ctx, []storage.Operation{{
		Kind:      storage.OpDelete,
		Table:     table,
		Key:       key,
		Condition: cond,
	}})
}

// TransactWrite checks every condition first and applies the operations only
// when all of them hold.
func (m *Store) TransactWrite(ctx context.Context, ops []storage.Operation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, op := range ops {
		current := m.tables[op.Table][op.Key]
		if !op.Condition.Holds(current) {
			return storage.ErrConditionFailed
		}
	}

	m.txid++
	createdAt := m.now().UTC()
	for _, op := range ops {
		rows := m.tables[op.Table]
		if rows == nil {
			rows = make(map[storage.Key]storage.Item)
			m.tables[op.Table] = rows
		}
		old, existed := rows[op.Key]

		rec := storage.ChangeRecord{
			Table:     op.Table,
			Key:       op.Key,
			OldImage:  old.Clone(),
			CreatedAt: createdAt,
		}
		switch op.Kind {
		case storage.OpDelete:
			if !existed {
				continue
			}
			delete(rows, op.Key)
			rec.Event = storage.ChangeRemove
		default:
			next := op.Item.Clone()
			rows[op.Key] = next
			rec.NewImage = next.Clone()
			rec.Event = storage.ChangeInsert
			if existed {
				rec.Event = storage.ChangeModify
			}
		}
		m.seq++
		rec.Position = storage.Position{TxID: m.txid, Seq: m.seq}
		m.feed = append(m.feed, rec)
	}
	return nil
}

// GetItem returns a copy of the item stored under key.
func (m *Store) GetItem(ctx context.Context, table string, key storage.Key) (storage.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.tables[table][key]
	if !ok {
		return nil, storage.ErrItemNotFound
	}
	return it.Clone(), nil
}

// QueryIndex returns the items whose gsi1pk equals the partition value,
// ordered by gsi1sk.
func (m *Store) QueryIndex(ctx context.Context, table string, q storage.IndexQuery) ([]storage.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []storage.Item
	for _, it := range m.tables[table] {
		if it.String(storage.AttrGSI1PK) == q.PartitionValue {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].String(storage.AttrGSI1SK) < out[j].String(storage.AttrGSI1SK)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ExpiredKeys lists keys under pkPrefix whose expires_at lies before before.
func (m *Store) ExpiredKeys(ctx context.Context, table, pkPrefix string, before time.Time, limit int) ([]storage.Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type expired struct {
		key storage.Key
		at  time.Time
	}
	var found []expired
	for key, it := range m.tables[table] {
		if !strings.HasPrefix(key.PK, pkPrefix) {
			continue
		}
		at, err := it.Time(storage.AttrExpiresAt)
		if err != nil || at.IsZero() || !at.Before(before) {
			continue
		}
		found = append(found, expired{key: key, at: at})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	keys := make([]storage.Key, len(found))
	for i, f := range found {
		keys[i] = f.key
	}
	return keys, nil
}

// ReadAfter returns up to limit change records positioned after after.
func (m *Store) ReadAfter(ctx context.Context, after storage.Position, limit int) ([]storage.ChangeRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []storage.ChangeRecord
	for _, rec := range m.feed {
		if !after.Before(rec.Position) {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// LoadCheckpoint returns the saved position of consumer, or the zero position.
func (m *Store) LoadCheckpoint(_ context.Context, consumer string) (storage.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoints[consumer], nil
}

// SaveCheckpoint records the position of consumer.
func (m *Store) SaveCheckpoint(_ context.Context, consumer string, pos storage.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[consumer] = pos
	return nil
}

// Items returns a copy of every item in table. Test helper.
func (m *Store) Items(table string) []storage.Item {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]storage.Item, 0, len(m.tables[table]))
	for _, it := range m.tables[table] {
		out = append(out, it.Clone())
	}
	return out
}

// SetClock replaces the clock used to stamp change records.
func (m *Store) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}
