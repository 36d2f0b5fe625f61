// Package postgres implements the storage contract on PostgreSQL. Items of
// every logical table live in one items table keyed by (table_name, pk, sk);
// a row trigger appends each mutation to item_changes, which backs the change
// feed.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ storage.Store = (*Store)(nil)

// DBTX is the common query interface satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store is the PostgreSQL storage adapter.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store over pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// PutItem writes one item outside any explicit transaction.
func (s *Store) PutItem(ctx context.Context, table string, item storage.Item, cond storage.Condition) error {
	return applyPut(ctx, s.pool, table, item, cond)
}

// DeleteItem removes one item outside any explicit transaction.
func (s *Store) DeleteItem(ctx context.Context, table string, key storage.Key, cond storage.Condition) error {
	return applyDelete(ctx, s.pool, table, key, cond)
}

// TransactWrite applies ops in one database transaction. A failed condition
// rolls every operation back and returns storage.ErrConditionFailed.
func (s *Store) TransactWrite(ctx context.Context, ops []storage.Operation) error {
	return s.withTransaction(ctx, func(tx pgx.Tx) error {
		for _, op := range ops {
			var err error
			if op.Kind == storage.OpDelete {
				err = applyDelete(ctx, tx, op.Table, op.Key, op.Condition)
			} else {
				err = applyPut(ctx, tx, op.Table, op.Item, op.Condition)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// withTransaction executes fn inside a database transaction.
// The transaction is committed if fn returns nil, rolled back otherwise.
func (s *Store) withTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return fmt.Errorf("rollback failed (%v) after error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func applyPut(ctx context.Context, q DBTX, table string, item storage.Item, cond storage.Condition) error {
	key := item.Key()
	attrs, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item %s: %w", key, err)
	}
	expiresAt, err := expiry(item)
	if err != nil {
		return err
	}

	var tag pgconn.CommandTag
	switch cond.Kind {
	case storage.ConditionNotExists:
		tag, err = q.Exec(ctx, `
			INSERT INTO items (table_name, pk, sk, attributes, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (table_name, pk, sk) DO NOTHING`,
			table, key.PK, key.SK, attrs, expiresAt)
	case storage.ConditionAttributeEquals:
		tag, err = q.Exec(ctx, `
			UPDATE items SET attributes = $4, expires_at = $5, updated_at = NOW()
			WHERE table_name = $1 AND pk = $2 AND sk = $3 AND attributes->>($6::text) = $7`,
			table, key.PK, key.SK, attrs, expiresAt, cond.Attribute, cond.Value)
	default:
		tag, err = q.Exec(ctx, `
			INSERT INTO items (table_name, pk, sk, attributes, expires_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (table_name, pk, sk)
			DO UPDATE SET attributes = EXCLUDED.attributes, expires_at = EXCLUDED.expires_at, updated_at = NOW()`,
			table, key.PK, key.SK, attrs, expiresAt)
	}
	if err != nil {
		return fmt.Errorf("put item %s: %w", key, err)
	}
	if cond.Kind != storage.ConditionNone && tag.RowsAffected() == 0 {
		return storage.ErrConditionFailed
	}
	return nil
}

func applyDelete(ctx context.Context, q DBTX, table string, key storage.Key, cond storage.Condition) error {
	switch cond.Kind {
	case storage.ConditionNotExists:
		var exists bool
		err := q.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM items WHERE table_name = $1 AND pk = $2 AND sk = $3)`,
			table, key.PK, key.SK).Scan(&exists)
		if err != nil {
			return fmt.Errorf("delete item %s: %w", key, err)
		}
		if exists {
			return storage.ErrConditionFailed
		}
		return nil
	case storage.ConditionAttributeEquals:
		tag, err := q.Exec(ctx, `
			DELETE FROM items
			WHERE table_name = $1 AND pk = $2 AND sk = $3 AND attributes->>($4::text) = $5`,
			table, key.PK, key.SK, cond.Attribute, cond.Value)
		if err != nil {
			return fmt.Errorf("delete item %s: %w", key, err)
		}
		if tag.RowsAffected() == 0 {
			return storage.ErrConditionFailed
		}
		return nil
	default:
		_, err := q.Exec(ctx, `
			DELETE FROM items WHERE table_name = $1 AND pk = $2 AND sk = $3`,
			table, key.PK, key.SK)
		if err != nil {
			return fmt.Errorf("delete item %s: %w", key, err)
		}
		return nil
	}
}

func expiry(item storage.Item) (*time.Time, error) {
	t, err := item.Time(storage.AttrExpiresAt)
	if err != nil {
		return nil, err
	}
	if t.IsZero() {
		return nil, nil
	}
	return &t, nil
}

// GetItem returns the item stored under key.
func (s *Store) GetItem(ctx context.Context, table string, key storage.Key) (storage.Item, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `
		SELECT attributes FROM items WHERE table_name = $1 AND pk = $2 AND sk = $3`,
		table, key.PK, key.SK).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get item %s: %w", key, err)
	}
	return decodeItem(raw)
}

// QueryIndex returns items whose gsi1pk equals the partition value, ordered
// by gsi1sk.
func (s *Store) QueryIndex(ctx context.Context, table string, q storage.IndexQuery) ([]storage.Item, error) {
	var limit any
	if q.Limit > 0 {
		limit = q.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT attributes FROM items
		WHERE table_name = $1 AND attributes ? 'gsi1pk' AND attributes->>'gsi1pk' = $2
		ORDER BY attributes->>'gsi1sk'
		LIMIT $3`,
		table, q.PartitionValue, limit)
	if err != nil {
		return nil, fmt.Errorf("query index %s: %w", q.PartitionValue, err)
	}
	defer rows.Close()

	var items []storage.Item
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		it, err := decodeItem(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// ExpiredKeys lists keys under pkPrefix whose expires_at lies before before,
// oldest first.
func (s *Store) ExpiredKeys(ctx context.Context, table, pkPrefix string, before time.Time, limit int) ([]storage.Key, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pk, sk FROM items
		WHERE table_name = $1 AND starts_with(pk, $2) AND expires_at < $3
		ORDER BY expires_at
		LIMIT $4`,
		table, pkPrefix, before, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired items: %w", err)
	}
	defer rows.Close()

	var keys []storage.Key
	for rows.Next() {
		var k storage.Key
		if err := rows.Scan(&k.PK, &k.SK); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func decodeItem(raw []byte) (storage.Item, error) {
	if raw == nil {
		return nil, nil
	}
	var it storage.Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	return it, nil
}
