package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/jackc/pgx/v5"
)

// ReadAfter returns up to limit committed change records positioned after
// after. Records of transactions that may still be in flight are held back
// until every older transaction has finished.
func (s *Store) ReadAfter(ctx context.Context, after storage.Position, limit int) ([]storage.ChangeRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT txid, seq, event_name, table_name, pk, sk, new_image, old_image, created_at
		FROM item_changes
		WHERE (txid, seq) > ($1, $2)
		  AND txid < pg_snapshot_xmin(pg_current_snapshot())::text::bigint
		ORDER BY txid, seq
		LIMIT $3`,
		after.TxID, after.Seq, limit)
	if err != nil {
		return nil, fmt.Errorf("read change feed: %w", err)
	}
	defer rows.Close()

	var records []storage.ChangeRecord
	for rows.Next() {
		var (
			rec         storage.ChangeRecord
			event       string
			newRaw, old []byte
		)
		if err := rows.Scan(
			&rec.Position.TxID, &rec.Position.Seq, &event, &rec.Table,
			&rec.Key.PK, &rec.Key.SK, &newRaw, &old, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan change record: %w", err)
		}
		rec.Event = storage.ChangeEvent(event)
		if rec.NewImage, err = decodeItem(newRaw); err != nil {
			return nil, err
		}
		if rec.OldImage, err = decodeItem(old); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// LoadCheckpoint returns the saved position of consumer, or the zero position.
func (s *Store) LoadCheckpoint(ctx context.Context, consumer string) (storage.Position, error) {
	var pos storage.Position
	err := s.pool.QueryRow(ctx, `
		SELECT txid, seq FROM feed_checkpoints WHERE consumer = $1`, consumer).
		Scan(&pos.TxID, &pos.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.Position{}, nil
	}
	if err != nil {
		return storage.Position{}, fmt.Errorf("load checkpoint %s: %w", consumer, err)
	}
	return pos, nil
}

// SaveCheckpoint records the position of consumer.
func (s *Store) SaveCheckpoint(ctx context.Context, consumer string, pos storage.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO feed_checkpoints (consumer, txid, seq)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer) DO UPDATE SET txid = EXCLUDED.txid, seq = EXCLUDED.seq, updated_at = NOW()`,
		consumer, pos.TxID, pos.Seq)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", consumer, err)
	}
	return nil
}
