package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetCheckpoint updates a poll high-water mark.
func (db *DB) SetCheckpoint(ctx context.Context, key string, value int64) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Checkpoint retrieves a poll high-water mark. Missing keys read as zero.
func (db *DB) Checkpoint(ctx context.Context, key string) (int64, error) {
	var value int64
	err := db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return value, nil
}
