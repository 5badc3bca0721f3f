package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// UpsertReaction inserts or replaces the reaction keyed by (msg_id, user_id).
// A different emoji from the same user replaces the previous one in place.
func (db *DB) UpsertReaction(ctx context.Context, r *Reaction) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO reactions (msg_id, user_id, emoji, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(msg_id, user_id) DO UPDATE SET
			emoji = excluded.emoji,
			updated_at = excluded.updated_at`,
		r.MessageID, r.UserID, r.Emoji, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert reaction: %w", err)
	}
	return nil
}

// DeleteReaction removes a user's reaction from a message.
func (db *DB) DeleteReaction(ctx context.Context, messageID, userID string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM reactions WHERE msg_id = ? AND user_id = ?`, messageID, userID)
	if err != nil {
		return fmt.Errorf("delete reaction: %w", err)
	}
	return nil
}

// Reaction returns the reaction by (messageID, userID), or nil when absent.
// Reactions on deleted messages are tombstoned and read as absent.
func (db *DB) Reaction(ctx context.Context, messageID, userID string) (*Reaction, error) {
	row := db.QueryRowContext(ctx, `
		SELECT r.msg_id, r.user_id, r.emoji, r.updated_at
		FROM reactions r
		JOIN messages m ON m.msg_id = r.msg_id AND m.deleted = 0
		WHERE r.msg_id = ? AND r.user_id = ?`, messageID, userID)

	var r Reaction
	err := row.Scan(&r.MessageID, &r.UserID, &r.Emoji, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
