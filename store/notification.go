package store

import (
	"context"
	"fmt"
)

// InsertNotification persists a notification, idempotent on its id.
func (db *DB) InsertNotification(ctx context.Context, n *Notification) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO notifications (notif_id, user_id, kind, actor_id, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(notif_id) DO NOTHING`,
		n.ID, n.UserID, n.Kind, n.ActorID, n.Body, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

// NotificationsSince returns notifications for userID newer than since, oldest first.
func (db *DB) NotificationsSince(ctx context.Context, userID string, since int64, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT notif_id, user_id, kind, actor_id, body, created_at
		FROM notifications
		WHERE user_id = ? AND created_at > ?
		ORDER BY created_at ASC
		LIMIT ?`, userID, since, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.ActorID, &n.Body, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
