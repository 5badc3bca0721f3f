package store

import (
	"context"
	"time"
)

// QueueOutbox adds a composed-while-offline message to the send buffer.
func (db *DB) QueueOutbox(ctx context.Context, e *OutboxEntry) error {
	if e.CreatedAt == 0 {
		e.CreatedAt = time.Now().UnixMilli()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO outbox (client_id, receiver_id, content, message_type, reply_to_id, state, created_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?)`,
		e.ClientID, e.ReceiverID, e.Content, e.Type, e.ReplyToID, e.CreatedAt)
	return err
}

// PendingOutbox returns queued entries, oldest first.
func (db *DB) PendingOutbox(ctx context.Context) ([]OutboxEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_id, receiver_id, content, message_type, reply_to_id, state, error_message, created_at
		FROM outbox WHERE state = 'queued' ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientID, &e.ReceiverID, &e.Content, &e.Type, &e.ReplyToID, &e.State, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountPendingOutbox returns the number of queued entries.
func (db *DB) CountPendingOutbox(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox WHERE state = 'queued'`).Scan(&n)
	return n, err
}

// MarkOutboxSent marks a buffered entry as flushed.
func (db *DB) MarkOutboxSent(ctx context.Context, clientID string) error {
	_, err := db.ExecContext(ctx, `UPDATE outbox SET state = 'sent' WHERE client_id = ?`, clientID)
	return err
}

// MarkOutboxFailed records a flush failure.
func (db *DB) MarkOutboxFailed(ctx context.Context, clientID, errMsg string) error {
	_, err := db.ExecContext(ctx, `UPDATE outbox SET state = 'failed', error_message = ? WHERE client_id = ?`, errMsg, clientID)
	return err
}

// PurgeOutboxOlderThan drops queued entries older than the cutoff. The buffer
// is short-lived; stale entries surface as failed sends, not late deliveries.
func (db *DB) PurgeOutboxOlderThan(ctx context.Context, cutoff int64) (int, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM outbox WHERE state = 'queued' AND created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
