package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const messageCols = "msg_id, client_id, sender_id, receiver_id, content, message_type, status, reply_to_id, deleted, created_at"

// InsertMessage persists a new message, assigning an id if m.ID is empty.
func (db *DB) InsertMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Status == "" {
		m.Status = StatusSent
	}
	if m.Type == "" {
		m.Type = TypeText
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (msg_id, client_id, sender_id, receiver_id, content, message_type, status, reply_to_id, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ClientID, m.SenderID, m.ReceiverID, m.Content, m.Type, m.Status, m.ReplyToID, m.Deleted, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// UpsertMessage inserts or updates a message, idempotent on msg_id. The
// stored status only moves forward.
func (db *DB) UpsertMessage(ctx context.Context, m *Message) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (msg_id, client_id, sender_id, receiver_id, content, message_type, status, reply_to_id, deleted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(msg_id) DO UPDATE SET
			content = excluded.content,
			deleted = excluded.deleted,
			status = CASE WHEN ` + statusRankSQL("excluded.status") + ` > ` + statusRankSQL("messages.status") + `
				THEN excluded.status ELSE messages.status END`,
		m.ID, m.ClientID, m.SenderID, m.ReceiverID, m.Content, m.Type, m.Status, m.ReplyToID, m.Deleted, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert message: %w", err)
	}
	return nil
}

// Message returns a message by id, or ErrNotFound.
func (db *DB) Message(ctx context.Context, id string) (*Message, error) {
	row := db.QueryRowContext(ctx, `SELECT `+messageCols+` FROM messages WHERE msg_id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// MessagesSince returns messages involving userID newer than since, oldest first.
func (db *DB) MessagesSince(ctx context.Context, userID string, since int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageCols+` FROM messages
		WHERE (receiver_id = ? OR sender_id = ?) AND created_at > ? AND deleted = 0
		ORDER BY created_at ASC
		LIMIT ?`, userID, userID, since, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// UndeliveredTo returns the oldest inbound messages still in sent state.
func (db *DB) UndeliveredTo(ctx context.Context, userID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT `+messageCols+` FROM messages
		WHERE receiver_id = ? AND status = ? AND deleted = 0
		ORDER BY created_at ASC
		LIMIT ?`, userID, StatusSent, limit)
	if err != nil {
		return nil, err
	}
	return collectMessages(rows)
}

// UpdateStatus advances a message's status, refusing backward transitions.
// Returns whether a row actually changed.
func (db *DB) UpdateStatus(ctx context.Context, id string, s Status) (bool, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE messages SET status = ?
		WHERE msg_id = ? AND `+statusRankSQL("status")+` < ?`,
		s, id, s.Rank())
	if err != nil {
		return false, fmt.Errorf("update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// BulkMarkRead marks every unread message from senderID to receiverID as read
// in one statement and returns the affected ids.
func (db *DB) BulkMarkRead(ctx context.Context, senderID, receiverID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		UPDATE messages SET status = ?
		WHERE sender_id = ? AND receiver_id = ? AND status != ? AND deleted = 0
		RETURNING msg_id`,
		StatusRead, senderID, receiverID, StatusRead)
	if err != nil {
		return nil, fmt.Errorf("bulk mark read: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// statusRankSQL maps a status column to its lifecycle rank inside SQL.
func statusRankSQL(col string) string {
	return `CASE ` + col + ` WHEN 'sent' THEN 1 WHEN 'delivered' THEN 2 WHEN 'read' THEN 3 ELSE 0 END`
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(r rowScanner) (*Message, error) {
	var m Message
	if err := r.Scan(&m.ID, &m.ClientID, &m.SenderID, &m.ReceiverID, &m.Content, &m.Type, &m.Status, &m.ReplyToID, &m.Deleted, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}

func collectMessages(rows *sql.Rows) ([]Message, error) {
	defer func() { _ = rows.Close() }()
	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *m)
	}
	return msgs, rows.Err()
}
