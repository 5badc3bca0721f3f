// Package store defines the chat entities, the storage collaborator port the
// realtime subsystem depends on, and a SQLite reference implementation of it.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a message or checkpoint does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the storage collaborator consumed by the delivery state machine,
// the delivery tracker and the fallback poller. In production it is backed by
// the managed backend; DB implements it on local SQLite for tests and
// single-device use.
type Store interface {
	// InsertMessage persists a new message. If m.ID is empty the store
	// assigns one and writes it back to m.
	InsertMessage(ctx context.Context, m *Message) error

	// Message returns a message by id, or ErrNotFound.
	Message(ctx context.Context, id string) (*Message, error)

	// MessagesSince returns messages addressed to or sent by userID with
	// CreatedAt strictly greater than since, oldest first, at most limit.
	MessagesSince(ctx context.Context, userID string, since int64, limit int) ([]Message, error)

	// UndeliveredTo returns the oldest messages addressed to userID that
	// are still in sent state, at most limit.
	UndeliveredTo(ctx context.Context, userID string, limit int) ([]Message, error)

	// UpdateStatus advances a message's status. The write is monotonic:
	// it reports false without modifying anything when the stored status
	// already ranks at or above s.
	UpdateStatus(ctx context.Context, id string, s Status) (bool, error)

	// BulkMarkRead marks every unread message from senderID to receiverID
	// as read in a single statement and returns the affected message ids.
	BulkMarkRead(ctx context.Context, senderID, receiverID string) ([]string, error)

	// UpsertReaction inserts or replaces the reaction keyed by
	// (MessageID, UserID).
	UpsertReaction(ctx context.Context, r *Reaction) error

	// DeleteReaction removes a reaction; missing rows are not an error.
	DeleteReaction(ctx context.Context, messageID, userID string) error

	// Reaction returns the reaction by (messageID, userID), or nil when
	// the user has no reaction on the message.
	Reaction(ctx context.Context, messageID, userID string) (*Reaction, error)

	// InsertNotification persists a notification (idempotent on ID).
	InsertNotification(ctx context.Context, n *Notification) error

	// NotificationsSince returns notifications for userID newer than
	// since, oldest first, at most limit.
	NotificationsSince(ctx context.Context, userID string, since int64, limit int) ([]Notification, error)
}

// CheckpointStore persists poll high-water marks between sessions. It is
// optional: the poller falls back to an in-memory mark when none is wired.
type CheckpointStore interface {
	Checkpoint(ctx context.Context, key string) (int64, error)
	SetCheckpoint(ctx context.Context, key string, value int64) error
}
