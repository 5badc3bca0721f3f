// Package outbox holds messages composed while disconnected in a short-lived
// bounded buffer and flushes them when the connection returns. It is a
// convenience for brief outages, not an offline queue: the capacity and age
// bounds are deliberate.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vibely/realtime/bus"
	"github.com/vibely/realtime/internal/wire"
	"github.com/vibely/realtime/store"
	"go.uber.org/zap"
)

// ErrBufferFull is returned when the send buffer is at capacity. The send
// failure stays visible to the user, who can retry.
var ErrBufferFull = errors.New("outbox: send buffer full")

// BufferStore is the local persistence slice the buffer needs. store.DB
// implements it.
type BufferStore interface {
	QueueOutbox(ctx context.Context, e *store.OutboxEntry) error
	PendingOutbox(ctx context.Context) ([]store.OutboxEntry, error)
	CountPendingOutbox(ctx context.Context) (int, error)
	MarkOutboxSent(ctx context.Context, clientID string) error
	MarkOutboxFailed(ctx context.Context, clientID, errMsg string) error
	PurgeOutboxOlderThan(ctx context.Context, cutoff int64) (int, error)
}

// Transport is the slice of the connection manager the buffer needs.
type Transport interface {
	Send(name string, payload any) error
	IsConnected() bool
}

// Dedup pre-claims message ids so the server echo of a flushed message is
// not re-applied. Implemented by the reconciler.
type Dedup interface {
	MarkApplied(messageID string)
}

// Buffer is the disconnected-send buffer.
type Buffer struct {
	db       BufferStore
	st       store.Store
	tx       Transport
	bus      *bus.Registry
	dedup    Dedup
	userID   string
	capacity int
	maxAge   time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	flushing bool
}

// NewBuffer creates a send buffer. capacity defaults to 32, maxAge to 10m.
func NewBuffer(db BufferStore, st store.Store, tx Transport, b *bus.Registry, dedup Dedup, userID string, capacity int, maxAge time.Duration, logger *zap.Logger) *Buffer {
	if capacity <= 0 {
		capacity = 32
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{
		db:       db,
		st:       st,
		tx:       tx,
		bus:      b,
		dedup:    dedup,
		userID:   userID,
		capacity: capacity,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Queue buffers a message composed while disconnected.
func (b *Buffer) Queue(ctx context.Context, receiverID, content string, typ store.MessageType, replyToID string) error {
	cutoff := time.Now().Add(-b.maxAge).UnixMilli()
	if n, err := b.db.PurgeOutboxOlderThan(ctx, cutoff); err == nil && n > 0 {
		b.logger.Info("stale buffered sends dropped", zap.Int("count", n))
	}

	count, err := b.db.CountPendingOutbox(ctx)
	if err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	if count >= b.capacity {
		return ErrBufferFull
	}

	entry := &store.OutboxEntry{
		ClientID:   uuid.NewString(),
		ReceiverID: receiverID,
		Content:    content,
		Type:       typ,
		ReplyToID:  replyToID,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := b.db.QueueOutbox(ctx, entry); err != nil {
		return fmt.Errorf("queue: %w", err)
	}
	return nil
}

// HandleConnected flushes the buffer after a reconnect. Invoked from the
// connectionChange fan-out, so the flush runs on its own goroutine.
func (b *Buffer) HandleConnected() {
	go b.Flush(context.Background())
}

// Flush drains queued entries: each is persisted through the storage
// collaborator, announced on the wire, and published on the bus. Entries that
// outlived the buffer age are dropped as failed sends, not delivered late.
func (b *Buffer) Flush(ctx context.Context) {
	b.mu.Lock()
	if b.flushing {
		b.mu.Unlock()
		return
	}
	b.flushing = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.flushing = false
		b.mu.Unlock()
	}()

	cutoff := time.Now().Add(-b.maxAge).UnixMilli()
	if n, err := b.db.PurgeOutboxOlderThan(ctx, cutoff); err == nil && n > 0 {
		b.logger.Info("stale buffered sends dropped", zap.Int("count", n))
	}

	pending, err := b.db.PendingOutbox(ctx)
	if err != nil {
		b.logger.Warn("read send buffer failed", zap.Error(err))
		return
	}

	for _, entry := range pending {
		if !b.tx.IsConnected() {
			return
		}
		msg := &store.Message{
			ClientID:   entry.ClientID,
			SenderID:   b.userID,
			ReceiverID: entry.ReceiverID,
			Content:    entry.Content,
			Type:       entry.Type,
			ReplyToID:  entry.ReplyToID,
			Status:     store.StatusSent,
			CreatedAt:  time.Now().UnixMilli(),
		}
		if err := b.st.InsertMessage(ctx, msg); err != nil {
			b.logger.Warn("buffered send persist failed", zap.String("client_id", entry.ClientID), zap.Error(err))
			_ = b.db.MarkOutboxFailed(ctx, entry.ClientID, err.Error())
			continue
		}
		b.dedup.MarkApplied(msg.ID)
		if err := b.tx.Send(wire.EvSendMessage, wire.SendMessage{Message: *msg}); err != nil {
			b.logger.Warn("buffered send failed", zap.String("client_id", entry.ClientID), zap.Error(err))
			_ = b.db.MarkOutboxFailed(ctx, entry.ClientID, err.Error())
			continue
		}
		_ = b.db.MarkOutboxSent(ctx, entry.ClientID)
		b.bus.Publish(bus.MessageEvent{Message: *msg})
		b.logger.Info("buffered message sent",
			zap.String("client_id", entry.ClientID),
			zap.String("msg_id", msg.ID))
	}
}

// Pending returns the number of queued entries.
func (b *Buffer) Pending(ctx context.Context) (int, error) {
	return b.db.CountPendingOutbox(ctx)
}
