// Package poller keeps the client state fresh when the live channel is not:
// the Reconciler is the single application path for events from either
// source, and the Poller re-fetches authoritative state while disconnected.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/vibely/realtime/bus"
	"github.com/vibely/realtime/internal/typing"
	"github.com/vibely/realtime/internal/wire"
	"github.com/vibely/realtime/push"
	"github.com/vibely/realtime/store"
	"go.uber.org/zap"
)

// Foreground reports whether the host process is currently visible.
type Foreground func() bool

// Reconciler applies inbound events idempotently by id and fans them out on
// the bus. Live transport frames and fallback polls both land here, so
// downstream UI code has exactly one code path.
type Reconciler struct {
	bus        *bus.Registry
	st         store.Store
	typing     *typing.Tracker
	push       push.Sender
	foreground Foreground
	userID     string
	logger     *zap.Logger
	applied    *recentSet

	mu         sync.Mutex
	msgWater   int64
	notifWater int64
}

// NewReconciler creates a reconciler for the local user. dedupTTL is sized by
// the caller to cover at least one poll interval.
func NewReconciler(st store.Store, b *bus.Registry, ty *typing.Tracker, p push.Sender, fg Foreground, userID string, dedupTTL time.Duration, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		bus:        b,
		st:         st,
		typing:     ty,
		push:       p,
		foreground: fg,
		userID:     userID,
		logger:     logger,
		applied:    newRecentSet(dedupTTL),
	}
}

// MarkApplied pre-claims a message id, keeping the transport echo of a
// locally produced event from re-applying it.
func (r *Reconciler) MarkApplied(messageID string) {
	r.applied.markApplied("msg:" + messageID)
}

// ApplyMessage applies one inbound message. Duplicates across the live/poll
// boundary are silently dropped; that is the documented non-error.
func (r *Reconciler) ApplyMessage(ctx context.Context, m store.Message) {
	if m.ID == "" {
		return
	}
	if !r.applied.markApplied("msg:" + m.ID) {
		return
	}
	r.advanceMessageWater(m.CreatedAt)
	r.bus.Publish(bus.MessageEvent{Message: m})

	if m.ReceiverID == r.userID && r.push != nil && r.foreground != nil && !r.foreground() {
		err := r.push.Send(ctx, m.ReceiverID, push.Notification{
			Title: "New message",
			Body:  m.Content,
			Data:  map[string]string{"messageId": m.ID, "senderId": m.SenderID},
		})
		if err != nil {
			r.logger.Warn("push delivery failed", zap.String("msg_id", m.ID), zap.Error(err))
		}
	}
}

// ApplyStatus applies an inbound status transition. The storage write is
// monotonic, so a duplicate or regressing update publishes nothing.
func (r *Reconciler) ApplyStatus(ctx context.Context, u wire.MessageStatusUpdate) {
	if !r.applied.markApplied("status:" + u.MessageID + ":" + string(u.Status)) {
		return
	}
	changed, err := r.st.UpdateStatus(ctx, u.MessageID, u.Status)
	if err != nil {
		// Transport-level state stays authoritative until the next
		// successful reconciliation.
		r.logger.Warn("status persist failed", zap.String("msg_id", u.MessageID), zap.Error(err))
		r.bus.Publish(bus.DeliveryStatusEvent{MessageID: u.MessageID, Status: u.Status, IsRead: u.IsRead})
		return
	}
	if changed {
		r.bus.Publish(bus.DeliveryStatusEvent{MessageID: u.MessageID, Status: u.Status, IsRead: u.IsRead})
	}
}

// ApplyTyping applies an inbound typing signal; stale signals are dropped.
func (r *Reconciler) ApplyTyping(u wire.TypingUpdate) {
	now := time.Now()
	if !r.typing.Apply(u, now) {
		return
	}
	r.bus.Publish(bus.TypingEvent{
		UserID:    u.UserID,
		ChatID:    u.ChatID,
		IsTyping:  u.IsTyping,
		UpdatedAt: now,
	})
}

// ApplyReaction applies an inbound reaction change.
func (r *Reconciler) ApplyReaction(ctx context.Context, u wire.ReactionUpdate) {
	if u.Removed {
		if err := r.st.DeleteReaction(ctx, u.MessageID, u.UserID); err != nil {
			r.logger.Warn("reaction delete failed", zap.String("msg_id", u.MessageID), zap.Error(err))
		}
		r.bus.Publish(bus.ReactionRemovedEvent{MessageID: u.MessageID, UserID: u.UserID})
		return
	}
	reaction := store.Reaction{
		MessageID: u.MessageID,
		UserID:    u.UserID,
		Emoji:     u.Emoji,
		UpdatedAt: time.Now().UnixMilli(),
	}
	if err := r.st.UpsertReaction(ctx, &reaction); err != nil {
		r.logger.Warn("reaction persist failed", zap.String("msg_id", u.MessageID), zap.Error(err))
	}
	r.bus.Publish(bus.ReactionEvent{Reaction: reaction})
}

// ApplyNotification applies one polled notification.
func (r *Reconciler) ApplyNotification(_ context.Context, n store.Notification) {
	if n.ID == "" || !r.applied.markApplied("notif:"+n.ID) {
		return
	}
	r.advanceNotificationWater(n.CreatedAt)
	r.bus.Publish(bus.NotificationEvent{Notification: n})
}

func (r *Reconciler) advanceMessageWater(ts int64) {
	r.mu.Lock()
	if ts > r.msgWater {
		r.msgWater = ts
	}
	r.mu.Unlock()
}

func (r *Reconciler) advanceNotificationWater(ts int64) {
	r.mu.Lock()
	if ts > r.notifWater {
		r.notifWater = ts
	}
	r.mu.Unlock()
}

// MessageWater returns the newest message timestamp applied so far. The
// poller polls from here so live traffic keeps the poll window short.
func (r *Reconciler) MessageWater() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.msgWater
}

// NotificationWater returns the newest notification timestamp applied so far.
func (r *Reconciler) NotificationWater() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.notifWater
}
