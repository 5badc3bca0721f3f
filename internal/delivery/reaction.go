package delivery

import (
	"context"
	"fmt"
	"time"

	"github.com/vibely/realtime/bus"
	"github.com/vibely/realtime/internal/wire"
	"github.com/vibely/realtime/store"
	"go.uber.org/zap"
)

// React adds the local user's reaction to a message. A user holds at most one
// reaction per message: the same emoji toggles removal, a different emoji
// replaces the previous one in place.
func (m *Machine) React(ctx context.Context, messageID, emoji string) error {
	msg, err := m.store.Message(ctx, messageID)
	if err != nil {
		return fmt.Errorf("react %s: %w", messageID, err)
	}
	if msg.Deleted {
		// Reactions referencing a deleted message are tombstoned.
		return fmt.Errorf("react %s: %w", messageID, store.ErrNotFound)
	}

	existing, err := m.store.Reaction(ctx, messageID, m.userID)
	if err != nil {
		return fmt.Errorf("react %s: %w", messageID, err)
	}
	if existing != nil && existing.Emoji == emoji {
		return m.removeReaction(ctx, messageID)
	}

	r := &store.Reaction{
		MessageID: messageID,
		UserID:    m.userID,
		Emoji:     emoji,
		UpdatedAt: time.Now().UnixMilli(),
	}
	if err := m.store.UpsertReaction(ctx, r); err != nil {
		return fmt.Errorf("react %s: %w", messageID, err)
	}
	if err := m.tx.Send(wire.EvAddReaction, wire.AddReaction{MessageID: messageID, UserID: m.userID, Emoji: emoji}); err != nil {
		m.logger.Debug("reaction echo skipped", zap.Error(err))
	}
	m.bus.Publish(bus.ReactionEvent{Reaction: *r})
	return nil
}

// RemoveReaction removes the local user's reaction, if any.
func (m *Machine) RemoveReaction(ctx context.Context, messageID string) error {
	existing, err := m.store.Reaction(ctx, messageID, m.userID)
	if err != nil {
		return fmt.Errorf("remove reaction %s: %w", messageID, err)
	}
	if existing == nil {
		return nil
	}
	return m.removeReaction(ctx, messageID)
}

func (m *Machine) removeReaction(ctx context.Context, messageID string) error {
	if err := m.store.DeleteReaction(ctx, messageID, m.userID); err != nil {
		return fmt.Errorf("remove reaction %s: %w", messageID, err)
	}
	if err := m.tx.Send(wire.EvRemoveReaction, wire.RemoveReaction{MessageID: messageID, UserID: m.userID}); err != nil {
		m.logger.Debug("reaction echo skipped", zap.Error(err))
	}
	m.bus.Publish(bus.ReactionRemovedEvent{MessageID: messageID, UserID: m.userID})
	return nil
}
