// Package delivery owns message state transitions: the monotonic
// sent -> delivered -> read machine, the batched delivery tracker, and
// reaction changes.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vibely/realtime/bus"
	"github.com/vibely/realtime/internal/wire"
	"github.com/vibely/realtime/store"
	"go.uber.org/zap"
)

// ErrNotReceiver is returned when a caller tries to transition a message not
// addressed to them. A sender cannot mark their own message as read.
var ErrNotReceiver = errors.New("delivery: caller is not the message receiver")

// Transport is the slice of the connection manager delivery needs. Echoing a
// transition to the server is best-effort; storage remains authoritative.
type Transport interface {
	Send(name string, payload any) error
}

// Machine applies status transitions, persisting them through the storage
// collaborator and fanning them out on the bus.
type Machine struct {
	store  store.Store
	tx     Transport
	bus    *bus.Registry
	userID string
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewMachine creates a delivery state machine for the local user.
func NewMachine(st store.Store, tx Transport, b *bus.Registry, userID string, logger *zap.Logger) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{
		store:    st,
		tx:       tx,
		bus:      b,
		userID:   userID,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// begin claims the in-flight slot for a message id. A message claimed by an
// overlapping tick or a duplicate network reply is skipped, not re-submitted.
func (m *Machine) begin(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inflight[id]; ok {
		return false
	}
	m.inflight[id] = struct{}{}
	return true
}

func (m *Machine) end(id string) {
	m.mu.Lock()
	delete(m.inflight, id)
	m.mu.Unlock()
}

// MarkDelivered transitions an inbound message from sent to delivered.
// Duplicate concurrent submissions and already-advanced statuses are no-ops.
func (m *Machine) MarkDelivered(ctx context.Context, id string) error {
	if !m.begin(id) {
		return nil
	}
	defer m.end(id)

	msg, err := m.store.Message(ctx, id)
	if err != nil {
		return fmt.Errorf("mark delivered %s: %w", id, err)
	}
	if msg.ReceiverID != m.userID {
		return ErrNotReceiver
	}
	if msg.Status != store.StatusSent {
		// Already delivered or read; a late delivery event never regresses.
		return nil
	}

	changed, err := m.store.UpdateStatus(ctx, id, store.StatusDelivered)
	if err != nil {
		return fmt.Errorf("mark delivered %s: %w", id, err)
	}
	if !changed {
		return nil
	}

	m.echo(wire.MessageStatus{MessageID: id, Status: store.StatusDelivered})
	m.bus.Publish(bus.DeliveryStatusEvent{MessageID: id, Status: store.StatusDelivered})
	return nil
}

// MarkRead transitions a message to read when the local user opens the
// conversation. Marking an already-read message is a no-op, not an error.
func (m *Machine) MarkRead(ctx context.Context, id string) error {
	msg, err := m.store.Message(ctx, id)
	if err != nil {
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	if msg.ReceiverID != m.userID {
		return ErrNotReceiver
	}
	if msg.Status == store.StatusRead {
		return nil
	}

	changed, err := m.store.UpdateStatus(ctx, id, store.StatusRead)
	if err != nil {
		return fmt.Errorf("mark read %s: %w", id, err)
	}
	if !changed {
		return nil
	}

	m.echo(wire.MessageStatus{MessageID: id, Status: store.StatusRead, IsRead: true})
	m.bus.Publish(bus.DeliveryStatusEvent{MessageID: id, Status: store.StatusRead, IsRead: true})
	return nil
}

// MarkConversationRead marks every unread message from peerID to the local
// user as read: one storage bulk-update and one wire frame regardless of how
// many messages are affected.
func (m *Machine) MarkConversationRead(ctx context.Context, peerID string) error {
	ids, err := m.store.BulkMarkRead(ctx, peerID, m.userID)
	if err != nil {
		return fmt.Errorf("mark conversation read %s: %w", peerID, err)
	}
	if len(ids) == 0 {
		return nil
	}

	m.echo(wire.ConversationRead{UserID: m.userID, PeerID: peerID})
	for _, id := range ids {
		m.bus.Publish(bus.DeliveryStatusEvent{MessageID: id, Status: store.StatusRead, IsRead: true})
	}
	m.logger.Info("conversation marked read", zap.String("peer", peerID), zap.Int("messages", len(ids)))
	return nil
}

// echo notifies the server of a local transition. Failures are logged only;
// the next tracker tick or poll closes the gap.
func (m *Machine) echo(payload any) {
	name := wire.EvMessageStatus
	if _, ok := payload.(wire.ConversationRead); ok {
		name = wire.EvConversationRead
	}
	if err := m.tx.Send(name, payload); err != nil {
		m.logger.Debug("status echo skipped", zap.String("event", name), zap.Error(err))
	}
}
