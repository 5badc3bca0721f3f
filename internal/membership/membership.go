// Package membership tracks which chat channels this device listens to.
// The transport forgets all memberships on every connection identity change,
// so the desired set lives here and is replayed after each reconnect.
package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vibely/realtime/internal/wire"
	"go.uber.org/zap"
)

// Transport is the slice of the connection manager membership needs.
type Transport interface {
	SendAwait(ctx context.Context, name string, payload any) error
	IsConnected() bool
}

// Manager implements join/leave with at-least-once join semantics: joins
// requested while disconnected are remembered and replayed on the next
// successful connect.
type Manager struct {
	tx         Transport
	userID     string
	logger     *zap.Logger
	retryDelay time.Duration

	mu      sync.Mutex
	desired map[string]time.Time // chatID -> time the join was requested
}

// New creates a membership manager. logger may be nil.
func New(tx Transport, userID string, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		tx:         tx,
		userID:     userID,
		logger:     logger,
		retryDelay: time.Second,
		desired:    make(map[string]time.Time),
	}
}

// Join subscribes to a chat channel. Joining an already-joined channel is a
// no-op success. While disconnected the request is remembered and replayed.
func (m *Manager) Join(ctx context.Context, chatID string) error {
	m.mu.Lock()
	if _, ok := m.desired[chatID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.desired[chatID] = time.Now()
	m.mu.Unlock()

	if !m.tx.IsConnected() {
		return nil
	}
	m.sendJoin(ctx, chatID, true)
	return nil
}

// sendJoin sends one join frame; on failure it schedules a single retry.
func (m *Manager) sendJoin(ctx context.Context, chatID string, retry bool) {
	err := m.tx.SendAwait(ctx, wire.EvJoinChat, wire.JoinChat{UserID: m.userID, ChatID: chatID})
	if err == nil {
		return
	}
	m.logger.Warn("join send failed", zap.String("chat_id", chatID), zap.Error(err))
	if !retry {
		return
	}
	time.AfterFunc(m.retryDelay, func() {
		m.mu.Lock()
		_, still := m.desired[chatID]
		m.mu.Unlock()
		if !still || !m.tx.IsConnected() {
			return
		}
		m.sendJoin(context.Background(), chatID, false)
	})
}

// Leave unsubscribes from a chat channel and forgets it, so it is not
// re-joined on the next reconnect.
func (m *Manager) Leave(ctx context.Context, chatID string) error {
	m.mu.Lock()
	delete(m.desired, chatID)
	m.mu.Unlock()

	if !m.tx.IsConnected() {
		return nil
	}
	if err := m.tx.SendAwait(ctx, wire.EvLeaveChat, wire.LeaveChat{ChatID: chatID}); err != nil {
		return fmt.Errorf("leave %s: %w", chatID, err)
	}
	return nil
}

// Joined returns the currently desired channel ids.
func (m *Manager) Joined() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.desired))
	for id := range m.desired {
		out = append(out, id)
	}
	return out
}

// HandleConnected rebuilds the membership set after a reconnect. Invoked from
// the connectionChange fan-out, so the replay runs on its own goroutine.
func (m *Manager) HandleConnected() {
	go m.rejoinAll()
}

func (m *Manager) rejoinAll() {
	m.mu.Lock()
	chats := make([]string, 0, len(m.desired))
	for id := range m.desired {
		chats = append(chats, id)
	}
	m.mu.Unlock()

	for _, chatID := range chats {
		m.sendJoin(context.Background(), chatID, true)
	}
	if len(chats) > 0 {
		m.logger.Info("memberships replayed", zap.Int("channels", len(chats)))
	}
}
