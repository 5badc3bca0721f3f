// Package typing tracks volatile typing signals. Signals are last-value-wins
// per (user, chat) pair and are never persisted.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/vibely/realtime/internal/wire"
	"golang.org/x/time/rate"
)

// Transport is the slice of the connection manager typing needs.
type Transport interface {
	Send(name string, payload any) error
}

type key struct {
	userID string
	chatID string
}

type signal struct {
	isTyping  bool
	updatedAt time.Time
}

// Tracker holds the latest typing signal per (user, chat) pair and throttles
// outbound signals per chat so a fast typist does not flood the channel.
type Tracker struct {
	tx     Transport
	userID string
	limit  rate.Limit
	burst  int

	mu       sync.Mutex
	last     map[key]signal
	limiters map[string]*rate.Limiter
}

// NewTracker creates a typing tracker. perSecond bounds outbound start-typing
// signals per chat; stop signals always go through.
func NewTracker(tx Transport, userID string, perSecond float64) *Tracker {
	if perSecond <= 0 {
		perSecond = 1
	}
	return &Tracker{
		tx:       tx,
		userID:   userID,
		limit:    rate.Limit(perSecond),
		burst:    1,
		last:     make(map[key]signal),
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetTyping sends the local user's typing state for a chat. Throttled starts
// are dropped silently; the signal is volatile and the next one supersedes it.
func (t *Tracker) SetTyping(_ context.Context, chatID string, isTyping bool) error {
	if isTyping && !t.limiter(chatID).Allow() {
		return nil
	}
	return t.tx.Send(wire.EvTypingStatus, wire.TypingStatus{
		UserID:   t.userID,
		ChatID:   chatID,
		IsTyping: isTyping,
	})
}

func (t *Tracker) limiter(chatID string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(t.limit, t.burst)
		t.limiters[chatID] = l
	}
	return l
}

// Apply records an inbound typing signal. It returns false when the signal is
// older than the one already held for the pair; stale signals must not reach
// listeners after a newer one did.
func (t *Tracker) Apply(u wire.TypingUpdate, at time.Time) bool {
	k := key{userID: u.UserID, chatID: u.ChatID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.last[k]; ok && prev.updatedAt.After(at) {
		return false
	}
	t.last[k] = signal{isTyping: u.IsTyping, updatedAt: at}
	return true
}

// IsTyping returns the latest known state for a (user, chat) pair.
func (t *Tracker) IsTyping(userID, chatID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[key{userID: userID, chatID: chatID}].isTyping
}
