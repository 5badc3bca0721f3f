package delivery

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Tracker periodically sweeps inbound messages still in sent state and
// submits them for the sent -> delivered transition, coalescing many
// transitions into one timer-driven batch per interval.
type Tracker struct {
	machine  *Machine
	interval time.Duration
	page     int
	logger   *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewTracker creates a delivery tracker. interval defaults to 5s, page to 50.
func NewTracker(machine *Machine, interval time.Duration, page int, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if page <= 0 {
		page = 50
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		machine:  machine,
		interval: interval,
		page:     page,
		logger:   logger,
	}
}

// Start begins the sweep loop. Starting a running tracker is a no-op.
func (t *Tracker) Start(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return
	}
	ctx, t.cancel = context.WithCancel(ctx)
	t.running = true
	go t.loop(ctx)
}

// Stop halts the loop. No tick is scheduled after Stop returns; orphaned
// timers surviving a logout would transition messages for a stale identity.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.running = false
}

func (t *Tracker) loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// tick runs one sweep. A failing tick logs and leaves the ticker alive:
// collaborator outages are transient.
func (t *Tracker) tick(ctx context.Context) {
	msgs, err := t.machine.store.UndeliveredTo(ctx, t.machine.userID, t.page)
	if err != nil {
		t.logger.Warn("delivery sweep failed", zap.Error(err))
		return
	}
	for _, msg := range msgs {
		if err := t.machine.MarkDelivered(ctx, msg.ID); err != nil {
			t.logger.Warn("mark delivered failed", zap.String("msg_id", msg.ID), zap.Error(err))
		}
	}
}
