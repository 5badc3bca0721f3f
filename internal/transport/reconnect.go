package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vibely/realtime/status"
	"go.uber.org/zap"
)

// ErrCooldown is returned by Reconnect while the post-exhaustion cooldown is
// still running.
var ErrCooldown = errors.New("transport: reconnect cooldown active")

// PolicyConfig holds the retry knobs. Zero values fall back to defaults.
type PolicyConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	// Cooldown gates manual reconnects after the attempt budget is
	// exhausted. Defaults to five retry delays.
	Cooldown time.Duration
}

func (c *PolicyConfig) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 2 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * c.RetryDelay
	}
}

// Policy decides when and where the manager retries after a failure. It
// rotates candidate endpoints, backs off linearly, stops after the attempt
// budget is spent, and never retries while the app is backgrounded —
// reconnect attempts for an invisible UI just drain the battery.
type Policy struct {
	mgr     *Manager
	machine *status.Machine
	cfg     PolicyConfig
	logger  *zap.Logger

	mu                 sync.Mutex
	timer              *time.Timer
	stopped            bool
	foreground         bool
	resumeOnForeground bool
	suspendedAt        time.Time
}

// NewPolicy creates a reconnection policy and wires itself as the manager's
// disconnect hook. The process starts foregrounded.
func NewPolicy(mgr *Manager, machine *status.Machine, cfg PolicyConfig, logger *zap.Logger) *Policy {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Policy{
		mgr:        mgr,
		machine:    machine,
		cfg:        cfg,
		logger:     logger,
		foreground: true,
	}
	mgr.SetOnDisconnect(p.connectionLost)
	return p
}

// Connect performs the initial attempt and arms automatic retries on failure.
func (p *Policy) Connect(ctx context.Context) error {
	err := p.mgr.Connect(ctx)
	if err != nil {
		p.logger.Warn("connection attempt failed", zap.Error(err))
		p.scheduleNext()
	}
	return err
}

func (p *Policy) connectionLost(error) {
	p.scheduleNext()
}

func (p *Policy) attempt() {
	if err := p.mgr.Connect(context.Background()); err != nil {
		p.logger.Warn("connection attempt failed", zap.Error(err))
		p.scheduleNext()
	}
}

func (p *Policy) scheduleNext() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if !p.foreground {
		// Resume only when the process is visible again.
		p.resumeOnForeground = true
		p.mu.Unlock()
		return
	}
	attempts := p.mgr.Attempts()
	if attempts >= p.cfg.MaxAttempts {
		p.suspendedAt = time.Now()
		p.mu.Unlock()
		p.logger.Warn("connection attempts exhausted, suspending automatic reconnect",
			zap.Int("attempts", attempts))
		_ = p.machine.Transition(status.Suspended)
		return
	}
	p.mgr.AdvanceEndpoint()
	delay := time.Duration(attempts) * p.cfg.RetryDelay
	if delay <= 0 {
		delay = p.cfg.RetryDelay
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(delay, p.attempt)
	p.mu.Unlock()

	p.logger.Info("reconnect scheduled",
		zap.Duration("delay", delay),
		zap.Int("attempt", attempts+1),
		zap.Int("endpoint_index", p.mgr.ActiveEndpointIndex()))
}

// Reconnect is the explicit manual retry. After exhaustion it is honored only
// once the cooldown has elapsed; it then resets the attempt counter and
// restarts the candidate cycle from index 0.
func (p *Policy) Reconnect(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	if p.machine.Is(status.Suspended) {
		if remaining := p.cfg.Cooldown - time.Since(p.suspendedAt); remaining > 0 {
			p.mu.Unlock()
			return fmt.Errorf("%w (%s remaining)", ErrCooldown, remaining.Round(time.Second))
		}
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.resumeOnForeground = false
	p.mu.Unlock()

	p.mgr.ResetCycle()
	err := p.mgr.Connect(ctx)
	if err != nil {
		p.logger.Warn("manual reconnect failed", zap.Error(err))
		p.scheduleNext()
	}
	return err
}

// SetForeground feeds the host process visibility signal. Returning to
// foreground with a pending disconnect triggers one immediate attempt.
func (p *Policy) SetForeground(fg bool) {
	p.mu.Lock()
	p.foreground = fg
	resume := fg && p.resumeOnForeground && !p.stopped &&
		!p.machine.Is(status.Suspended) && !p.machine.Is(status.Connected)
	if resume {
		p.resumeOnForeground = false
	}
	p.mu.Unlock()

	if resume {
		go p.attempt()
	}
}

// Stop cancels any scheduled retry. Called on session teardown; a timer
// surviving logout would dial on behalf of a dead session.
func (p *Policy) Stop() {
	p.mu.Lock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
}
