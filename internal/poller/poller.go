package poller

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/vibely/realtime/store"
	"go.uber.org/zap"
)

// Config holds the poll knobs. Zero values fall back to defaults.
type Config struct {
	Interval time.Duration
	Page     int
}

func (c *Config) applyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.Page <= 0 {
		c.Page = 50
	}
}

// Poller re-synchronizes messages and notifications from the storage
// collaborator while the live channel is down, so the UI is never silently
// stale. On reconnection it runs one immediate pass to close the outage gap
// and then suspends until connectivity is lost again.
type Poller struct {
	st        store.Store
	cps       store.CheckpointStore // optional
	rec       *Reconciler
	connected func() bool
	cfg       Config
	breaker   *gobreaker.CircuitBreaker
	userID    string
	logger    *zap.Logger

	kick chan struct{}

	mu         sync.Mutex
	cancel     context.CancelFunc
	running    bool
	msgSince   int64
	notifSince int64
}

// New creates a fallback poller. cps may be nil; the poll window then starts
// at zero for a fresh session and rides the reconciler's high-water marks.
func New(st store.Store, cps store.CheckpointStore, rec *Reconciler, connected func() bool, cfg Config, userID string, logger *zap.Logger) *Poller {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Poller{
		st:        st,
		cps:       cps,
		rec:       rec,
		connected: connected,
		cfg:       cfg,
		userID:    userID,
		logger:    logger,
		kick:      make(chan struct{}, 1),
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "poller-storage",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("storage breaker state",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return p
}

// Start loads checkpoints and begins the poll loop.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.running = true
	p.mu.Unlock()

	p.loadCheckpoints(ctx)
	go p.loop(ctx)
}

// Stop halts the loop; no tick runs after Stop returns.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.running = false
}

// Kick requests one immediate reconciliation pass regardless of connectivity.
// Called on live-transport reconnection to close the outage gap.
func (p *Poller) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p.connected() {
				// Live channel is feeding the reconciler; stay suspended.
				continue
			}
			p.poll(ctx)
		case <-p.kick:
			p.poll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// poll runs one reconciliation pass. Collaborator failures trip the breaker
// and skip ticks; they never cancel the loop.
func (p *Poller) poll(ctx context.Context) {
	p.mu.Lock()
	msgSince := p.msgSince
	notifSince := p.notifSince
	p.mu.Unlock()

	if w := p.rec.MessageWater(); w > msgSince {
		msgSince = w
	}
	if w := p.rec.NotificationWater(); w > notifSince {
		notifSince = w
	}

	res, err := p.breaker.Execute(func() (any, error) {
		return p.st.MessagesSince(ctx, p.userID, msgSince, p.cfg.Page)
	})
	if err != nil {
		p.logger.Warn("message poll failed", zap.Error(err))
	} else {
		for _, m := range res.([]store.Message) {
			p.rec.ApplyMessage(ctx, m)
			if m.CreatedAt > msgSince {
				msgSince = m.CreatedAt
			}
		}
	}

	res, err = p.breaker.Execute(func() (any, error) {
		return p.st.NotificationsSince(ctx, p.userID, notifSince, p.cfg.Page)
	})
	if err != nil {
		p.logger.Warn("notification poll failed", zap.Error(err))
	} else {
		for _, n := range res.([]store.Notification) {
			p.rec.ApplyNotification(ctx, n)
			if n.CreatedAt > notifSince {
				notifSince = n.CreatedAt
			}
		}
	}

	p.mu.Lock()
	p.msgSince = msgSince
	p.notifSince = notifSince
	p.mu.Unlock()
	p.saveCheckpoints(ctx, msgSince, notifSince)
}

func (p *Poller) loadCheckpoints(ctx context.Context) {
	if p.cps == nil {
		return
	}
	msgSince, err := p.cps.Checkpoint(ctx, "poll:msg:"+p.userID)
	if err != nil {
		p.logger.Warn("load message checkpoint failed", zap.Error(err))
	}
	notifSince, err := p.cps.Checkpoint(ctx, "poll:notif:"+p.userID)
	if err != nil {
		p.logger.Warn("load notification checkpoint failed", zap.Error(err))
	}
	p.mu.Lock()
	p.msgSince = msgSince
	p.notifSince = notifSince
	p.mu.Unlock()
}

func (p *Poller) saveCheckpoints(ctx context.Context, msgSince, notifSince int64) {
	if p.cps == nil {
		return
	}
	if err := p.cps.SetCheckpoint(ctx, "poll:msg:"+p.userID, msgSince); err != nil {
		p.logger.Warn("save message checkpoint failed", zap.Error(err))
	}
	if err := p.cps.SetCheckpoint(ctx, "poll:notif:"+p.userID, notifSince); err != nil {
		p.logger.Warn("save notification checkpoint failed", zap.Error(err))
	}
}
