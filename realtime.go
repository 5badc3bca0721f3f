// Package realtime is the realtime delivery subsystem of the Vibely client:
// a websocket transport with candidate failover and bounded reconnection, a
// typed event registry, room membership that survives reconnects, a monotonic
// message delivery state machine with a batched delivery tracker, and a
// fallback poller that reconciles with the live channel by message id.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vibely/realtime/bus"
	"github.com/vibely/realtime/internal/auth"
	"github.com/vibely/realtime/internal/delivery"
	"github.com/vibely/realtime/internal/logging"
	"github.com/vibely/realtime/internal/membership"
	"github.com/vibely/realtime/internal/outbox"
	"github.com/vibely/realtime/internal/poller"
	"github.com/vibely/realtime/internal/sessiondir"
	"github.com/vibely/realtime/internal/transport"
	"github.com/vibely/realtime/internal/typing"
	"github.com/vibely/realtime/internal/wire"
	"github.com/vibely/realtime/push"
	"github.com/vibely/realtime/status"
	"github.com/vibely/realtime/store"
)

// ErrNotConnected is returned by operations that need a live connection.
var ErrNotConnected = transport.ErrNotConnected

// Deps are optional collaborator overrides. Zero value works: the session
// opens a per-account sqlite cache, logs to the session directory, and drops
// push notifications.
type Deps struct {
	// Store is the message storage backend. Nil opens the local sqlite
	// cache under the account session directory.
	Store store.Store
	// Checkpoints persists poll checkpoints. Nil falls back to the local
	// cache when one is open, otherwise checkpoints are in-memory only.
	Checkpoints store.CheckpointStore
	// Push delivers platform notifications while the app is backgrounded.
	Push push.Sender
	// Logger overrides the default session-directory file logger.
	Logger *zap.Logger
}

// Session owns the realtime stack for one authenticated user.
type Session struct {
	opts   Options
	logger *zap.Logger

	events  *bus.Registry
	machine *status.Machine
	tokens  *auth.TokenSource
	mgr     *transport.Manager
	policy  *transport.Policy

	st  store.Store
	db  *store.DB // non-nil when the session owns the local cache
	lck *sessiondir.Lock

	rooms    *membership.Manager
	delivery *delivery.Machine
	tracker  *delivery.Tracker
	rec      *poller.Reconciler
	poller   *poller.Poller
	typing   *typing.Tracker
	buffer   *outbox.Buffer

	foreground atomic.Bool
	unsub      func()
	ownLogger  bool

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// NewSession wires the full stack. It does not connect; call Start.
func NewSession(opts Options, deps Deps) (*Session, error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	s := &Session{opts: opts}
	s.foreground.Store(true)

	logger := deps.Logger
	if logger == nil {
		if err := sessiondir.EnsureDir(opts.UserID); err != nil {
			return nil, fmt.Errorf("ensuring session dir: %w", err)
		}
		var err error
		logger, err = logging.New(sessiondir.LogPath(opts.UserID), opts.UserID)
		if err != nil {
			return nil, fmt.Errorf("creating logger: %w", err)
		}
		s.ownLogger = true
	}
	s.logger = logger

	s.events = bus.New(logger)
	s.machine = status.NewMachine(func(from, to status.State) {
		s.events.Publish(bus.ConnectionChangeEvent{From: from, To: to})
	})

	s.tokens = auth.NewTokenSource(30 * time.Second)
	if opts.Token != "" {
		s.tokens.Set(opts.Token)
	}

	s.mgr = transport.NewManager(transport.Config{
		Candidates:     opts.Endpoints,
		ConnectTimeout: opts.ConnectTimeout,
		AckTimeout:     opts.AckTimeout,
	}, s.machine, s.tokens, logger)
	s.policy = transport.NewPolicy(s.mgr, s.machine, transport.PolicyConfig{
		MaxAttempts: opts.MaxConnectionAttempts,
		RetryDelay:  opts.RetryDelay,
		Cooldown:    opts.ReconnectCooldown,
	}, logger)

	cps := deps.Checkpoints
	if deps.Store != nil {
		s.st = deps.Store
	} else {
		if err := sessiondir.EnsureDir(opts.UserID); err != nil {
			s.closeLogger()
			return nil, fmt.Errorf("ensuring session dir: %w", err)
		}
		lck, err := sessiondir.Acquire(sessiondir.Dir(opts.UserID))
		if err != nil {
			s.closeLogger()
			return nil, err
		}
		db, err := store.Open(sessiondir.CacheDBPath(opts.UserID))
		if err != nil {
			lck.Release()
			s.closeLogger()
			return nil, fmt.Errorf("opening cache db: %w", err)
		}
		if _, err := db.Migrate(); err != nil {
			db.Close()
			lck.Release()
			s.closeLogger()
			return nil, fmt.Errorf("migrating cache db: %w", err)
		}
		s.lck = lck
		s.db = db
		s.st = db
		if cps == nil {
			cps = db
		}
	}

	sender := deps.Push
	if sender == nil {
		sender = push.NopSender{Logger: logger}
	}

	s.typing = typing.NewTracker(s.mgr, opts.UserID, opts.TypingPerSecond)
	s.rec = poller.NewReconciler(s.st, s.events, s.typing, sender,
		func() bool { return s.foreground.Load() },
		opts.UserID, 2*opts.PollInterval, logger)
	s.mgr.SetInboundHandler(transport.NewDispatcher(s.rec, logger).Handle)

	s.delivery = delivery.NewMachine(s.st, s.mgr, s.events, opts.UserID, logger)
	s.tracker = delivery.NewTracker(s.delivery, opts.TrackerInterval, opts.PageSize, logger)
	s.poller = poller.New(s.st, cps, s.rec, s.mgr.IsConnected, poller.Config{
		Interval: opts.PollInterval,
		Page:     opts.PageSize,
	}, opts.UserID, logger)
	s.rooms = membership.New(s.mgr, opts.UserID, logger)
	if s.db != nil {
		s.buffer = outbox.NewBuffer(s.db, s.st, s.mgr, s.events, s.rec,
			opts.UserID, opts.OutboxCapacity, opts.OutboxMaxAge, logger)
	}

	s.unsub = s.events.Subscribe(bus.KindConnectionChange, func(e bus.Event) {
		cc, ok := e.(bus.ConnectionChangeEvent)
		if !ok || cc.To != status.Connected {
			return
		}
		s.rooms.HandleConnected()
		if s.buffer != nil {
			s.buffer.HandleConnected()
		}
		s.poller.Kick()
	})

	return s, nil
}

func (s *Session) closeLogger() {
	if s.ownLogger {
		_ = s.logger.Sync()
	}
}

// Start launches the delivery tracker and fallback poller and begins the
// initial connection attempt in the background. Connection outcomes are
// observable through connectionChange events.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("realtime: session already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel

	s.tracker.Start(runCtx)
	s.poller.Start(runCtx)
	go func() {
		if err := s.policy.Connect(runCtx); err != nil {
			s.logger.Warn("initial connect failed, retrying in background", zap.Error(err))
		}
	}()
	s.logger.Info("realtime session started",
		zap.Strings("endpoints", s.opts.Endpoints))
	return nil
}

// Close stops all loops, disconnects, and releases the session lock.
// Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.policy.Stop()
	s.tracker.Stop()
	s.poller.Stop()
	s.mgr.Disconnect()
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}

	var errs []error
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			errs = append(errs, err)
		}
		s.db = nil
	}
	if s.lck != nil {
		if err := s.lck.Release(); err != nil {
			errs = append(errs, err)
		}
		s.lck = nil
	}
	s.closeLogger()
	return errors.Join(errs...)
}

// Events exposes the listener registry.
func (s *Session) Events() *bus.Registry {
	return s.events
}

// Subscribe registers a listener for one event kind and returns its
// deregistration func.
func (s *Session) Subscribe(kind bus.Kind, fn func(bus.Event)) func() {
	return s.events.Subscribe(kind, fn)
}

// SendMessage persists and sends a chat message. While disconnected the
// message is queued in the local send buffer and flushed on reconnect; the
// returned message is then nil. Without a local cache a disconnected send
// fails with ErrNotConnected.
func (s *Session) SendMessage(ctx context.Context, receiverID, content string, typ store.MessageType, replyToID string) (*store.Message, error) {
	if receiverID == "" || content == "" {
		return nil, errors.New("realtime: receiver and content required")
	}
	if typ == "" {
		typ = store.TypeText
	}

	if !s.mgr.IsConnected() {
		if s.buffer == nil {
			return nil, ErrNotConnected
		}
		if err := s.buffer.Queue(ctx, receiverID, content, typ, replyToID); err != nil {
			return nil, err
		}
		return nil, nil
	}

	m := &store.Message{
		ClientID:   uuid.NewString(),
		SenderID:   s.opts.UserID,
		ReceiverID: receiverID,
		Content:    content,
		Type:       typ,
		ReplyToID:  replyToID,
		Status:     store.StatusSent,
		CreatedAt:  time.Now().UnixMilli(),
	}
	if err := s.st.InsertMessage(ctx, m); err != nil {
		return nil, fmt.Errorf("persisting message: %w", err)
	}
	// Claim the id before the server can echo it back through either
	// channel, so the local publish below is the only fan-out.
	s.rec.MarkApplied(m.ID)

	if err := s.mgr.Send(wire.EvSendMessage, wire.SendMessage{Message: *m}); err != nil {
		// Persisted already; the receiver reconciles it via polling.
		s.logger.Warn("message persisted but transport send failed",
			zap.String("msg_id", m.ID), zap.Error(err))
	}
	s.events.Publish(bus.MessageEvent{Message: *m})
	return m, nil
}

// MarkDelivered records receipt of a single inbound message.
func (s *Session) MarkDelivered(ctx context.Context, messageID string) error {
	return s.delivery.MarkDelivered(ctx, messageID)
}

// MarkRead records that the local user read a single message.
func (s *Session) MarkRead(ctx context.Context, messageID string) error {
	return s.delivery.MarkRead(ctx, messageID)
}

// MarkConversationRead marks every unread message from peerID as read in one
// storage round trip.
func (s *Session) MarkConversationRead(ctx context.Context, peerID string) error {
	return s.delivery.MarkConversationRead(ctx, peerID)
}

// React sets the local user's reaction on a message. Reacting with the
// current emoji removes it.
func (s *Session) React(ctx context.Context, messageID, emoji string) error {
	return s.delivery.React(ctx, messageID, emoji)
}

// RemoveReaction removes the local user's reaction from a message.
func (s *Session) RemoveReaction(ctx context.Context, messageID string) error {
	return s.delivery.RemoveReaction(ctx, messageID)
}

// JoinChat subscribes to a chat room. Membership is remembered and replayed
// after every reconnect until LeaveChat.
func (s *Session) JoinChat(ctx context.Context, chatID string) error {
	return s.rooms.Join(ctx, chatID)
}

// LeaveChat unsubscribes from a chat room.
func (s *Session) LeaveChat(ctx context.Context, chatID string) error {
	return s.rooms.Leave(ctx, chatID)
}

// JoinedChats lists the chats the session intends to be joined to.
func (s *Session) JoinedChats() []string {
	return s.rooms.Joined()
}

// SetTyping emits a typing signal for a chat. Start signals are rate
// limited per chat; stop signals always go out.
func (s *Session) SetTyping(ctx context.Context, chatID string, isTyping bool) error {
	return s.typing.SetTyping(ctx, chatID, isTyping)
}

// IsTyping reports the last known typing state of a user in a chat.
func (s *Session) IsTyping(userID, chatID string) bool {
	return s.typing.IsTyping(userID, chatID)
}

// Reconnect requests an immediate manual reconnect, resetting the endpoint
// cycle. After the automatic attempt budget is exhausted it is gated by a
// cooldown and returns transport.ErrCooldown until the cooldown elapses.
func (s *Session) Reconnect(ctx context.Context) error {
	return s.policy.Reconnect(ctx)
}

// SetForeground tells the session whether the app is foregrounded.
// Backgrounding pauses automatic reconnection; foregrounding resumes a
// paused cycle.
func (s *Session) SetForeground(fg bool) {
	s.foreground.Store(fg)
	s.policy.SetForeground(fg)
}

// SetToken installs a rotated session token for subsequent dials.
func (s *Session) SetToken(token string) {
	s.tokens.Set(token)
}

// ConnectionState returns the current transport state.
func (s *Session) ConnectionState() status.State {
	return s.machine.Current()
}

// IsConnected reports whether the transport is currently connected.
func (s *Session) IsConnected() bool {
	return s.mgr.IsConnected()
}

// ConnectionID returns the server-assigned socket id of the live
// connection, or "" while disconnected.
func (s *Session) ConnectionID() string {
	return s.mgr.ConnectionID()
}

// PendingOutbox reports how many buffered messages await flush.
func (s *Session) PendingOutbox(ctx context.Context) (int, error) {
	if s.buffer == nil {
		return 0, nil
	}
	return s.buffer.Pending(ctx)
}
