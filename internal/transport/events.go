package transport

import (
	"context"

	"github.com/vibely/realtime/internal/wire"
	"github.com/vibely/realtime/store"
	"go.uber.org/zap"
)

// Applier consumes decoded inbound domain events. Implemented by the
// reconciler so live and polled events share one application path.
type Applier interface {
	ApplyMessage(ctx context.Context, m store.Message)
	ApplyStatus(ctx context.Context, u wire.MessageStatusUpdate)
	ApplyTyping(u wire.TypingUpdate)
	ApplyReaction(ctx context.Context, u wire.ReactionUpdate)
}

// Dispatcher routes inbound wire frames to the applier. It does not call
// storage or the bus directly; the applier owns dedup and fan-out.
type Dispatcher struct {
	applier Applier
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher. logger may be nil.
func NewDispatcher(applier Applier, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{applier: applier, logger: logger}
}

// Handle is the manager's inbound handler.
func (d *Dispatcher) Handle(env *wire.Envelope) {
	ctx := context.Background()
	switch env.Event {
	case wire.EvNewMessage:
		var p wire.NewMessage
		if err := env.Unmarshal(&p); err != nil {
			d.logger.Warn("bad new_message frame", zap.Error(err))
			return
		}
		d.applier.ApplyMessage(ctx, p.Message)
	case wire.EvMessageStatusUpdate:
		var p wire.MessageStatusUpdate
		if err := env.Unmarshal(&p); err != nil {
			d.logger.Warn("bad message_status_update frame", zap.Error(err))
			return
		}
		d.applier.ApplyStatus(ctx, p)
	case wire.EvTypingUpdate:
		var p wire.TypingUpdate
		if err := env.Unmarshal(&p); err != nil {
			d.logger.Warn("bad typing_update frame", zap.Error(err))
			return
		}
		d.applier.ApplyTyping(p)
	case wire.EvReactionUpdate:
		var p wire.ReactionUpdate
		if err := env.Unmarshal(&p); err != nil {
			d.logger.Warn("bad reaction_update frame", zap.Error(err))
			return
		}
		d.applier.ApplyReaction(ctx, p)
	default:
		d.logger.Debug("unhandled inbound event", zap.String("event", env.Event))
	}
}
