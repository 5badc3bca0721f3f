package bus

import (
	"time"

	"github.com/vibely/realtime/status"
	"github.com/vibely/realtime/store"
)

// Kind identifies an event variant.
type Kind string

const (
	KindMessage          Kind = "message"
	KindTypingUpdate     Kind = "typingUpdate"
	KindDeliveryStatus   Kind = "deliveryStatus"
	KindReaction         Kind = "reaction"
	KindReactionRemoved  Kind = "reactionRemoved"
	KindConnectionChange Kind = "connectionChange"
	KindNotification     Kind = "notification"
)

// Event is the closed set of payloads dispatched through the registry. Each
// variant carries a strongly typed body; listeners switch on Kind or
// type-assert the variant directly.
type Event interface {
	Kind() Kind
}

// MessageEvent announces a new or updated chat message.
type MessageEvent struct {
	Message store.Message
}

func (MessageEvent) Kind() Kind { return KindMessage }

// TypingEvent announces the latest typing signal for a (user, chat) pair.
type TypingEvent struct {
	UserID    string
	ChatID    string
	IsTyping  bool
	UpdatedAt time.Time
}

func (TypingEvent) Kind() Kind { return KindTypingUpdate }

// DeliveryStatusEvent announces a message status transition.
type DeliveryStatusEvent struct {
	MessageID string
	Status    store.Status
	IsRead    bool
}

func (DeliveryStatusEvent) Kind() Kind { return KindDeliveryStatus }

// ReactionEvent announces an added or replaced reaction.
type ReactionEvent struct {
	Reaction store.Reaction
}

func (ReactionEvent) Kind() Kind { return KindReaction }

// ReactionRemovedEvent announces a removed reaction.
type ReactionRemovedEvent struct {
	MessageID string
	UserID    string
}

func (ReactionRemovedEvent) Kind() Kind { return KindReactionRemoved }

// ConnectionChangeEvent announces a connection state transition.
type ConnectionChangeEvent struct {
	From   status.State
	To     status.State
	Reason string
}

func (ConnectionChangeEvent) Kind() Kind { return KindConnectionChange }

// NotificationEvent announces a non-chat notification reconciled by the
// fallback poller.
type NotificationEvent struct {
	Notification store.Notification
}

func (NotificationEvent) Kind() Kind { return KindNotification }
