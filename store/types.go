package store

// Status is the delivery state of a message. Transitions are monotonic:
// sent -> delivered -> read, never backward.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank returns the position of a status in the delivery lifecycle.
// Unknown statuses rank below sent so they can never overwrite anything.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// MessageType distinguishes plain text from shared content.
type MessageType string

const (
	TypeText       MessageType = "text"
	TypeSharedPost MessageType = "sharedPost"
	TypeSharedReel MessageType = "sharedReel"
)

// Message is one chat message between two users.
//
// ID is assigned by the backend once the message is persisted. ClientID is a
// temporary id generated on the sending device before persistence; it must
// never be treated as a durable identifier.
type Message struct {
	ID        string      `json:"id"`
	ClientID  string      `json:"clientId,omitempty"`
	SenderID  string      `json:"senderId"`
	ReceiverID string     `json:"receiverId"`
	Content   string      `json:"content"`
	Type      MessageType `json:"messageType"`
	Status    Status      `json:"status"`
	ReplyToID string      `json:"replyToMessageId,omitempty"`
	Deleted   bool        `json:"deleted,omitempty"`
	CreatedAt int64       `json:"createdAt"` // unix millis
}

// Reaction is an emoji reaction to a message. A user holds at most one
// reaction per message; a new emoji replaces the previous one.
type Reaction struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
	UpdatedAt int64  `json:"updatedAt"`
}

// Notification is a non-chat notification (likes, follows, mentions) that the
// fallback poller reconciles when the live channel is down.
type Notification struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Kind      string `json:"kind"`
	ActorID   string `json:"actorId,omitempty"`
	Body      string `json:"body"`
	CreatedAt int64  `json:"createdAt"`
}

// OutboxEntry is a message composed while disconnected, held in the
// short-lived local send buffer until the connection returns.
type OutboxEntry struct {
	ID           int64
	ClientID     string
	ReceiverID   string
	Content      string
	Type         MessageType
	ReplyToID    string
	State        string // queued, sent, failed
	ErrorMessage string
	CreatedAt    int64
}
