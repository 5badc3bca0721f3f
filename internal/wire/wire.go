// Package wire defines the JSON framing spoken over the realtime channel.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/vibely/realtime/store"
)

// Outbound event names.
const (
	EvJoinChat         = "join_chat"
	EvLeaveChat        = "leave_chat"
	EvSendMessage      = "send_message"
	EvTypingStatus     = "typing_status"
	EvMessageStatus    = "message_status"
	EvConversationRead = "conversation_read"
	EvAddReaction      = "add_reaction"
	EvRemoveReaction   = "remove_reaction"
)

// Inbound event names.
const (
	EvHello               = "hello"
	EvAck                 = "ack"
	EvNewMessage          = "new_message"
	EvMessageStatusUpdate = "message_status_update"
	EvTypingUpdate        = "typing_update"
	EvReactionUpdate      = "reaction_update"
)

// Envelope frames every event in both directions. Seq is nonzero only on
// frames that expect (or carry) an acknowledgement.
type Envelope struct {
	Event string          `json:"event"`
	Seq   uint64          `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode builds a wire frame for an event.
func Encode(event string, seq uint64, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = raw
	}
	frame, err := json.Marshal(Envelope{Event: event, Seq: seq, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", event, err)
	}
	return frame, nil
}

// Decode parses a raw frame into an envelope.
func Decode(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("decode frame: missing event name")
	}
	return &env, nil
}

// Unmarshal decodes an envelope's data into the given payload struct.
func (e *Envelope) Unmarshal(v any) error {
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Event, err)
	}
	return nil
}

// Hello is the first inbound frame after a successful handshake.
type Hello struct {
	SocketID string `json:"socketId"`
}

// JoinChat subscribes this connection to a chat channel.
type JoinChat struct {
	UserID string `json:"userId"`
	ChatID string `json:"chatId"`
}

// LeaveChat unsubscribes this connection from a chat channel.
type LeaveChat struct {
	ChatID string `json:"chatId"`
}

// SendMessage carries an outbound chat message.
type SendMessage struct {
	Message store.Message `json:"message"`
}

// TypingStatus carries an outbound typing signal.
type TypingStatus struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// MessageStatus notifies the server of one local status transition.
type MessageStatus struct {
	MessageID string       `json:"messageId"`
	Status    store.Status `json:"status"`
	IsRead    bool         `json:"isRead"`
}

// ConversationRead notifies the server that every unread message from PeerID
// to UserID was marked read, as one batched request.
type ConversationRead struct {
	UserID string `json:"userId"`
	PeerID string `json:"peerId"`
}

// AddReaction adds or replaces a reaction.
type AddReaction struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

// RemoveReaction removes a reaction.
type RemoveReaction struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// NewMessage carries an inbound chat message.
type NewMessage struct {
	Message store.Message `json:"message"`
}

// MessageStatusUpdate carries an inbound status transition.
type MessageStatusUpdate struct {
	MessageID string       `json:"messageId"`
	Status    store.Status `json:"status"`
	IsRead    bool         `json:"isRead"`
}

// TypingUpdate carries an inbound typing signal.
type TypingUpdate struct {
	UserID   string `json:"userId"`
	ChatID   string `json:"chatId"`
	IsTyping bool   `json:"isTyping"`
}

// ReactionUpdate carries an inbound reaction change. Removed distinguishes a
// removal from an add/replace.
type ReactionUpdate struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji,omitempty"`
	Removed   bool   `json:"removed,omitempty"`
}
