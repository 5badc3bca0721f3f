// Package push defines the push-delivery collaborator port. Failures here are
// logged by callers, never propagated as failures of the core flow.
package push

import (
	"context"

	"go.uber.org/zap"
)

// Notification is the payload handed to the platform push bridge.
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Sender delivers a platform push notification to a recipient while the app
// is not foregrounded.
type Sender interface {
	Send(ctx context.Context, recipientID string, n Notification) error
}

// NopSender logs and drops every notification. Used when the app wires no
// push bridge.
type NopSender struct {
	Logger *zap.Logger
}

// Send implements Sender.
func (s NopSender) Send(_ context.Context, recipientID string, n Notification) error {
	if s.Logger != nil {
		s.Logger.Debug("push dropped (no sender wired)",
			zap.String("recipient", recipientID),
			zap.String("title", n.Title))
	}
	return nil
}
