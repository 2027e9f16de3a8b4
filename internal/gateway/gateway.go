package gateway

import (
	"context"

	"github.com/rahul/esteira/internal/pipeline"
)

// Messenger defines the interface for communication gateways (Telegram, Discord, etc.)
type Messenger interface {
	// Start begins the message listening loop
	Start() error
	// Send sends a message to a specific chat
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// Controller is the control surface of a running pipeline.
type Controller interface {
	Approve(approved bool, feedback string) bool
	SelectTheme(id string) bool
	Rollback(ctx context.Context, target int) error
	UpdateApprovalConfig(map[string]bool)
	State() *pipeline.State
	AwaitingApproval() bool
	AwaitingTheme() bool
}

// MessengerSink forwards formatted pipeline notifications to a chat.
type MessengerSink struct {
	Messenger Messenger
	ChatID    string
}

func (s MessengerSink) Publish(ev pipeline.Event) {
	text, ok := FormatEvent(ev)
	if !ok || s.ChatID == "" {
		return
	}
	if err := s.Messenger.Send(s.ChatID, text); err != nil {
		logf("Failed to send %s notification: %v", ev.Name, err)
	}
}
