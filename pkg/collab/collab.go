// Package collab defines the outbound collaboration surfaces a workflow
// drives: messaging providers, content generation, email and operator
// notification. Implementations talk to external platforms; the engine only
// sees these interfaces.
package collab

import (
	"context"
	"errors"

	"github.com/outflowhq/outflow/pkg/models"
)

var (
	ErrSendFailed     = errors.New("message send failed")
	ErrInviteFailed   = errors.New("invite send failed")
	ErrNoGenerator    = errors.New("no content generator configured")
	ErrDeliveryFailed = errors.New("notification delivery failed")
)

// Messenger sends messages and connection requests through an external
// messaging account.
type Messenger interface {
	// SendMessage delivers content to the conversation's lead.
	SendMessage(ctx context.Context, conversationID, content string) error

	// SendInvite sends a connection request; note may be empty.
	SendInvite(ctx context.Context, accountID, leadID, note string) error

	// WithdrawInvite retracts a still-pending connection request.
	WithdrawInvite(ctx context.Context, accountID, leadID string) error
}

// GenerationRequest carries the conversation context a generator needs to
// produce the next message for a conversation step.
type GenerationRequest struct {
	ConversationID string         `json:"conversation_id"`
	AgentID        string         `json:"agent_id"`
	Message        string         `json:"message,omitempty"`
	Instructions   string         `json:"instructions,omitempty"`
	Objective      string         `json:"objective,omitempty"`
	Data           map[string]any `json:"data,omitempty"`
}

// GenerationResult is the generator's verdict for one step. Advance reports
// whether the step's objective was achieved by the lead's message.
type GenerationResult struct {
	Response string `json:"response"`
	Advance  bool   `json:"advance"`
	Intent   string `json:"intent,omitempty"`
}

// Generator produces message content and objective verdicts for
// conversation steps.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (*GenerationResult, error)
}

// Mailer sends transactional email.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Notifier delivers notifications to human operators.
type Notifier interface {
	Notify(ctx context.Context, notification *models.Notification) error
}
