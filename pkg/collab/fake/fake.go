// Package fake provides in-memory collab implementations that record calls
// and fail on demand, for exercising workflows without external platforms.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/outflowhq/outflow/pkg/collab"
	"github.com/outflowhq/outflow/pkg/models"
)

// SentMessage records one Messenger.SendMessage call.
type SentMessage struct {
	ConversationID string
	Content        string
}

// SentInvite records one Messenger.SendInvite call.
type SentInvite struct {
	AccountID string
	LeadID    string
	Note      string
}

// Messenger records sends and can be scripted to fail.
type Messenger struct {
	mu sync.Mutex

	Messages   []SentMessage
	Invites    []SentInvite
	Withdrawn  []SentInvite
	FailSends  int
	FailInvite bool
}

func NewMessenger() *Messenger {
	return &Messenger{}
}

func (m *Messenger) SendMessage(_ context.Context, conversationID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSends > 0 {
		m.FailSends--

		return fmt.Errorf("%w: conversation %s", collab.ErrSendFailed, conversationID)
	}

	m.Messages = append(m.Messages, SentMessage{ConversationID: conversationID, Content: content})

	return nil
}

func (m *Messenger) SendInvite(_ context.Context, accountID, leadID, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailInvite {
		return fmt.Errorf("%w: lead %s", collab.ErrInviteFailed, leadID)
	}

	m.Invites = append(m.Invites, SentInvite{AccountID: accountID, LeadID: leadID, Note: note})

	return nil
}

func (m *Messenger) WithdrawInvite(_ context.Context, accountID, leadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Withdrawn = append(m.Withdrawn, SentInvite{AccountID: accountID, LeadID: leadID})

	return nil
}

// SentCount returns how many messages were delivered.
func (m *Messenger) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.Messages)
}

// Generator returns canned results. Results are consumed in order; when the
// list runs out the last one repeats. With no results configured it echoes
// the request's objective.
type Generator struct {
	Results  []collab.GenerationResult
	Err      error
	Requests []collab.GenerationRequest

	calls int
}

func (g *Generator) Generate(_ context.Context, req collab.GenerationRequest) (*collab.GenerationResult, error) {
	g.Requests = append(g.Requests, req)
	g.calls++

	if g.Err != nil {
		return nil, g.Err
	}

	if len(g.Results) == 0 {
		return &collab.GenerationResult{Response: req.Objective}, nil
	}

	idx := g.calls - 1
	if idx >= len(g.Results) {
		idx = len(g.Results) - 1
	}

	result := g.Results[idx]

	return &result, nil
}

// SentEmail records one Mailer.Send call.
type SentEmail struct {
	To      string
	Subject string
	Body    string
}

// Mailer records sent email.
type Mailer struct {
	mu     sync.Mutex
	Emails []SentEmail
	Err    error
}

func (m *Mailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return m.Err
	}

	m.Emails = append(m.Emails, SentEmail{To: to, Subject: subject, Body: body})

	return nil
}

// Notifier records delivered notifications.
type Notifier struct {
	mu            sync.Mutex
	Notifications []*models.Notification
}

func (n *Notifier) Notify(_ context.Context, notification *models.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.Notifications = append(n.Notifications, notification)

	return nil
}

// ForUser returns the notifications delivered to one operator.
func (n *Notifier) ForUser(userID string) []*models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()

	out := make([]*models.Notification, 0)

	for _, notification := range n.Notifications {
		if notification.UserID == userID {
			out = append(out, notification)
		}
	}

	return out
}
