package models

import "time"

// ConversationEvent identifies what happened to a conversation.
type ConversationEvent string

const (
	EventMessageReceived ConversationEvent = "message_received"
	EventInviteAccepted  ConversationEvent = "invite_accepted"
	EventNoResponse      ConversationEvent = "no_response"
	EventResume          ConversationEvent = "resume"
	EventManualStart     ConversationEvent = "manual_start"
)

// ResumeClass reports whether the event may continue a paused workflow.
func (e ConversationEvent) ResumeClass() bool {
	switch e {
	case EventResume, EventMessageReceived, EventNoResponse:
		return true
	case EventInviteAccepted, EventManualStart:
		return false
	default:
		return false
	}
}

// Lead is the prospect on the other side of a conversation.
type Lead struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Company    string `json:"company,omitempty"`
	Title      string `json:"title,omitempty"`
	Status     string `json:"status,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	SectorID   string `json:"sector_id,omitempty"`
}

// Lead statuses written by terminal actions.
const (
	LeadStatusQualified     = "qualified"
	LeadStatusNotInterested = "not_interested"
	LeadStatusInviteExpired = "invite_expired"
)

// Conversation statuses.
const (
	ConversationStatusAutomated = "automated"
	ConversationStatusManual    = "manual"
	ConversationStatusClosed    = "closed"
)

// Conversation is the thread a workflow drives.
type Conversation struct {
	ID               string     `json:"id"`
	AccountID        string     `json:"account_id"`
	LeadID           string     `json:"lead_id"`
	AgentID          string     `json:"agent_id,omitempty"`
	Status           string     `json:"status"`
	AutomationActive bool       `json:"automation_active"`
	AssignedUserID   string     `json:"assigned_user_id,omitempty"`
	HandoffReason    string     `json:"handoff_reason,omitempty"`
	HandoffAt        *time.Time `json:"handoff_at,omitempty"`
	CloseReason      string     `json:"close_reason,omitempty"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Message statuses.
const (
	MessageStatusSent       = "sent"
	MessageStatusSendFailed = "send_failed"
)

// Message is one persisted outbound or inbound message. Failed sends are
// still persisted with MessageStatusSendFailed so continuity is preserved.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	Status         string    `json:"status"`
	SentAt         time.Time `json:"sent_at"`
}

// Notification is delivered to a human operator.
type Notification struct {
	ID             string         `json:"id"`
	AccountID      string         `json:"account_id"`
	UserID         string         `json:"user_id"`
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// PipelineRecord places a lead in a pipeline stage. One record exists per
// lead+pipeline pair; create_opportunity finds-or-creates it.
type PipelineRecord struct {
	ID         string    `json:"id"`
	LeadID     string    `json:"lead_id"`
	PipelineID string    `json:"pipeline_id"`
	StageID    string    `json:"stage_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
