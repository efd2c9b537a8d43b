// Package events defines the lifecycle notifications published as a
// conversation's workflow advances.
package events

import (
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

type EventType string

// Topic carries every workflow lifecycle event, keyed by conversation ID so
// ordering holds per conversation.
const Topic = "outflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	WorkflowInitializedEvent EventType = "workflow.initialized"
	WorkflowPausedEvent      EventType = "workflow.paused"
	WorkflowResumedEvent     EventType = "workflow.resumed"
	WorkflowCompletedEvent   EventType = "workflow.completed"
	WorkflowFailedEvent      EventType = "workflow.failed"

	HandoffExecutedEvent EventType = "handoff.executed"
	InviteSentEvent      EventType = "invite.sent"
	InviteExpiredEvent   EventType = "invite.expired"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id"`
	AgentID        string         `json:"agent_id,omitempty"`
	WorkerID       string         `json:"worker_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

type WorkflowInitialized struct {
	BaseEvent

	Event       models.ConversationEvent `json:"event"`
	TriggerNode string                   `json:"trigger_node"`
}

func (w WorkflowInitialized) GetType() EventType {
	return WorkflowInitializedEvent
}

type WorkflowPaused struct {
	BaseEvent

	Reason       string     `json:"reason"`
	ResumeNodeID string     `json:"resume_node_id"`
	ResumeAt     *time.Time `json:"resume_at,omitempty"`
}

func (w WorkflowPaused) GetType() EventType {
	return WorkflowPausedEvent
}

type WorkflowResumed struct {
	BaseEvent

	Event        models.ConversationEvent `json:"event"`
	ResumeNodeID string                   `json:"resume_node_id"`
}

func (w WorkflowResumed) GetType() EventType {
	return WorkflowResumedEvent
}

type WorkflowCompleted struct {
	BaseEvent

	FinalNodeID string        `json:"final_node_id"`
	Duration    time.Duration `json:"duration"`
}

func (w WorkflowCompleted) GetType() EventType {
	return WorkflowCompletedEvent
}

type WorkflowFailed struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Error  string `json:"error"`
}

func (w WorkflowFailed) GetType() EventType {
	return WorkflowFailedEvent
}

type HandoffExecuted struct {
	BaseEvent

	Reason         string   `json:"reason"`
	Reasons        []string `json:"reasons,omitempty"`
	AssignedUserID string   `json:"assigned_user_id,omitempty"`
	Silent         bool     `json:"silent"`
}

func (h HandoffExecuted) GetType() EventType {
	return HandoffExecutedEvent
}

type InviteSent struct {
	BaseEvent

	AccountID       string `json:"account_id"`
	LeadID          string `json:"lead_id"`
	MessageIncluded bool   `json:"message_included"`
}

func (i InviteSent) GetType() EventType {
	return InviteSentEvent
}

type InviteExpired struct {
	BaseEvent

	AccountID string    `json:"account_id"`
	LeadID    string    `json:"lead_id"`
	SentAt    time.Time `json:"sent_at"`
}

func (i InviteExpired) GetType() EventType {
	return InviteExpiredEvent
}
