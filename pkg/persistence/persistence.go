// Package persistence provides the data storage abstraction for workflow
// state, invite logs, rotation state and conversation records.
package persistence

import (
	"context"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

type Persistence interface {
	WorkflowStates() WorkflowStateRepository
	Agents() AgentRepository
	Conversations() ConversationRepository
	Leads() LeadRepository
	Messages() MessageRepository
	InviteLog() InviteLogRepository
	Accounts() AccountRepository
	Rotation() RotationRepository
	Tags() TagRepository
	Pipeline() PipelineRepository
	Notifications() NotificationRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowStateRepository stores one state row per conversation.
type WorkflowStateRepository interface {
	Get(ctx context.Context, conversationID string) (*models.WorkflowState, error)
	Save(ctx context.Context, state *models.WorkflowState) error
}

type AgentRepository interface {
	GetByID(ctx context.Context, id string) (*models.AgentDefinition, error)
	Save(ctx context.Context, agent *models.AgentDefinition) error
	Assignees(ctx context.Context, agentID string) ([]*models.Assignee, error)
	SaveAssignees(ctx context.Context, agentID string, assignees []*models.Assignee) error
}

type ConversationRepository interface {
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	Save(ctx context.Context, conversation *models.Conversation) error
}

type LeadRepository interface {
	GetByID(ctx context.Context, id string) (*models.Lead, error)
	Save(ctx context.Context, lead *models.Lead) error
}

// MessageRepository appends outbound and inbound messages. Failed sends are
// appended too, with models.MessageStatusSendFailed.
type MessageRepository interface {
	Append(ctx context.Context, message *models.Message) error
	ByConversation(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// InviteLogRepository is append-only; rows are never updated in place.
type InviteLogRepository interface {
	Append(ctx context.Context, entry *models.InviteLogEntry) error

	// CountSince counts entries for the account with the given status and
	// sent_at strictly after the instant.
	CountSince(ctx context.Context, accountID, status string, since time.Time) (int, error)

	// CountWithMessageBetween counts sent entries carrying a personalized
	// note within [from, to).
	CountWithMessageBetween(ctx context.Context, accountID string, from, to time.Time) (int, error)

	// PendingOlderThan returns sent entries older than the cutoff whose lead
	// has no later accepted/expired/withdrawn entry.
	PendingOlderThan(ctx context.Context, accountID string, cutoff time.Time) ([]*models.InviteLogEntry, error)
}

type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.MessagingAccount, error)
	Save(ctx context.Context, account *models.MessagingAccount) error
	All(ctx context.Context) ([]*models.MessagingAccount, error)
}

type RotationRepository interface {
	GetState(ctx context.Context, agentID string) (*models.RotationState, error)
	SaveState(ctx context.Context, state *models.RotationState) error
	AppendAssignment(ctx context.Context, record *models.AssignmentRecord) error
}

// TagRepository mutates the target entity's tag set; Add and Remove are
// idempotent.
type TagRepository interface {
	Add(ctx context.Context, leadID, tag string) error
	Remove(ctx context.Context, leadID, tag string) error
	RemoveAll(ctx context.Context, leadID string) error
	List(ctx context.Context, leadID string) ([]string, error)
}

type PipelineRepository interface {
	GetByLeadAndPipeline(ctx context.Context, leadID, pipelineID string) (*models.PipelineRecord, error)
	Save(ctx context.Context, record *models.PipelineRecord) error
}

type NotificationRepository interface {
	Append(ctx context.Context, notification *models.Notification) error
}
