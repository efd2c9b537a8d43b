package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/outflowhq/outflow/pkg/collab"
	"github.com/outflowhq/outflow/pkg/eventbus"
	"github.com/outflowhq/outflow/pkg/events"
	"github.com/outflowhq/outflow/pkg/models"
)

// Handoff reasons outside the keyword taxonomy.
const (
	ReasonExchangeLimit = "exchange_limit"
	ReasonManual        = "manual"
)

// reasonText renders a reason for operator-facing notifications.
var reasonText = map[string]string{
	ReasonExchangeLimit:             "atingiu o limite de trocas",
	ReasonManual:                    "foi transferida manualmente",
	"trigger_" + TriggerDoubt:       "detectou dúvida do lead",
	"trigger_" + TriggerQualified:   "identificou lead qualificado",
	"trigger_" + TriggerPrice:       "lead perguntou sobre preço",
	"trigger_" + TriggerDemo:        "lead solicitou demonstração",
	"trigger_" + TriggerCompetitor:  "lead mencionou concorrente",
	"trigger_" + TriggerUrgency:     "detectou urgência do lead",
	"trigger_" + TriggerFrustration: "detectou frustração do lead",
}

// HandoffResult reports what ExecuteHandoff did.
type HandoffResult struct {
	ConversationID string `json:"conversation_id"`
	AssignedUserID string `json:"assigned_user_id,omitempty"`
	Reason         string `json:"reason"`
	MessageSent    bool   `json:"message_sent"`
}

// HandoffService executes the AI-to-human transfer.
type HandoffService struct {
	*Service

	messenger collab.Messenger
	notifier  collab.Notifier
	publisher eventbus.EventPublisher
}

func NewHandoffService(
	service *Service,
	messenger collab.Messenger,
	notifier collab.Notifier,
	publisher eventbus.EventPublisher,
) *HandoffService {
	return &HandoffService{
		Service:   service,
		messenger: messenger,
		notifier:  notifier,
		publisher: publisher,
	}
}

// ExecuteHandoff disables automation on the conversation, assigns it via
// rotation, optionally sends a farewell message to the lead and notifies the
// assignee. A failed farewell send or notification does not fail the
// handoff; the automation stays off either way.
func (h *HandoffService) ExecuteHandoff(
	ctx context.Context,
	conversationID string,
	agent *models.AgentDefinition,
	reason string,
	matched []string,
) (*HandoffResult, error) {
	conversation, err := h.persistence.Conversations().GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	now := time.Now().UTC()

	conversation.AutomationActive = false
	conversation.Status = models.ConversationStatusManual
	conversation.HandoffReason = reason
	conversation.HandoffAt = &now

	err = h.persistence.Conversations().Save(ctx, conversation)
	if err != nil {
		return nil, fmt.Errorf("failed to disable automation: %w", err)
	}

	h.logger.InfoContext(ctx, "Automation disabled for handoff",
		"conversation_id", conversationID,
		"reason", reason,
	)

	result := &HandoffResult{ConversationID: conversationID, Reason: reason}

	assignee, err := h.AssignAndLog(ctx, agent.ID, conversationID)
	if err != nil {
		return nil, err
	}

	if assignee != nil {
		result.AssignedUserID = assignee.UserID
	}

	if !agent.Silent && agent.TransferMessage != "" {
		sendErr := h.messenger.SendMessage(ctx, conversationID, agent.TransferMessage)
		if sendErr != nil {
			h.logger.WarnContext(ctx, "Failed to send farewell message",
				"conversation_id", conversationID,
				"error", sendErr,
			)
		} else {
			result.MessageSent = true

			_ = h.persistence.Messages().Append(ctx, &models.Message{
				ConversationID: conversationID,
				Sender:         "system",
				Content:        agent.TransferMessage,
				Status:         models.MessageStatusSent,
			})
		}
	}

	h.notify(ctx, conversation, agent, assignee, reason)

	if h.publisher != nil {
		event := events.HandoffExecuted{
			BaseEvent: events.BaseEvent{
				Type:           events.HandoffExecutedEvent,
				Timestamp:      now,
				ConversationID: conversationID,
				AgentID:        agent.ID,
			},
			Reason:         reason,
			Reasons:        matched,
			AssignedUserID: result.AssignedUserID,
			Silent:         agent.Silent,
		}

		publishErr := h.publisher.Publish(ctx, conversationID, event)
		if publishErr != nil {
			h.logger.WarnContext(ctx, "Failed to publish handoff event", "error", publishErr)
		}
	}

	return result, nil
}

func (h *HandoffService) notify(
	ctx context.Context,
	conversation *models.Conversation,
	agent *models.AgentDefinition,
	assignee *models.Assignee,
	reason string,
) {
	text, ok := reasonText[reason]
	if !ok {
		text = reason
	}

	leadName := conversation.LeadID

	lead, err := h.persistence.Leads().GetByID(ctx, conversation.LeadID)
	if err == nil && lead.Name != "" {
		leadName = lead.Name
	}

	metadata := map[string]any{
		"reason":     reason,
		"agent_name": agent.Name,
	}

	if assignee != nil {
		h.deliver(ctx, &models.Notification{
			AccountID:      conversation.AccountID,
			UserID:         assignee.UserID,
			Type:           "handoff",
			Title:          "Nova conversa transferida",
			Body:           fmt.Sprintf("A conversa com %s %s e foi transferida para você.", leadName, text),
			ConversationID: conversation.ID,
			Metadata:       metadata,
		})

		return
	}

	// No assignee configured: fan out to the agent's org unit so someone
	// picks the conversation up.
	if agent.SectorID != "" {
		metadata["sector_id"] = agent.SectorID

		h.deliver(ctx, &models.Notification{
			AccountID:      conversation.AccountID,
			Type:           "handoff",
			Title:          "Nova conversa transferida",
			Body:           fmt.Sprintf("A conversa com %s %s.", leadName, text),
			ConversationID: conversation.ID,
			Metadata:       metadata,
		})
	}
}

func (h *HandoffService) deliver(ctx context.Context, notification *models.Notification) {
	err := h.persistence.Notifications().Append(ctx, notification)
	if err != nil {
		h.logger.WarnContext(ctx, "Failed to persist handoff notification", "error", err)
	}

	if h.notifier == nil {
		return
	}

	err = h.notifier.Notify(ctx, notification)
	if err != nil {
		h.logger.WarnContext(ctx, "Failed to deliver handoff notification", "error", err)
	}
}
