package actions

import (
	"context"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

// executeClose terminates the conversation with the given outcome. The lead
// status and conversation status change together; a configured closing
// message goes out after the state change for positive closes.
func (r *Registry) executeClose(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
	positive bool,
) (map[string]any, error) {
	message := stringParam(params, "message")

	leadStatus := models.LeadStatusNotInterested
	closeReason := "negative"

	if positive {
		leadStatus = models.LeadStatusQualified
		closeReason = "positive"
	}

	if execCtx.IsTestMode {
		return map[string]any{
			"simulated": true,
			"status":    leadStatus,
			"message":   message,
		}, nil
	}

	if execCtx.Lead != nil {
		lead, err := r.persistence.Leads().GetByID(ctx, execCtx.Lead.ID)
		if err != nil {
			return nil, err
		}

		lead.Status = leadStatus

		err = r.persistence.Leads().Save(ctx, lead)
		if err != nil {
			return nil, err
		}
	}

	conversation, err := r.persistence.Conversations().GetByID(ctx, execCtx.ConversationID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()

	conversation.Status = models.ConversationStatusClosed
	conversation.AutomationActive = false
	conversation.CloseReason = closeReason
	conversation.ClosedAt = &now

	err = r.persistence.Conversations().Save(ctx, conversation)
	if err != nil {
		return nil, err
	}

	if positive && message != "" {
		err = r.deliver(ctx, execCtx.ConversationID, message)
		if err != nil {
			// The close already took effect; a failed goodbye does not
			// reopen the conversation.
			r.logger.WarnContext(ctx, "Failed to send closing message",
				"conversation_id", execCtx.ConversationID,
				"error", err,
			)
		}
	}

	return map[string]any{
		"closed":      true,
		"status":      closeReason,
		"lead_status": leadStatus,
	}, nil
}
