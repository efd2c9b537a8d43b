package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/template"
)

var ErrMessageRequired = errors.New("message content is required")

var ErrSchedulingLinkRequired = errors.New("scheduling link not configured")

// executeSendMessage delivers a rendered message to the lead. The workflow
// waits for a reply afterwards unless waitForResponse is explicitly false.
func (r *Registry) executeSendMessage(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
	result *models.ActionExecutionResult,
) (map[string]any, error) {
	message := stringParam(params, "message")
	if message == "" {
		return nil, ErrMessageRequired
	}

	waitForResponse := boolParam(params, "waitForResponse", true)
	result.WaitForResponse = waitForResponse

	rendered, err := template.RenderString(message, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render message: %w", err)
	}

	if execCtx.IsTestMode {
		return map[string]any{
			"simulated":         true,
			"message":           rendered,
			"wait_for_response": waitForResponse,
		}, nil
	}

	err = r.deliver(ctx, execCtx.ConversationID, rendered)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"sent":              true,
		"message":           rendered,
		"wait_for_response": waitForResponse,
	}, nil
}

// executeSchedule sends the lead a scheduling link.
func (r *Registry) executeSchedule(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
) (map[string]any, error) {
	link := stringParam(params, "schedulingLink", "scheduling_link")
	if link == "" {
		return nil, ErrSchedulingLinkRequired
	}

	rendered, err := template.RenderString(link, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render scheduling link: %w", err)
	}

	message := "Para facilitar, você pode agendar diretamente aqui: " + rendered

	if execCtx.IsTestMode {
		return map[string]any{
			"simulated": true,
			"link":      rendered,
			"message":   message,
		}, nil
	}

	err = r.deliver(ctx, execCtx.ConversationID, message)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"sent": true,
		"link": rendered,
	}, nil
}

// deliver sends through the messenger and persists the outbound message.
// Failed sends are persisted too, with send_failed status, so the
// conversation record stays complete.
func (r *Registry) deliver(ctx context.Context, conversationID, content string) error {
	sendErr := r.messenger.SendMessage(ctx, conversationID, content)

	status := models.MessageStatusSent
	if sendErr != nil {
		status = models.MessageStatusSendFailed
	}

	appendErr := r.persistence.Messages().Append(ctx, &models.Message{
		ConversationID: conversationID,
		Sender:         "agent",
		Content:        content,
		Status:         status,
	})
	if appendErr != nil {
		r.logger.WarnContext(ctx, "Failed to persist outbound message",
			"conversation_id", conversationID,
			"error", appendErr,
		)
	}

	if sendErr != nil {
		return fmt.Errorf("failed to send message: %w", sendErr)
	}

	return nil
}
