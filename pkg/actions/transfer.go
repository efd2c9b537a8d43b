package actions

import (
	"context"
	"errors"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
)

var ErrTransferTargetUnavailable = errors.New("no user available for transfer")

// executeTransfer hands the conversation to a human. Selection goes through
// the rotation service unless the node pins a specific user.
func (r *Registry) executeTransfer(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
) (map[string]any, error) {
	transferUserID := stringParam(params, "transferUserId", "transfer_user_id")
	message := stringParam(params, "transferMessage", "message")

	if execCtx.IsTestMode {
		target := "round_robin"
		if transferUserID != "" {
			target = transferUserID
		}

		return map[string]any{
			"simulated": true,
			"target":    target,
			"message":   message,
		}, nil
	}

	agent, err := r.persistence.Agents().GetByID(ctx, execCtx.AgentID)
	if err != nil {
		if errors.Is(err, persistence.ErrAgentNotFound) {
			// A transfer can still proceed without the original agent
			// definition; only the farewell configuration is lost.
			agent = &models.AgentDefinition{ID: execCtx.AgentID}
		} else {
			return nil, err
		}
	}

	// The node's own farewell overrides the agent-level one.
	nodeAgent := *agent
	if message != "" {
		nodeAgent.TransferMessage = message
		nodeAgent.Silent = false
	}

	result, err := r.handoff.ExecuteHandoff(ctx, execCtx.ConversationID, &nodeAgent, "workflow_transfer", nil)
	if err != nil {
		return nil, err
	}

	if transferUserID != "" && result.AssignedUserID != transferUserID {
		// Pin the requested operator over the rotation pick.
		conversation, convErr := r.persistence.Conversations().GetByID(ctx, execCtx.ConversationID)
		if convErr != nil {
			return nil, convErr
		}

		conversation.AssignedUserID = transferUserID

		convErr = r.persistence.Conversations().Save(ctx, conversation)
		if convErr != nil {
			return nil, convErr
		}

		result.AssignedUserID = transferUserID
	}

	if result.AssignedUserID == "" {
		return nil, ErrTransferTargetUnavailable
	}

	return map[string]any{
		"transferred":      true,
		"assigned_user_id": result.AssignedUserID,
		"message_sent":     result.MessageSent,
	}, nil
}
