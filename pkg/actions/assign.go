package actions

import (
	"context"
	"errors"

	"github.com/outflowhq/outflow/pkg/models"
)

var ErrNoAssignee = errors.New("no user available for assignment")

// executeAssignAgent reassigns the conversation to a specific operator or,
// with useRoundRobin, to the next one in the agent's rotation. Automation
// stays on; this is routing, not a handoff.
func (r *Registry) executeAssignAgent(
	ctx context.Context,
	params map[string]any,
	execCtx *models.ExecutionContext,
) (map[string]any, error) {
	userID := stringParam(params, "userId", "user_id")
	useRoundRobin := boolParam(params, "useRoundRobin", false)

	if execCtx.IsTestMode {
		target := userID
		if target == "" {
			target = "round_robin"
		}

		return map[string]any{"simulated": true, "assigned_to": target}, nil
	}

	if useRoundRobin || userID == "" {
		assignee, err := r.handoff.AssignAndLog(ctx, execCtx.AgentID, execCtx.ConversationID)
		if err != nil {
			return nil, err
		}

		if assignee == nil {
			return nil, ErrNoAssignee
		}

		return map[string]any{"assigned": true, "user_id": assignee.UserID}, nil
	}

	conversation, err := r.persistence.Conversations().GetByID(ctx, execCtx.ConversationID)
	if err != nil {
		return nil, err
	}

	conversation.AssignedUserID = userID

	err = r.persistence.Conversations().Save(ctx, conversation)
	if err != nil {
		return nil, err
	}

	return map[string]any{"assigned": true, "user_id": userID}, nil
}
