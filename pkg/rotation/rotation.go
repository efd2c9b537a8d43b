// Package rotation distributes escalated conversations to human operators in
// round-robin order and executes the AI-to-human handoff.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
)

type Service struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewService(p persistence.Persistence, logger *slog.Logger) *Service {
	return &Service{
		persistence: p,
		logger:      logger.With("module", "rotation"),
	}
}

// NextAssignee advances the agent's rotation and returns the selected
// operator. Returns nil when the agent has no active assignees. Every active
// assignee receives assignments regardless of online status.
func (s *Service) NextAssignee(ctx context.Context, agentID string) (*models.Assignee, error) {
	assignees, err := s.persistence.Agents().Assignees(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load assignees: %w", err)
	}

	active := make([]*models.Assignee, 0, len(assignees))

	for _, assignee := range assignees {
		if assignee.Active {
			active = append(active, assignee)
		}
	}

	if len(active) == 0 {
		s.logger.InfoContext(ctx, "No active assignees for agent", "agent_id", agentID)

		return nil, nil
	}

	state, err := s.persistence.Rotation().GetState(ctx, agentID)

	position := 0

	switch {
	case errors.Is(err, persistence.ErrRotationStateNotFound):
		state = &models.RotationState{AgentID: agentID}
	case err != nil:
		return nil, fmt.Errorf("failed to load rotation state: %w", err)
	default:
		position = (state.CurrentPosition + 1) % len(active)
	}

	selected := active[position]

	state.CurrentPosition = position
	state.LastAssignedUserID = selected.UserID
	state.TotalAssignments++

	err = s.persistence.Rotation().SaveState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to save rotation state: %w", err)
	}

	s.logger.InfoContext(ctx, "Selected next assignee",
		"agent_id", agentID,
		"user_id", selected.UserID,
		"position", position+1,
		"roster_size", len(active),
	)

	return selected, nil
}

// AssignAndLog selects the next assignee, reassigns the conversation to them
// and appends the audit record. Returns nil when no assignee is available.
func (s *Service) AssignAndLog(ctx context.Context, agentID, conversationID string) (*models.Assignee, error) {
	assignee, err := s.NextAssignee(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if assignee == nil {
		return nil, nil
	}

	conversation, err := s.persistence.Conversations().GetByID(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	conversation.AssignedUserID = assignee.UserID

	err = s.persistence.Conversations().Save(ctx, conversation)
	if err != nil {
		return nil, fmt.Errorf("failed to assign conversation: %w", err)
	}

	err = s.persistence.Rotation().AppendAssignment(ctx, &models.AssignmentRecord{
		AgentID:        agentID,
		UserID:         assignee.UserID,
		ConversationID: conversationID,
	})
	if err != nil {
		// The assignment already took effect; the audit record is best
		// effort.
		s.logger.WarnContext(ctx, "Failed to append assignment record",
			"agent_id", agentID,
			"conversation_id", conversationID,
			"error", err,
		)
	}

	return assignee, nil
}
