package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
)

type stateRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *stateRepository) Get(ctx context.Context, conversationID string) (*models.WorkflowState, error) {
	query := `
		SELECT conversation_id, agent_id, status, current_node_id, resume_node_id,
		       paused_reason, paused_until, pass, variables, step_history,
		       created_at, updated_at
		FROM workflow_states
		WHERE conversation_id = $1`

	var (
		state        models.WorkflowState
		currentNode  sql.NullString
		resumeNode   sql.NullString
		pausedReason sql.NullString
		pausedUntil  sql.NullTime
		variables    []byte
		stepHistory  []byte
	)

	err := r.db.QueryRowContext(ctx, query, conversationID).Scan(
		&state.ConversationID,
		&state.AgentID,
		&state.Status,
		&currentNode,
		&resumeNode,
		&pausedReason,
		&pausedUntil,
		&state.Pass,
		&variables,
		&stepHistory,
		&state.CreatedAt,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrWorkflowStateNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query workflow state: %w", err)
	}

	state.CurrentNodeID = currentNode.String
	state.ResumeNodeID = resumeNode.String
	state.PausedReason = pausedReason.String

	if pausedUntil.Valid {
		until := pausedUntil.Time

		state.PausedUntil = &until
	}

	if len(variables) > 0 {
		err = json.Unmarshal(variables, &state.Variables)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}

	err = json.Unmarshal(stepHistory, &state.StepHistory)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal step history: %w", err)
	}

	return &state, nil
}

func (r *stateRepository) Save(ctx context.Context, state *models.WorkflowState) error {
	variables, err := json.Marshal(state.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	stepHistory, err := json.Marshal(state.StepHistory)
	if err != nil {
		return fmt.Errorf("failed to marshal step history: %w", err)
	}

	if state.CreatedAt.IsZero() {
		state.CreatedAt = time.Now().UTC()
	}

	state.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO workflow_states (
			conversation_id, agent_id, status, current_node_id, resume_node_id,
			paused_reason, paused_until, pass, variables, step_history,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (conversation_id) DO UPDATE SET
			agent_id        = EXCLUDED.agent_id,
			status          = EXCLUDED.status,
			current_node_id = EXCLUDED.current_node_id,
			resume_node_id  = EXCLUDED.resume_node_id,
			paused_reason   = EXCLUDED.paused_reason,
			paused_until    = EXCLUDED.paused_until,
			pass            = EXCLUDED.pass,
			variables       = EXCLUDED.variables,
			step_history    = EXCLUDED.step_history,
			updated_at      = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		state.ConversationID,
		state.AgentID,
		state.Status,
		nullString(state.CurrentNodeID),
		nullString(state.ResumeNodeID),
		nullString(state.PausedReason),
		nullTime(state.PausedUntil),
		state.Pass,
		variables,
		stepHistory,
		state.CreatedAt,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}

	return nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}

	return sql.NullTime{Time: *value, Valid: true}
}
