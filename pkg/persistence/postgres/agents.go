package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
)

type agentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *agentRepository) GetByID(ctx context.Context, id string) (*models.AgentDefinition, error) {
	query := `
		SELECT id, account_id, name, enabled, nodes, edges,
		       transfer_triggers, transfer_message, silent, sector_id
		FROM agent_definitions
		WHERE id = $1`

	var (
		agent            models.AgentDefinition
		nodes            []byte
		edges            []byte
		transferTriggers []byte
		transferMessage  sql.NullString
		sectorID         sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&agent.ID,
		&agent.AccountID,
		&agent.Name,
		&agent.Enabled,
		&nodes,
		&edges,
		&transferTriggers,
		&transferMessage,
		&agent.Silent,
		&sectorID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrAgentNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query agent definition: %w", err)
	}

	err = json.Unmarshal(nodes, &agent.Nodes)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal nodes: %w", err)
	}

	err = json.Unmarshal(edges, &agent.Edges)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal edges: %w", err)
	}

	if len(transferTriggers) > 0 {
		err = json.Unmarshal(transferTriggers, &agent.TransferTriggers)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal transfer triggers: %w", err)
		}
	}

	agent.TransferMessage = transferMessage.String
	agent.SectorID = sectorID.String

	return &agent, nil
}

func (r *agentRepository) Save(ctx context.Context, agent *models.AgentDefinition) error {
	nodes, err := json.Marshal(agent.Nodes)
	if err != nil {
		return fmt.Errorf("failed to marshal nodes: %w", err)
	}

	edges, err := json.Marshal(agent.Edges)
	if err != nil {
		return fmt.Errorf("failed to marshal edges: %w", err)
	}

	transferTriggers, err := json.Marshal(agent.TransferTriggers)
	if err != nil {
		return fmt.Errorf("failed to marshal transfer triggers: %w", err)
	}

	query := `
		INSERT INTO agent_definitions (
			id, account_id, name, enabled, nodes, edges,
			transfer_triggers, transfer_message, silent, sector_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			account_id        = EXCLUDED.account_id,
			name              = EXCLUDED.name,
			enabled           = EXCLUDED.enabled,
			nodes             = EXCLUDED.nodes,
			edges             = EXCLUDED.edges,
			transfer_triggers = EXCLUDED.transfer_triggers,
			transfer_message  = EXCLUDED.transfer_message,
			silent            = EXCLUDED.silent,
			sector_id         = EXCLUDED.sector_id`

	_, err = r.db.ExecContext(ctx, query,
		agent.ID,
		agent.AccountID,
		agent.Name,
		agent.Enabled,
		nodes,
		edges,
		transferTriggers,
		nullString(agent.TransferMessage),
		agent.Silent,
		nullString(agent.SectorID),
	)
	if err != nil {
		return fmt.Errorf("failed to save agent definition: %w", err)
	}

	return nil
}

func (r *agentRepository) Assignees(ctx context.Context, agentID string) ([]*models.Assignee, error) {
	query := `
		SELECT user_id, user_name, email, active, rotation_order
		FROM agent_assignees
		WHERE agent_id = $1
		ORDER BY rotation_order`

	rows, err := r.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignees: %w", err)
	}
	defer rows.Close()

	assignees := make([]*models.Assignee, 0)

	for rows.Next() {
		var (
			assignee models.Assignee
			userName sql.NullString
			email    sql.NullString
		)

		err = rows.Scan(&assignee.UserID, &userName, &email, &assignee.Active, &assignee.Order)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignee: %w", err)
		}

		assignee.UserName = userName.String
		assignee.Email = email.String

		assignees = append(assignees, &assignee)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate assignees: %w", err)
	}

	return assignees, nil
}

// SaveAssignees replaces the roster and resets the rotation position, so a
// changed roster never leaves the cursor past the end.
func (r *agentRepository) SaveAssignees(ctx context.Context, agentID string, assignees []*models.Assignee) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `DELETE FROM agent_assignees WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("failed to clear assignees: %w", err)
	}

	for _, assignee := range assignees {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO agent_assignees (agent_id, user_id, user_name, email, active, rotation_order)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			agentID,
			assignee.UserID,
			nullString(assignee.UserName),
			nullString(assignee.Email),
			assignee.Active,
			assignee.Order,
		)
		if err != nil {
			return fmt.Errorf("failed to insert assignee: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE rotation_states
		SET current_position = 0, updated_at = NOW()
		WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("failed to reset rotation position: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit assignees: %w", err)
	}

	return nil
}
