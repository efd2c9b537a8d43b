package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
)

type rotationRepository struct {
	db *sql.DB
}

func (r *rotationRepository) GetState(ctx context.Context, agentID string) (*models.RotationState, error) {
	query := `
		SELECT agent_id, current_position, last_assigned_user_id, total_assignments, updated_at
		FROM rotation_states
		WHERE agent_id = $1`

	var (
		state        models.RotationState
		lastAssigned sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, agentID).Scan(
		&state.AgentID,
		&state.CurrentPosition,
		&lastAssigned,
		&state.TotalAssignments,
		&state.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrRotationStateNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query rotation state: %w", err)
	}

	state.LastAssignedUserID = lastAssigned.String

	return &state, nil
}

func (r *rotationRepository) SaveState(ctx context.Context, state *models.RotationState) error {
	state.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO rotation_states (agent_id, current_position, last_assigned_user_id, total_assignments, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id) DO UPDATE SET
			current_position      = EXCLUDED.current_position,
			last_assigned_user_id = EXCLUDED.last_assigned_user_id,
			total_assignments     = EXCLUDED.total_assignments,
			updated_at            = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		state.AgentID,
		state.CurrentPosition,
		nullString(state.LastAssignedUserID),
		state.TotalAssignments,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rotation state: %w", err)
	}

	return nil
}

func (r *rotationRepository) AppendAssignment(ctx context.Context, record *models.AssignmentRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	if record.AssignedAt.IsZero() {
		record.AssignedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO assignment_log (id, agent_id, user_id, conversation_id, assigned_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.AgentID,
		record.UserID,
		record.ConversationID,
		record.AssignedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append assignment record: %w", err)
	}

	return nil
}

type accountRepository struct {
	db *sql.DB
}

func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.MessagingAccount, error) {
	query := `
		SELECT id, account_type, daily_override, weekly_override, monthly_override, invite_ttl_hours
		FROM messaging_accounts
		WHERE id = $1`

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrAccountNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query messaging account: %w", err)
	}

	return account, nil
}

func (r *accountRepository) Save(ctx context.Context, account *models.MessagingAccount) error {
	query := `
		INSERT INTO messaging_accounts (id, account_type, daily_override, weekly_override, monthly_override, invite_ttl_hours)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			account_type     = EXCLUDED.account_type,
			daily_override   = EXCLUDED.daily_override,
			weekly_override  = EXCLUDED.weekly_override,
			monthly_override = EXCLUDED.monthly_override,
			invite_ttl_hours = EXCLUDED.invite_ttl_hours`

	_, err := r.db.ExecContext(ctx, query,
		account.ID,
		account.AccountType,
		account.Overrides.Daily,
		account.Overrides.Weekly,
		account.Overrides.MonthlyMessages,
		int(account.InviteTTL/time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to save messaging account: %w", err)
	}

	return nil
}

func (r *accountRepository) All(ctx context.Context) ([]*models.MessagingAccount, error) {
	query := `
		SELECT id, account_type, daily_override, weekly_override, monthly_override, invite_ttl_hours
		FROM messaging_accounts
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query messaging accounts: %w", err)
	}
	defer rows.Close()

	accounts := make([]*models.MessagingAccount, 0)

	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan messaging account: %w", err)
		}

		accounts = append(accounts, account)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate messaging accounts: %w", err)
	}

	return accounts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*models.MessagingAccount, error) {
	var (
		account  models.MessagingAccount
		ttlHours int
	)

	err := row.Scan(
		&account.ID,
		&account.AccountType,
		&account.Overrides.Daily,
		&account.Overrides.Weekly,
		&account.Overrides.MonthlyMessages,
		&ttlHours,
	)
	if err != nil {
		return nil, err
	}

	account.InviteTTL = time.Duration(ttlHours) * time.Hour

	return &account, nil
}
