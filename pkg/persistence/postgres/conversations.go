package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
)

type conversationRepository struct {
	db *sql.DB
}

func (r *conversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	query := `
		SELECT id, account_id, lead_id, agent_id, status, automation_active,
		       assigned_user_id, handoff_reason, handoff_at, close_reason, closed_at, updated_at
		FROM conversations
		WHERE id = $1`

	var (
		conversation  models.Conversation
		agentID       sql.NullString
		assignedUser  sql.NullString
		handoffReason sql.NullString
		handoffAt     sql.NullTime
		closeReason   sql.NullString
		closedAt      sql.NullTime
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&conversation.ID,
		&conversation.AccountID,
		&conversation.LeadID,
		&agentID,
		&conversation.Status,
		&conversation.AutomationActive,
		&assignedUser,
		&handoffReason,
		&handoffAt,
		&closeReason,
		&closedAt,
		&conversation.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrConversationNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query conversation: %w", err)
	}

	conversation.AgentID = agentID.String
	conversation.AssignedUserID = assignedUser.String
	conversation.HandoffReason = handoffReason.String
	conversation.CloseReason = closeReason.String

	if handoffAt.Valid {
		at := handoffAt.Time

		conversation.HandoffAt = &at
	}

	if closedAt.Valid {
		at := closedAt.Time

		conversation.ClosedAt = &at
	}

	return &conversation, nil
}

func (r *conversationRepository) Save(ctx context.Context, conversation *models.Conversation) error {
	conversation.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO conversations (
			id, account_id, lead_id, agent_id, status, automation_active,
			assigned_user_id, handoff_reason, handoff_at, close_reason, closed_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			account_id        = EXCLUDED.account_id,
			lead_id           = EXCLUDED.lead_id,
			agent_id          = EXCLUDED.agent_id,
			status            = EXCLUDED.status,
			automation_active = EXCLUDED.automation_active,
			assigned_user_id  = EXCLUDED.assigned_user_id,
			handoff_reason    = EXCLUDED.handoff_reason,
			handoff_at        = EXCLUDED.handoff_at,
			close_reason      = EXCLUDED.close_reason,
			closed_at         = EXCLUDED.closed_at,
			updated_at        = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		conversation.ID,
		conversation.AccountID,
		conversation.LeadID,
		nullString(conversation.AgentID),
		conversation.Status,
		conversation.AutomationActive,
		nullString(conversation.AssignedUserID),
		nullString(conversation.HandoffReason),
		nullTime(conversation.HandoffAt),
		nullString(conversation.CloseReason),
		nullTime(conversation.ClosedAt),
		conversation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}

	return nil
}

type leadRepository struct {
	db *sql.DB
}

func (r *leadRepository) GetByID(ctx context.Context, id string) (*models.Lead, error) {
	query := `
		SELECT id, name, email, phone, company, title, status, external_id, sector_id
		FROM leads
		WHERE id = $1`

	var (
		lead       models.Lead
		name       sql.NullString
		email      sql.NullString
		phone      sql.NullString
		company    sql.NullString
		title      sql.NullString
		status     sql.NullString
		externalID sql.NullString
		sectorID   sql.NullString
	)

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&lead.ID, &name, &email, &phone, &company, &title, &status, &externalID, &sectorID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrLeadNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query lead: %w", err)
	}

	lead.Name = name.String
	lead.Email = email.String
	lead.Phone = phone.String
	lead.Company = company.String
	lead.Title = title.String
	lead.Status = status.String
	lead.ExternalID = externalID.String
	lead.SectorID = sectorID.String

	return &lead, nil
}

func (r *leadRepository) Save(ctx context.Context, lead *models.Lead) error {
	query := `
		INSERT INTO leads (id, name, email, phone, company, title, status, external_id, sector_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name        = EXCLUDED.name,
			email       = EXCLUDED.email,
			phone       = EXCLUDED.phone,
			company     = EXCLUDED.company,
			title       = EXCLUDED.title,
			status      = EXCLUDED.status,
			external_id = EXCLUDED.external_id,
			sector_id   = EXCLUDED.sector_id`

	_, err := r.db.ExecContext(ctx, query,
		lead.ID,
		nullString(lead.Name),
		nullString(lead.Email),
		nullString(lead.Phone),
		nullString(lead.Company),
		nullString(lead.Title),
		nullString(lead.Status),
		nullString(lead.ExternalID),
		nullString(lead.SectorID),
	)
	if err != nil {
		return fmt.Errorf("failed to save lead: %w", err)
	}

	return nil
}

type messageRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *messageRepository) Append(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		message.ID = uuid.New().String()
	}

	if message.SentAt.IsZero() {
		message.SentAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (id, conversation_id, sender, content, status, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		message.ID,
		message.ConversationID,
		message.Sender,
		message.Content,
		message.Status,
		message.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return nil
}

func (r *messageRepository) ByConversation(ctx context.Context, conversationID string) ([]*models.Message, error) {
	query := `
		SELECT id, conversation_id, sender, content, status, sent_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY sent_at`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0)

	for rows.Next() {
		var message models.Message

		err = rows.Scan(
			&message.ID,
			&message.ConversationID,
			&message.Sender,
			&message.Content,
			&message.Status,
			&message.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}

		messages = append(messages, &message)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	return messages, nil
}

type tagRepository struct {
	db *sql.DB
}

func (r *tagRepository) Add(ctx context.Context, leadID, tag string) error {
	query := `
		INSERT INTO lead_tags (lead_id, tag) VALUES ($1, $2)
		ON CONFLICT (lead_id, tag) DO NOTHING`

	_, err := r.db.ExecContext(ctx, query, leadID, tag)
	if err != nil {
		return fmt.Errorf("failed to add tag: %w", err)
	}

	return nil
}

func (r *tagRepository) Remove(ctx context.Context, leadID, tag string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM lead_tags WHERE lead_id = $1 AND tag = $2`, leadID, tag)
	if err != nil {
		return fmt.Errorf("failed to remove tag: %w", err)
	}

	return nil
}

func (r *tagRepository) RemoveAll(ctx context.Context, leadID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM lead_tags WHERE lead_id = $1`, leadID)
	if err != nil {
		return fmt.Errorf("failed to remove tags: %w", err)
	}

	return nil
}

func (r *tagRepository) List(ctx context.Context, leadID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT tag FROM lead_tags WHERE lead_id = $1 ORDER BY tag`, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer rows.Close()

	tags := make([]string, 0)

	for rows.Next() {
		var tag string

		err = rows.Scan(&tag)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}

		tags = append(tags, tag)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate tags: %w", err)
	}

	return tags, nil
}

type pipelineRepository struct {
	db *sql.DB
}

func (r *pipelineRepository) GetByLeadAndPipeline(ctx context.Context, leadID, pipelineID string) (*models.PipelineRecord, error) {
	query := `
		SELECT id, lead_id, pipeline_id, stage_id, created_at, updated_at
		FROM pipeline_records
		WHERE lead_id = $1 AND pipeline_id = $2`

	var record models.PipelineRecord

	err := r.db.QueryRowContext(ctx, query, leadID, pipelineID).Scan(
		&record.ID,
		&record.LeadID,
		&record.PipelineID,
		&record.StageID,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrPipelineRecordNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to query pipeline record: %w", err)
	}

	return &record, nil
}

func (r *pipelineRepository) Save(ctx context.Context, record *models.PipelineRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	record.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO pipeline_records (id, lead_id, pipeline_id, stage_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (lead_id, pipeline_id) DO UPDATE SET
			stage_id   = EXCLUDED.stage_id,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.LeadID,
		record.PipelineID,
		record.StageID,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save pipeline record: %w", err)
	}

	return nil
}

type notificationRepository struct {
	db *sql.DB
}

func (r *notificationRepository) Append(ctx context.Context, notification *models.Notification) error {
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}

	if notification.CreatedAt.IsZero() {
		notification.CreatedAt = time.Now().UTC()
	}

	metadata, err := json.Marshal(notification.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal notification metadata: %w", err)
	}

	query := `
		INSERT INTO notifications (id, account_id, user_id, type, title, body, conversation_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.ExecContext(ctx, query,
		notification.ID,
		notification.AccountID,
		notification.UserID,
		notification.Type,
		notification.Title,
		notification.Body,
		nullString(notification.ConversationID),
		metadata,
		notification.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append notification: %w", err)
	}

	return nil
}
