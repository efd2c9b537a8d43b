// Package postgres provides the PostgreSQL persistence implementation.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	// Registers the postgres driver.
	_ "github.com/lib/pq"

	"github.com/outflowhq/outflow/pkg/persistence"
	"github.com/outflowhq/outflow/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db     *sql.DB
	logger *slog.Logger

	states        *stateRepository
	agents        *agentRepository
	conversations *conversationRepository
	leads         *leadRepository
	messages      *messageRepository
	inviteLog     *inviteLogRepository
	accounts      *accountRepository
	rotation      *rotationRepository
	tags          *tagRepository
	pipeline      *pipelineRepository
	notifications *notificationRepository
}

// NewPersistence connects, migrates and returns the PostgreSQL store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:            database,
		logger:        logger,
		states:        &stateRepository{db: database, logger: logger},
		agents:        &agentRepository{db: database, logger: logger},
		conversations: &conversationRepository{db: database},
		leads:         &leadRepository{db: database},
		messages:      &messageRepository{db: database, logger: logger},
		inviteLog:     &inviteLogRepository{db: database, logger: logger},
		accounts:      &accountRepository{db: database},
		rotation:      &rotationRepository{db: database},
		tags:          &tagRepository{db: database},
		pipeline:      &pipelineRepository{db: database},
		notifications: &notificationRepository{db: database},
	}, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

func (p *Persistence) WorkflowStates() persistence.WorkflowStateRepository { return p.states }
func (p *Persistence) Agents() persistence.AgentRepository                 { return p.agents }
func (p *Persistence) Conversations() persistence.ConversationRepository   { return p.conversations }
func (p *Persistence) Leads() persistence.LeadRepository                   { return p.leads }
func (p *Persistence) Messages() persistence.MessageRepository             { return p.messages }
func (p *Persistence) InviteLog() persistence.InviteLogRepository          { return p.inviteLog }
func (p *Persistence) Accounts() persistence.AccountRepository             { return p.accounts }
func (p *Persistence) Rotation() persistence.RotationRepository            { return p.rotation }
func (p *Persistence) Tags() persistence.TagRepository                     { return p.tags }
func (p *Persistence) Pipeline() persistence.PipelineRepository            { return p.pipeline }
func (p *Persistence) Notifications() persistence.NotificationRepository   { return p.notifications }

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS workflow_states (
				conversation_id TEXT PRIMARY KEY,
				agent_id        TEXT NOT NULL,
				status          TEXT NOT NULL,
				current_node_id TEXT,
				resume_node_id  TEXT,
				paused_reason   TEXT,
				paused_until    TIMESTAMP WITH TIME ZONE,
				pass            INTEGER NOT NULL DEFAULT 0,
				variables       JSONB,
				step_history    JSONB NOT NULL DEFAULT '[]',
				created_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS agent_definitions (
				id                TEXT PRIMARY KEY,
				account_id        TEXT NOT NULL,
				name              TEXT NOT NULL,
				enabled           BOOLEAN NOT NULL DEFAULT TRUE,
				nodes             JSONB NOT NULL DEFAULT '[]',
				edges             JSONB NOT NULL DEFAULT '[]',
				transfer_triggers JSONB,
				transfer_message  TEXT,
				silent            BOOLEAN NOT NULL DEFAULT FALSE,
				sector_id         TEXT
			);

			CREATE TABLE IF NOT EXISTS agent_assignees (
				agent_id       TEXT NOT NULL,
				user_id        TEXT NOT NULL,
				user_name      TEXT,
				email          TEXT,
				active         BOOLEAN NOT NULL DEFAULT TRUE,
				rotation_order INTEGER NOT NULL,
				PRIMARY KEY (agent_id, user_id)
			);

			CREATE TABLE IF NOT EXISTS rotation_states (
				agent_id              TEXT PRIMARY KEY,
				current_position      INTEGER NOT NULL DEFAULT 0,
				last_assigned_user_id TEXT,
				total_assignments     BIGINT NOT NULL DEFAULT 0,
				updated_at            TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS assignment_log (
				id              TEXT PRIMARY KEY,
				agent_id        TEXT NOT NULL,
				user_id         TEXT NOT NULL,
				conversation_id TEXT NOT NULL,
				assigned_at     TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS invite_log (
				id               TEXT PRIMARY KEY,
				account_id       TEXT NOT NULL,
				lead_id          TEXT,
				campaign_id      TEXT,
				status           TEXT NOT NULL,
				message_included BOOLEAN NOT NULL DEFAULT FALSE,
				sent_at          TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_invite_log_account_sent
				ON invite_log (account_id, status, sent_at);

			CREATE TABLE IF NOT EXISTS messaging_accounts (
				id                TEXT PRIMARY KEY,
				account_type      TEXT NOT NULL,
				daily_override    INTEGER NOT NULL DEFAULT 0,
				weekly_override   INTEGER NOT NULL DEFAULT 0,
				monthly_override  INTEGER NOT NULL DEFAULT 0,
				invite_ttl_hours  INTEGER NOT NULL DEFAULT 0
			);

			CREATE TABLE IF NOT EXISTS conversations (
				id                TEXT PRIMARY KEY,
				account_id        TEXT NOT NULL,
				lead_id           TEXT NOT NULL,
				agent_id          TEXT,
				status            TEXT NOT NULL,
				automation_active BOOLEAN NOT NULL DEFAULT TRUE,
				assigned_user_id  TEXT,
				handoff_reason    TEXT,
				handoff_at        TIMESTAMP WITH TIME ZONE,
				close_reason      TEXT,
				closed_at         TIMESTAMP WITH TIME ZONE,
				updated_at        TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE IF NOT EXISTS leads (
				id          TEXT PRIMARY KEY,
				name        TEXT,
				email       TEXT,
				phone       TEXT,
				company     TEXT,
				title       TEXT,
				status      TEXT,
				external_id TEXT,
				sector_id   TEXT
			);

			CREATE TABLE IF NOT EXISTS messages (
				id              TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				sender          TEXT NOT NULL,
				content         TEXT NOT NULL,
				status          TEXT NOT NULL,
				sent_at         TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
			CREATE INDEX IF NOT EXISTS idx_messages_conversation
				ON messages (conversation_id, sent_at);

			CREATE TABLE IF NOT EXISTS lead_tags (
				lead_id TEXT NOT NULL,
				tag     TEXT NOT NULL,
				PRIMARY KEY (lead_id, tag)
			);

			CREATE TABLE IF NOT EXISTS pipeline_records (
				id          TEXT NOT NULL,
				lead_id     TEXT NOT NULL,
				pipeline_id TEXT NOT NULL,
				stage_id    TEXT NOT NULL,
				created_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				updated_at  TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (lead_id, pipeline_id)
			);

			CREATE TABLE IF NOT EXISTS notifications (
				id              TEXT PRIMARY KEY,
				account_id      TEXT NOT NULL,
				user_id         TEXT NOT NULL,
				type            TEXT NOT NULL,
				title           TEXT NOT NULL,
				body            TEXT NOT NULL,
				conversation_id TEXT,
				metadata        JSONB,
				created_at      TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);
		`,
	}
}
