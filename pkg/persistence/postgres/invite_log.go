package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/outflowhq/outflow/pkg/models"
)

type inviteLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func (r *inviteLogRepository) Append(ctx context.Context, entry *models.InviteLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.SentAt.IsZero() {
		entry.SentAt = time.Now().UTC()
	}

	query := `
		INSERT INTO invite_log (id, account_id, lead_id, campaign_id, status, message_included, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.AccountID,
		nullString(entry.LeadID),
		nullString(entry.CampaignID),
		entry.Status,
		entry.MessageIncluded,
		entry.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append invite log entry: %w", err)
	}

	return nil
}

func (r *inviteLogRepository) CountSince(ctx context.Context, accountID, status string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM invite_log
		WHERE account_id = $1 AND status = $2 AND sent_at > $3`

	var count int

	err := r.db.QueryRowContext(ctx, query, accountID, status, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count invite log entries: %w", err)
	}

	return count, nil
}

func (r *inviteLogRepository) CountWithMessageBetween(ctx context.Context, accountID string, from, to time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM invite_log
		WHERE account_id = $1 AND status = $2 AND message_included AND sent_at >= $3 AND sent_at < $4`

	var count int

	err := r.db.QueryRowContext(ctx, query, accountID, models.InviteStatusSent, from, to).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count personalized invites: %w", err)
	}

	return count, nil
}

func (r *inviteLogRepository) PendingOlderThan(ctx context.Context, accountID string, cutoff time.Time) ([]*models.InviteLogEntry, error) {
	// A sent invite is pending while no later entry for the same lead
	// resolves it.
	query := `
		SELECT sent.id, sent.account_id, sent.lead_id, sent.campaign_id,
		       sent.status, sent.message_included, sent.sent_at
		FROM invite_log sent
		WHERE sent.account_id = $1
		  AND sent.status = $2
		  AND sent.sent_at < $3
		  AND sent.lead_id IS NOT NULL
		  AND NOT EXISTS (
			SELECT 1 FROM invite_log resolved
			WHERE resolved.account_id = sent.account_id
			  AND resolved.lead_id = sent.lead_id
			  AND resolved.status IN ($4, $5, $6)
			  AND resolved.sent_at >= sent.sent_at
		  )
		ORDER BY sent.sent_at`

	rows, err := r.db.QueryContext(ctx, query,
		accountID,
		models.InviteStatusSent,
		cutoff,
		models.InviteStatusAccepted,
		models.InviteStatusExpired,
		models.InviteStatusWithdraw,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending invites: %w", err)
	}
	defer rows.Close()

	entries := make([]*models.InviteLogEntry, 0)

	for rows.Next() {
		var (
			entry      models.InviteLogEntry
			leadID     sql.NullString
			campaignID sql.NullString
		)

		err = rows.Scan(
			&entry.ID,
			&entry.AccountID,
			&leadID,
			&campaignID,
			&entry.Status,
			&entry.MessageIncluded,
			&entry.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invite log entry: %w", err)
		}

		entry.LeadID = leadID.String
		entry.CampaignID = campaignID.String

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("failed to iterate pending invites: %w", err)
	}

	return entries, nil
}
