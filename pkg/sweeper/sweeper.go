// Package sweeper expires stale connection requests. A cron-driven sweep
// finds invites past their TTL with no response, optionally withdraws them
// on the platform, tags the lead for follow-up and reassigns it via
// rotation.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/outflowhq/outflow/pkg/collab"
	"github.com/outflowhq/outflow/pkg/eventbus"
	"github.com/outflowhq/outflow/pkg/events"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
	"github.com/outflowhq/outflow/pkg/rotation"
)

// DefaultInviteTTL applies to accounts with no configured TTL; unanswered
// invites older than this are considered ignored.
const DefaultInviteTTL = 14 * 24 * time.Hour

// DefaultSchedule runs the sweep hourly.
const DefaultSchedule = "0 * * * *"

// ExpiredInviteTag marks leads whose connection request went unanswered.
const ExpiredInviteTag = "invite_expired"

// Result summarizes one sweep run.
type Result struct {
	Scanned   int
	Expired   int
	Withdrawn int
	Failed    int
}

type Sweeper struct {
	persistence persistence.Persistence
	messenger   collab.Messenger
	notifier    collab.Notifier
	rotation    *rotation.Service
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	cron        *cron.Cron
	now         func() time.Time

	// Withdraw controls whether expired invites are retracted on the
	// platform or left pending.
	Withdraw bool
}

type Config struct {
	Persistence persistence.Persistence
	Messenger   collab.Messenger
	Notifier    collab.Notifier
	Rotation    *rotation.Service
	Publisher   eventbus.EventPublisher
	Logger      *slog.Logger
	Withdraw    bool
}

func NewSweeper(cfg Config) *Sweeper {
	return &Sweeper{
		persistence: cfg.Persistence,
		messenger:   cfg.Messenger,
		notifier:    cfg.Notifier,
		rotation:    cfg.Rotation,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger.With("module", "sweeper"),
		now:         time.Now,
		Withdraw:    cfg.Withdraw,
	}
}

// WithClock overrides the sweep clock for tests.
func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	s.now = now

	return s
}

// Start schedules the recurring sweep. An empty schedule uses
// DefaultSchedule.
func (s *Sweeper) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	s.cron = cron.New()

	_, err := s.cron.AddFunc(schedule, func() {
		result, err := s.Sweep(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)

			return
		}

		s.logger.InfoContext(ctx, "Sweep completed",
			"scanned", result.Scanned,
			"expired", result.Expired,
			"withdrawn", result.Withdrawn,
			"failed", result.Failed,
		)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "Sweeper started", "schedule", schedule)

	return nil
}

// Stop halts the cron loop, waiting for a running sweep to finish.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}

	<-s.cron.Stop().Done()
}

// Sweep runs one pass over every account. Per-invite failures are counted
// and logged but do not abort the pass.
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	accounts, err := s.persistence.Accounts().All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}

	result := &Result{}

	for _, account := range accounts {
		ttl := account.InviteTTL
		if ttl <= 0 {
			ttl = DefaultInviteTTL
		}

		cutoff := s.now().UTC().Add(-ttl)

		pending, err := s.persistence.InviteLog().PendingOlderThan(ctx, account.ID, cutoff)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to list pending invites",
				"account_id", account.ID, "error", err)
			result.Failed++

			continue
		}

		result.Scanned += len(pending)

		for _, entry := range pending {
			err = s.expire(ctx, account, entry, result)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to expire invite",
					"account_id", account.ID, "lead_id", entry.LeadID, "error", err)
				result.Failed++
			}
		}
	}

	return result, nil
}

func (s *Sweeper) expire(
	ctx context.Context,
	account *models.MessagingAccount,
	entry *models.InviteLogEntry,
	result *Result,
) error {
	if s.Withdraw && s.messenger != nil {
		err := s.messenger.WithdrawInvite(ctx, account.ID, entry.LeadID)
		if err != nil {
			// The invite may already be gone on the platform side; expire
			// it locally regardless.
			s.logger.WarnContext(ctx, "Failed to withdraw invite",
				"account_id", account.ID, "lead_id", entry.LeadID, "error", err)
		} else {
			result.Withdrawn++
		}
	}

	// The sent row stays untouched; expiry is a new append.
	expired := &models.InviteLogEntry{
		AccountID:       entry.AccountID,
		LeadID:          entry.LeadID,
		CampaignID:      entry.CampaignID,
		Status:          models.InviteStatusExpired,
		MessageIncluded: entry.MessageIncluded,
		SentAt:          s.now().UTC(),
	}

	err := s.persistence.InviteLog().Append(ctx, expired)
	if err != nil {
		return fmt.Errorf("failed to append expired entry: %w", err)
	}

	result.Expired++

	if entry.LeadID != "" {
		s.routeLead(ctx, account, entry)
	}

	s.publish(ctx, account, entry)

	return nil
}

// routeLead tags and reassigns the lead so a human picks up where the
// invite died. Every step is best-effort.
func (s *Sweeper) routeLead(ctx context.Context, account *models.MessagingAccount, entry *models.InviteLogEntry) {
	err := s.persistence.Tags().Add(ctx, entry.LeadID, ExpiredInviteTag)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to tag lead", "lead_id", entry.LeadID, "error", err)
	}

	lead, err := s.persistence.Leads().GetByID(ctx, entry.LeadID)
	if err == nil {
		lead.Status = models.LeadStatusInviteExpired

		err = s.persistence.Leads().Save(ctx, lead)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to update lead status",
				"lead_id", entry.LeadID, "error", err)
		}
	}

	if s.rotation == nil || entry.CampaignID == "" {
		return
	}

	assignee, err := s.rotation.NextAssignee(ctx, entry.CampaignID)
	if err != nil || assignee == nil {
		return
	}

	if s.notifier != nil {
		name := entry.LeadID
		if lead != nil && lead.Name != "" {
			name = lead.Name
		}

		notification := &models.Notification{
			ID:        uuid.New().String(),
			AccountID: account.ID,
			UserID:    assignee.UserID,
			Type:      "invite_expired",
			Title:     "Convite não aceito",
			Body:      fmt.Sprintf("O convite enviado para %s expirou sem resposta.", name),
			CreatedAt: s.now().UTC(),
		}

		err = s.notifier.Notify(ctx, notification)
		if err != nil {
			s.logger.WarnContext(ctx, "Failed to notify assignee",
				"user_id", assignee.UserID, "error", err)
		}
	}
}

func (s *Sweeper) publish(ctx context.Context, account *models.MessagingAccount, entry *models.InviteLogEntry) {
	if s.publisher == nil {
		return
	}

	event := events.InviteExpired{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.InviteExpiredEvent,
			Timestamp: s.now().UTC(),
		},
		AccountID: account.ID,
		LeadID:    entry.LeadID,
		SentAt:    entry.SentAt,
	}

	err := s.publisher.Publish(ctx, account.ID, event)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to publish invite expired event",
			"account_id", account.ID, "error", err)
	}
}
