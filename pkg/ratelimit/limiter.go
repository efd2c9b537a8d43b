// Package ratelimit enforces per-account invite ceilings over rolling daily
// and weekly windows, plus a calendar-month cap on invites carrying a
// personalized note.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
)

// ErrLimitReached is returned by Reserve when no invite can be sent.
var ErrLimitReached = errors.New("invite limit reached")

// Limit reasons, ordered by severity: the weekly ceiling dominates the
// daily one, which dominates the personalized-note cap.
const (
	ReasonWeeklyLimit  = "weekly_limit_reached"
	ReasonDailyLimit   = "daily_limit_reached"
	ReasonMonthlyNotes = "monthly_message_limit_reached"
)

// Window reports one rate window's usage.
type Window struct {
	Used      int       `json:"used"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetsAt  time.Time `json:"resets_at"`
}

// Decision is the outcome of a limit check. CanSend covers a bare invite;
// CanSendWithMessage additionally honors the personalized-note cap.
type Decision struct {
	CanSend            bool   `json:"can_send"`
	CanSendWithMessage bool   `json:"can_send_with_message"`
	Daily              Window `json:"daily"`
	Weekly             Window `json:"weekly"`
	MonthlyMessages    Window `json:"monthly_messages"`

	// LimitReason names the binding constraint when a send is denied.
	LimitReason string `json:"limit_reason,omitempty"`
}

// Limiter checks and records invite sends for messaging accounts.
//
// The check and the log are separate persistence calls, so two workers
// racing on the same account can each pass the check and overshoot the
// ceiling by one. The windows are advisory protection against platform
// penalties, not a strict quota, and the next check corrects the drift.
type Limiter struct {
	persistence persistence.Persistence
	logger      *slog.Logger
	now         func() time.Time
}

func NewLimiter(p persistence.Persistence, logger *slog.Logger) *Limiter {
	return &Limiter{
		persistence: p,
		logger:      logger.With("module", "ratelimit"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the limiter's clock, for tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now

	return l
}

// CanSend evaluates every window for the account. withMessage selects
// whether the personalized-note cap participates in the decision.
func (l *Limiter) CanSend(ctx context.Context, accountID string, withMessage bool) (*Decision, error) {
	account, err := l.persistence.Accounts().GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messaging account: %w", err)
	}

	limits := account.Limits()
	now := l.now()

	inviteLog := l.persistence.InviteLog()

	dailyUsed, err := inviteLog.CountSince(ctx, accountID, models.InviteStatusSent, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count daily invites: %w", err)
	}

	weeklyUsed, err := inviteLog.CountSince(ctx, accountID, models.InviteStatusSent, now.Add(-7*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("failed to count weekly invites: %w", err)
	}

	monthStart, monthEnd := calendarMonth(now)

	notesUsed, err := inviteLog.CountWithMessageBetween(ctx, accountID, monthStart, monthEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to count personalized invites: %w", err)
	}

	decision := &Decision{
		Daily:           window(dailyUsed, limits.Daily, now.Add(24*time.Hour)),
		Weekly:          window(weeklyUsed, limits.Weekly, now.Add(7*24*time.Hour)),
		MonthlyMessages: window(notesUsed, limits.MonthlyMessages, monthEnd),
	}

	decision.CanSend = dailyUsed < limits.Daily && weeklyUsed < limits.Weekly

	notesOK := limits.MonthlyMessages == models.MonthlyMessagesUnlimited || notesUsed < limits.MonthlyMessages
	decision.CanSendWithMessage = decision.CanSend && notesOK

	switch {
	case weeklyUsed >= limits.Weekly:
		decision.LimitReason = ReasonWeeklyLimit
	case dailyUsed >= limits.Daily:
		decision.LimitReason = ReasonDailyLimit
	case withMessage && !notesOK:
		decision.LimitReason = ReasonMonthlyNotes
	}

	return decision, nil
}

// LogInviteSent records a successful send so subsequent checks see it.
func (l *Limiter) LogInviteSent(ctx context.Context, entry *models.InviteLogEntry) error {
	if entry.Status == "" {
		entry.Status = models.InviteStatusSent
	}

	if entry.SentAt.IsZero() {
		entry.SentAt = l.now()
	}

	err := l.persistence.InviteLog().Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to log invite: %w", err)
	}

	l.logger.InfoContext(ctx, "Invite logged",
		"account_id", entry.AccountID,
		"lead_id", entry.LeadID,
		"message_included", entry.MessageIncluded,
	)

	return nil
}

// Stats returns the current window usage without making a decision.
func (l *Limiter) Stats(ctx context.Context, accountID string) (*Decision, error) {
	return l.CanSend(ctx, accountID, true)
}

func window(used, limit int, resetsAt time.Time) Window {
	w := Window{Used: used, Limit: limit, ResetsAt: resetsAt}

	if limit == models.MonthlyMessagesUnlimited {
		w.Remaining = models.MonthlyMessagesUnlimited

		return w
	}

	w.Remaining = limit - used
	if w.Remaining < 0 {
		w.Remaining = 0
	}

	return w
}

// calendarMonth returns the UTC month [start, end) containing now.
func calendarMonth(now time.Time) (time.Time, time.Time) {
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	return start, start.AddDate(0, 1, 0)
}
