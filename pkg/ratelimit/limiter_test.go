package ratelimit_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence/memory"
	"github.com/outflowhq/outflow/pkg/ratelimit"
)

func newLimiter(t *testing.T, accountType models.AccountType) (*ratelimit.Limiter, *memory.Persistence) {
	t.Helper()

	ctx := context.Background()
	store := memory.NewPersistence()

	err := store.Accounts().Save(ctx, &models.MessagingAccount{
		ID:          "acct-1",
		AccountType: accountType,
	})
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(store, slog.Default())

	return limiter, store
}

func seedInvites(t *testing.T, store *memory.Persistence, count int, sentAt time.Time, withMessage bool) {
	t.Helper()

	ctx := context.Background()

	for range count {
		err := store.InviteLog().Append(ctx, &models.InviteLogEntry{
			AccountID:       "acct-1",
			Status:          models.InviteStatusSent,
			MessageIncluded: withMessage,
			SentAt:          sentAt,
		})
		require.NoError(t, err)
	}
}

func TestCanSendUnderAllLimits(t *testing.T) {
	limiter, _ := newLimiter(t, models.AccountTypeFree)

	decision, err := limiter.CanSend(context.Background(), "acct-1", true)
	require.NoError(t, err)

	assert.True(t, decision.CanSend)
	assert.True(t, decision.CanSendWithMessage)
	assert.Empty(t, decision.LimitReason)
	assert.Equal(t, 25, decision.Daily.Limit)
	assert.Equal(t, 100, decision.Weekly.Limit)
	assert.Equal(t, 10, decision.MonthlyMessages.Limit)
}

func TestDailyLimitBlocksSend(t *testing.T) {
	limiter, store := newLimiter(t, models.AccountTypeFree)
	seedInvites(t, store, 25, time.Now().UTC().Add(-time.Hour), false)

	decision, err := limiter.CanSend(context.Background(), "acct-1", false)
	require.NoError(t, err)

	assert.False(t, decision.CanSend)
	assert.Equal(t, ratelimit.ReasonDailyLimit, decision.LimitReason)
	assert.Equal(t, 0, decision.Daily.Remaining)
}

func TestDailyWindowRollsOff(t *testing.T) {
	limiter, store := newLimiter(t, models.AccountTypeFree)

	// 25 invites sent 25 hours ago are outside the daily window but still
	// inside the weekly one.
	seedInvites(t, store, 25, time.Now().UTC().Add(-25*time.Hour), false)

	decision, err := limiter.CanSend(context.Background(), "acct-1", false)
	require.NoError(t, err)

	assert.True(t, decision.CanSend)
	assert.Equal(t, 0, decision.Daily.Used)
	assert.Equal(t, 25, decision.Weekly.Used)
}

func TestWeeklyLimitDominatesDaily(t *testing.T) {
	limiter, store := newLimiter(t, models.AccountTypeFree)

	// Exhaust both windows; the weekly reason must win.
	seedInvites(t, store, 100, time.Now().UTC().Add(-time.Hour), false)

	decision, err := limiter.CanSend(context.Background(), "acct-1", false)
	require.NoError(t, err)

	assert.False(t, decision.CanSend)
	assert.Equal(t, ratelimit.ReasonWeeklyLimit, decision.LimitReason)
}

func TestMonthlyNoteCapBlocksOnlyPersonalizedSends(t *testing.T) {
	limiter, store := newLimiter(t, models.AccountTypeFree)
	seedInvites(t, store, 10, time.Now().UTC().Add(-time.Hour), true)

	decision, err := limiter.CanSend(context.Background(), "acct-1", true)
	require.NoError(t, err)

	assert.True(t, decision.CanSend)
	assert.False(t, decision.CanSendWithMessage)
	assert.Equal(t, ratelimit.ReasonMonthlyNotes, decision.LimitReason)

	// A bare invite is unaffected.
	decision, err = limiter.CanSend(context.Background(), "acct-1", false)
	require.NoError(t, err)

	assert.True(t, decision.CanSend)
	assert.Empty(t, decision.LimitReason)
}

func TestPremiumAccountsHaveNoNoteCap(t *testing.T) {
	limiter, store := newLimiter(t, models.AccountTypePremium)
	seedInvites(t, store, 30, time.Now().UTC().Add(-time.Hour), true)

	decision, err := limiter.CanSend(context.Background(), "acct-1", true)
	require.NoError(t, err)

	assert.True(t, decision.CanSend)
	assert.True(t, decision.CanSendWithMessage)
	assert.Equal(t, models.MonthlyMessagesUnlimited, decision.MonthlyMessages.Remaining)
}

func TestAccountOverridesApply(t *testing.T) {
	ctx := context.Background()
	store := memory.NewPersistence()

	err := store.Accounts().Save(ctx, &models.MessagingAccount{
		ID:          "acct-1",
		AccountType: models.AccountTypeFree,
		Overrides:   models.InviteLimits{Daily: 5},
	})
	require.NoError(t, err)

	limiter := ratelimit.NewLimiter(store, slog.Default())
	seedInvites(t, store, 5, time.Now().UTC().Add(-time.Hour), false)

	decision, err := limiter.CanSend(ctx, "acct-1", false)
	require.NoError(t, err)

	assert.False(t, decision.CanSend)
	assert.Equal(t, ratelimit.ReasonDailyLimit, decision.LimitReason)
}

func TestMonthlyWindowIsCalendarMonth(t *testing.T) {
	limiter, store := newLimiter(t, models.AccountTypeFree)

	now := time.Date(2026, time.March, 3, 12, 0, 0, 0, time.UTC)
	limiter.WithClock(func() time.Time { return now })

	// Notes sent in February do not count against March.
	seedInvites(t, store, 10, time.Date(2026, time.February, 27, 12, 0, 0, 0, time.UTC), true)

	decision, err := limiter.CanSend(context.Background(), "acct-1", true)
	require.NoError(t, err)

	assert.Equal(t, 0, decision.MonthlyMessages.Used)
	assert.True(t, decision.CanSendWithMessage)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), decision.MonthlyMessages.ResetsAt)
}

func TestLogInviteSentCountsAgainstNextCheck(t *testing.T) {
	limiter, _ := newLimiter(t, models.AccountTypeFree)
	ctx := context.Background()

	err := limiter.LogInviteSent(ctx, &models.InviteLogEntry{
		AccountID:       "acct-1",
		LeadID:          "lead-1",
		MessageIncluded: true,
	})
	require.NoError(t, err)

	decision, err := limiter.CanSend(ctx, "acct-1", true)
	require.NoError(t, err)

	assert.Equal(t, 1, decision.Daily.Used)
	assert.Equal(t, 1, decision.Weekly.Used)
	assert.Equal(t, 1, decision.MonthlyMessages.Used)
}
