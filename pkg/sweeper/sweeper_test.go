package sweeper_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/outflowhq/outflow/pkg/collab/fake"
	"github.com/outflowhq/outflow/pkg/mocks"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence/memory"
	"github.com/outflowhq/outflow/pkg/rotation"
	"github.com/outflowhq/outflow/pkg/sweeper"
)

func seedAccount(t *testing.T, store *memory.Persistence) {
	t.Helper()

	require.NoError(t, store.Accounts().Save(context.Background(), &models.MessagingAccount{
		ID:          "acct-1",
		AccountType: models.AccountTypeFree,
	}))
}

func seedInvite(t *testing.T, store *memory.Persistence, leadID string, age time.Duration, status string) {
	t.Helper()

	require.NoError(t, store.InviteLog().Append(context.Background(), &models.InviteLogEntry{
		AccountID: "acct-1",
		LeadID:    leadID,
		Status:    status,
		SentAt:    time.Now().UTC().Add(-age),
	}))
}

func newSweeper(store *memory.Persistence, messenger *fake.Messenger, notifier *fake.Notifier) *sweeper.Sweeper {
	return sweeper.NewSweeper(sweeper.Config{
		Persistence: store,
		Messenger:   messenger,
		Notifier:    notifier,
		Rotation:    rotation.NewService(store, slog.Default()),
		Logger:      slog.Default(),
		Withdraw:    true,
	})
}

func TestSweepExpiresStaleInvites(t *testing.T) {
	store := memory.NewPersistence()
	messenger := fake.NewMessenger()
	notifier := &fake.Notifier{}
	ctx := context.Background()

	seedAccount(t, store)
	require.NoError(t, store.Leads().Save(ctx, &models.Lead{ID: "lead-1", Name: "Maria"}))
	seedInvite(t, store, "lead-1", 15*24*time.Hour, models.InviteStatusSent)

	s := newSweeper(store, messenger, notifier)

	result, err := s.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Expired)
	assert.Equal(t, 1, result.Withdrawn)
	assert.Zero(t, result.Failed)

	require.Len(t, messenger.Withdrawn, 1)
	assert.Equal(t, "lead-1", messenger.Withdrawn[0].LeadID)

	tags, err := store.Tags().List(ctx, "lead-1")
	require.NoError(t, err)
	assert.Contains(t, tags, sweeper.ExpiredInviteTag)

	lead, err := store.Leads().GetByID(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusInviteExpired, lead.Status)
}

func TestSweepIsIdempotentAcrossRuns(t *testing.T) {
	store := memory.NewPersistence()
	ctx := context.Background()

	seedAccount(t, store)
	seedInvite(t, store, "lead-1", 20*24*time.Hour, models.InviteStatusSent)

	s := newSweeper(store, fake.NewMessenger(), &fake.Notifier{})

	first, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Expired)

	// The appended expired entry resolves the lead; a second run finds
	// nothing.
	second, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Scanned)
	assert.Zero(t, second.Expired)
}

func TestSweepSkipsFreshAndResolvedInvites(t *testing.T) {
	store := memory.NewPersistence()
	ctx := context.Background()

	seedAccount(t, store)

	// Fresh invite, still within TTL.
	seedInvite(t, store, "lead-fresh", 2*24*time.Hour, models.InviteStatusSent)

	// Old invite already accepted.
	seedInvite(t, store, "lead-accepted", 20*24*time.Hour, models.InviteStatusSent)
	seedInvite(t, store, "lead-accepted", 19*24*time.Hour, models.InviteStatusAccepted)

	s := newSweeper(store, fake.NewMessenger(), &fake.Notifier{})

	result, err := s.Sweep(ctx)
	require.NoError(t, err)

	assert.Zero(t, result.Scanned)
	assert.Zero(t, result.Expired)
}

func TestSweepHonorsAccountTTL(t *testing.T) {
	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.Accounts().Save(ctx, &models.MessagingAccount{
		ID:          "acct-1",
		AccountType: models.AccountTypePremium,
		InviteTTL:   3 * 24 * time.Hour,
	}))
	seedInvite(t, store, "lead-1", 4*24*time.Hour, models.InviteStatusSent)

	s := newSweeper(store, fake.NewMessenger(), &fake.Notifier{})

	result, err := s.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Expired)
}

func TestSweepReassignsAndNotifies(t *testing.T) {
	store := memory.NewPersistence()
	notifier := &fake.Notifier{}
	ctx := context.Background()

	seedAccount(t, store)
	require.NoError(t, store.Leads().Save(ctx, &models.Lead{ID: "lead-1", Name: "Maria"}))
	require.NoError(t, store.Agents().SaveAssignees(ctx, "agent-1", []*models.Assignee{
		{UserID: "u1", UserName: "Ana", Active: true},
	}))
	require.NoError(t, store.InviteLog().Append(ctx, &models.InviteLogEntry{
		AccountID:  "acct-1",
		LeadID:     "lead-1",
		CampaignID: "agent-1",
		Status:     models.InviteStatusSent,
		SentAt:     time.Now().UTC().Add(-15 * 24 * time.Hour),
	}))

	s := newSweeper(store, fake.NewMessenger(), notifier)

	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)

	delivered := notifier.ForUser("u1")
	require.Len(t, delivered, 1)
	assert.Equal(t, "Convite não aceito", delivered[0].Title)
	assert.Contains(t, delivered[0].Body, "Maria")
}

func TestSweepToleratesPublishFailure(t *testing.T) {
	store := memory.NewPersistence()
	ctx := context.Background()

	seedAccount(t, store)
	seedInvite(t, store, "lead-1", 15*24*time.Hour, models.InviteStatusSent)

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, "acct-1", mock.Anything).Return(errors.New("broker down"))

	s := sweeper.NewSweeper(sweeper.Config{
		Persistence: store,
		Messenger:   fake.NewMessenger(),
		Notifier:    &fake.Notifier{},
		Rotation:    rotation.NewService(store, slog.Default()),
		Publisher:   bus,
		Logger:      slog.Default(),
	})

	result, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Expired)
	bus.AssertExpectations(t)
}

func TestSweepWithdrawDisabled(t *testing.T) {
	store := memory.NewPersistence()
	messenger := fake.NewMessenger()
	ctx := context.Background()

	seedAccount(t, store)
	seedInvite(t, store, "lead-1", 15*24*time.Hour, models.InviteStatusSent)

	s := newSweeper(store, messenger, &fake.Notifier{})
	s.Withdraw = false

	result, err := s.Sweep(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Expired)
	assert.Zero(t, result.Withdrawn)
	assert.Empty(t, messenger.Withdrawn)
}
