package invites_test

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
	"github.com/outflowhq/outflow/pkg/invites"
	"github.com/outflowhq/outflow/pkg/mocks"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
	"github.com/outflowhq/outflow/pkg/persistence/memory"
	"github.com/outflowhq/outflow/pkg/ratelimit"
	"github.com/outflowhq/outflow/pkg/scheduler"
)

type fixture struct {
	dispatcher *invites.Dispatcher
	store      *memory.Persistence
	messenger  *fake.Messenger
	queue      *scheduler.MemoryScheduler
	limiter    *ratelimit.Limiter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewPersistence()
	messenger := fake.NewMessenger()
	queue := scheduler.NewMemoryScheduler()
	limiter := ratelimit.NewLimiter(store, slog.Default())

	dispatcher := invites.NewDispatcher(invites.Config{
		Persistence: store,
		Limiter:     limiter,
		Messenger:   messenger,
		Scheduler:   queue,
		Logger:      slog.Default(),
	})

	return &fixture{
		dispatcher: dispatcher,
		store:      store,
		messenger:  messenger,
		queue:      queue,
		limiter:    limiter,
	}
}

func (f *fixture) seedAccount(t *testing.T, accountType models.AccountType) {
	t.Helper()

	require.NoError(t, f.store.Accounts().Save(context.Background(), &models.MessagingAccount{
		ID:          "acct-1",
		AccountType: accountType,
	}))
}

func inviteJob(leadID, note string) *models.ScheduledJob {
	job := &models.ScheduledJob{
		Type:      models.JobTypeSendInvite,
		AccountID: "acct-1",
		AgentID:   "agent-1",
		Payload:   map[string]any{"lead_id": leadID},
	}
	if note != "" {
		job.Payload["note"] = note
	}

	job.ID = job.DedupKey()

	return job
}

// appendFailingStore fails invite-log appends while leaving the counting
// queries on the embedded store intact.
type appendFailingStore struct {
	persistence.Persistence
	appendErr error
}

func (s *appendFailingStore) InviteLog() persistence.InviteLogRepository {
	return &appendFailingLog{InviteLogRepository: s.Persistence.InviteLog(), err: s.appendErr}
}

type appendFailingLog struct {
	persistence.InviteLogRepository
	err error
}

func (l *appendFailingLog) Append(context.Context, *models.InviteLogEntry) error {
	return l.err
}

func TestDispatchSendsAndLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, models.AccountTypeFree)
	require.NoError(t, f.store.Leads().Save(ctx, &models.Lead{ID: "lead-1", Name: "Maria"}))

	err := f.dispatcher.Dispatch(ctx, inviteJob("lead-1", "Oi {{.lead.name}}, vamos conectar?"))
	require.NoError(t, err)

	require.Len(t, f.messenger.Invites, 1)
	assert.Equal(t, "lead-1", f.messenger.Invites[0].LeadID)
	assert.Equal(t, "Oi Maria, vamos conectar?", f.messenger.Invites[0].Note)

	decision, err := f.limiter.Stats(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1, decision.Daily.Used)
	assert.Equal(t, 1, decision.MonthlyMessages.Used)
}

func TestDispatchPlainInviteSkipsNoteQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, models.AccountTypeFree)

	err := f.dispatcher.Dispatch(ctx, inviteJob("lead-1", ""))
	require.NoError(t, err)

	require.Len(t, f.messenger.Invites, 1)
	assert.Empty(t, f.messenger.Invites[0].Note)

	decision, err := f.limiter.Stats(ctx, "acct-1")
	require.NoError(t, err)
	assert.Zero(t, decision.MonthlyMessages.Used)
}

func TestDispatchDropsNoteWhenMonthlyQuotaExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, models.AccountTypeFree)

	// Free accounts get 10 noted invites per calendar month.
	for range 10 {
		require.NoError(t, f.limiter.LogInviteSent(ctx, &models.InviteLogEntry{
			AccountID:       "acct-1",
			Status:          models.InviteStatusSent,
			MessageIncluded: true,
			SentAt:          time.Now().UTC(),
		}))
	}

	err := f.dispatcher.Dispatch(ctx, inviteJob("lead-1", "Oi!"))
	require.NoError(t, err)

	require.Len(t, f.messenger.Invites, 1)
	assert.Empty(t, f.messenger.Invites[0].Note)
}

func TestDispatchDefersAtDailyLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, models.AccountTypeFree)

	for range 25 {
		require.NoError(t, f.limiter.LogInviteSent(ctx, &models.InviteLogEntry{
			AccountID: "acct-1",
			Status:    models.InviteStatusSent,
			SentAt:    time.Now().UTC(),
		}))
	}

	err := f.dispatcher.Dispatch(ctx, inviteJob("lead-1", ""))
	require.NoError(t, err)

	assert.Empty(t, f.messenger.Invites)

	pending := f.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.JobTypeSendInvite, pending[0].Type)
	assert.True(t, pending[0].ScheduledFor.After(time.Now()))
}

func TestDispatchDeferralsCollapse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, models.AccountTypeFree)

	for range 25 {
		require.NoError(t, f.limiter.LogInviteSent(ctx, &models.InviteLogEntry{
			AccountID: "acct-1",
			Status:    models.InviteStatusSent,
			SentAt:    time.Now().UTC(),
		}))
	}

	require.NoError(t, f.dispatcher.Dispatch(ctx, inviteJob("lead-1", "")))
	require.NoError(t, f.dispatcher.Dispatch(ctx, inviteJob("lead-1", "")))

	assert.Len(t, f.queue.Pending(), 1)
}

func TestDispatchSendFailureReturnsError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.seedAccount(t, models.AccountTypeFree)
	f.messenger.FailInvite = true

	err := f.dispatcher.Dispatch(ctx, inviteJob("lead-1", ""))
	require.Error(t, err)

	// Nothing was logged, so the retry gets a clean limit check.
	decision, statsErr := f.limiter.Stats(ctx, "acct-1")
	require.NoError(t, statsErr)
	assert.Zero(t, decision.Daily.Used)
}

func TestDispatchLogFailureDoesNotFailJob(t *testing.T) {
	base := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, base.Accounts().Save(ctx, &models.MessagingAccount{
		ID:          "acct-1",
		AccountType: models.AccountTypeFree,
	}))

	store := &appendFailingStore{Persistence: base, appendErr: errors.New("log table unavailable")}
	messenger := fake.NewMessenger()

	dispatcher := invites.NewDispatcher(invites.Config{
		Persistence: store,
		Limiter:     ratelimit.NewLimiter(store, slog.Default()),
		Messenger:   messenger,
		Scheduler:   scheduler.NewMemoryScheduler(),
		Logger:      slog.Default(),
	})

	// The invite reached the network before the log write failed. An error
	// here would trigger a scheduler retry and a second invite to the same
	// lead, which is the worse outcome.
	err := dispatcher.Dispatch(ctx, inviteJob("lead-1", ""))
	require.NoError(t, err)
	assert.Len(t, messenger.Invites, 1)
}

func TestDispatchDeferralEnqueueFailureSurfaces(t *testing.T) {
	store := memory.NewPersistence()
	ctx := context.Background()

	require.NoError(t, store.Accounts().Save(ctx, &models.MessagingAccount{
		ID:          "acct-1",
		AccountType: models.AccountTypeFree,
	}))

	limiter := ratelimit.NewLimiter(store, slog.Default())

	for range 25 {
		require.NoError(t, limiter.LogInviteSent(ctx, &models.InviteLogEntry{
			AccountID: "acct-1",
			Status:    models.InviteStatusSent,
			SentAt:    time.Now().UTC(),
		}))
	}

	queue := &mocks.MockScheduler{}
	queue.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("redis down"))

	dispatcher := invites.NewDispatcher(invites.Config{
		Persistence: store,
		Limiter:     limiter,
		Messenger:   fake.NewMessenger(),
		Scheduler:   queue,
		Logger:      slog.Default(),
	})

	err := dispatcher.Dispatch(ctx, inviteJob("lead-1", ""))
	require.Error(t, err)
	queue.AssertExpectations(t)
}

func TestDispatchRequiresLead(t *testing.T) {
	f := newFixture(t)

	err := f.dispatcher.Dispatch(context.Background(), &models.ScheduledJob{
		Type:      models.JobTypeSendInvite,
		AccountID: "acct-1",
	})
	require.ErrorIs(t, err, invites.ErrMissingLead)
}
