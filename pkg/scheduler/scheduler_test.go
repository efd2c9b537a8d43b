package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/scheduler"
)

func TestRetryDelayDoubles(t *testing.T) {
	assert.Equal(t, 2*time.Second, scheduler.RetryDelay(1))
	assert.Equal(t, 4*time.Second, scheduler.RetryDelay(2))
	assert.Equal(t, 8*time.Second, scheduler.RetryDelay(3))
	assert.Equal(t, 16*time.Second, scheduler.RetryDelay(4))
}

func TestMemorySchedulerDeduplicatesLogicalJobs(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.NewMemoryScheduler()

	job := &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "node-wait",
		ScheduledFor:   time.Now().UTC().Add(time.Hour),
	}

	err := sched.Enqueue(ctx, job)
	require.NoError(t, err)

	duplicate := &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "node-wait",
		ScheduledFor:   time.Now().UTC().Add(2 * time.Hour),
	}

	err = sched.Enqueue(ctx, duplicate)
	require.ErrorIs(t, err, scheduler.ErrDuplicateJob)

	// A different node is a different logical job.
	other := &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "node-other",
	}

	err = sched.Enqueue(ctx, other)
	require.NoError(t, err)
}

func TestMemorySchedulerRunsOnlyDueJobs(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.NewMemoryScheduler()

	now := time.Now().UTC()

	require.NoError(t, sched.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-due",
		NodeID:         "n1",
		ScheduledFor:   now.Add(-time.Minute),
	}))
	require.NoError(t, sched.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-later",
		NodeID:         "n1",
		ScheduledFor:   now.Add(time.Hour),
	}))

	ran := make([]string, 0)

	err := sched.RunDueAt(ctx, func(_ context.Context, job *models.ScheduledJob) error {
		ran = append(ran, job.ConversationID)

		return nil
	}, now)
	require.NoError(t, err)

	assert.Equal(t, []string{"conv-due"}, ran)
	assert.Len(t, sched.Pending(), 1)
}

func TestMemorySchedulerRetriesThenParks(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.NewMemoryScheduler()

	require.NoError(t, sched.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeSendInvite,
		ConversationID: "conv-1",
		NodeID:         "n1",
	}))

	attempts := 0
	handler := func(_ context.Context, _ *models.ScheduledJob) error {
		attempts++

		return fmt.Errorf("provider unavailable")
	}

	// Advance far enough that every backoff has elapsed.
	now := time.Now().UTC()
	for i := 0; i < scheduler.MaxAttempts; i++ {
		now = now.Add(time.Minute)
		require.NoError(t, sched.RunDueAt(ctx, handler, now))
	}

	assert.Equal(t, scheduler.MaxAttempts, attempts)

	parked, err := sched.Parked(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, models.JobTypeSendInvite, parked[0].Type)
}

func TestMemorySchedulerFatalParksImmediately(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.NewMemoryScheduler()

	require.NoError(t, sched.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "n1",
	}))

	attempts := 0

	err := sched.RunDue(ctx, func(_ context.Context, _ *models.ScheduledJob) error {
		attempts++

		return fmt.Errorf("%w: agent deleted", scheduler.ErrFatal)
	})
	require.NoError(t, err)

	assert.Equal(t, 1, attempts)

	parked, err := sched.Parked(ctx)
	require.NoError(t, err)
	assert.Len(t, parked, 1)
}

func TestCompletedJobReleasesItsID(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.NewMemoryScheduler()

	job := &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "w1",
	}
	require.NoError(t, sched.Enqueue(ctx, job))

	handler := func(context.Context, *models.ScheduledJob) error { return nil }
	require.NoError(t, sched.RunDueAt(ctx, handler, time.Now().Add(time.Minute)))

	// A workflow that loops back to the same wait node schedules the same
	// logical job again. The finished run must not block it.
	err := sched.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "w1",
	})
	require.NoError(t, err)
	assert.Len(t, sched.Pending(), 1)
}

func TestParkedJobReleasesItsID(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.NewMemoryScheduler()

	require.NoError(t, sched.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "w1",
	}))

	fatal := func(context.Context, *models.ScheduledJob) error {
		return fmt.Errorf("agent misconfigured: %w", scheduler.ErrFatal)
	}
	require.NoError(t, sched.RunDueAt(ctx, fatal, time.Now().Add(time.Minute)))

	parked, err := sched.Parked(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)

	// Once the fault is fixed the job can be scheduled fresh; the parked
	// copy only exists for inspection.
	err = sched.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "w1",
	})
	require.NoError(t, err)
}

func TestMemorySchedulerCancelByConversation(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.NewMemoryScheduler()

	require.NoError(t, sched.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "n1",
	}))
	require.NoError(t, sched.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-2",
		NodeID:         "n1",
	}))

	require.NoError(t, sched.CancelByConversation(ctx, "conv-1"))

	pending := sched.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "conv-2", pending[0].ConversationID)
}

func TestMemorySchedulerStopRejectsEnqueues(t *testing.T) {
	ctx := context.Background()
	sched := scheduler.NewMemoryScheduler()

	require.NoError(t, sched.Stop(ctx))

	err := sched.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "n1",
	})
	assert.True(t, errors.Is(err, scheduler.ErrSchedulerStopped))
}
