// Package scheduler provides durable delayed job execution for workflow
// resumption, invite dispatch and expiration sweeps. Delivery is
// at-least-once; deterministic job IDs plus a dedup reservation keep retried
// enqueues from double-scheduling the same logical job.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

var (
	// ErrDuplicateJob signals the logical job is already scheduled.
	ErrDuplicateJob = errors.New("job already scheduled")

	ErrSchedulerStopped = errors.New("scheduler is stopped")
)

// ErrFatal wraps handler errors that must not be retried.
var ErrFatal = errors.New("fatal job error")

// MaxAttempts bounds handler retries before a job is parked.
const MaxAttempts = 5

// RetryBackoffBase is the first retry delay; it doubles per attempt.
const RetryBackoffBase = 2 * time.Second

// Handler processes one due job. A nil return acknowledges the job; an error
// wrapping ErrFatal parks it immediately, any other error retries with
// backoff until MaxAttempts.
type Handler func(ctx context.Context, job *models.ScheduledJob) error

// Scheduler is the durable delayed job queue.
type Scheduler interface {
	// Enqueue schedules the job for job.ScheduledFor. A zero ScheduledFor
	// means immediately. Returns ErrDuplicateJob when the same logical job
	// is already pending.
	Enqueue(ctx context.Context, job *models.ScheduledJob) error

	// CancelByConversation drops every pending job for the conversation.
	CancelByConversation(ctx context.Context, conversationID string) error

	// Run consumes due jobs with the handler until ctx is cancelled or
	// Stop is called.
	Run(ctx context.Context, handler Handler) error

	Stop(ctx context.Context) error

	// Queue introspection, used by operational tooling and tests.
	Delayed(ctx context.Context) (int, error)
	Waiting(ctx context.Context) (int, error)
	Parked(ctx context.Context) ([]*models.ScheduledJob, error)
}

// RetryDelay returns the backoff before the given retry attempt. Attempt is
// 1-based: the first retry waits RetryBackoffBase.
func RetryDelay(attempt int) time.Duration {
	delay := RetryBackoffBase

	for i := 1; i < attempt; i++ {
		delay *= 2
	}

	return delay
}
