package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

// MemoryScheduler keeps jobs in process. It is used in tests and local
// development; due jobs run when RunDue is called, so tests control time.
type MemoryScheduler struct {
	mu      sync.Mutex
	pending map[string]*models.ScheduledJob
	parked  map[string]*models.ScheduledJob
	stopped bool
}

func NewMemoryScheduler() *MemoryScheduler {
	return &MemoryScheduler{
		pending: make(map[string]*models.ScheduledJob),
		parked:  make(map[string]*models.ScheduledJob),
	}
}

func (s *MemoryScheduler) Enqueue(_ context.Context, job *models.ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	if job.ID == "" {
		job.ID = job.DedupKey()
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = job.EnqueuedAt
	}

	if _, exists := s.pending[job.ID]; exists {
		return ErrDuplicateJob
	}

	clone := *job
	s.pending[job.ID] = &clone

	return nil
}

func (s *MemoryScheduler) CancelByConversation(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.pending {
		if job.ConversationID == conversationID {
			delete(s.pending, id)
		}
	}

	return nil
}

// Run processes jobs as they come due until the context is cancelled.
func (s *MemoryScheduler) Run(ctx context.Context, handler Handler) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := s.RunDue(ctx, handler)
			if err != nil {
				return err
			}
		}
	}
}

// RunDue synchronously executes every job due at or before now, including
// retries that come due as a result. Retry backoff is honored against the
// job's recorded schedule, so tests can advance by passing a later now.
func (s *MemoryScheduler) RunDue(ctx context.Context, handler Handler) error {
	return s.RunDueAt(ctx, handler, time.Now().UTC())
}

func (s *MemoryScheduler) RunDueAt(ctx context.Context, handler Handler, now time.Time) error {
	for {
		job := s.popDue(now)
		if job == nil {
			return nil
		}

		err := handler(ctx, job)
		if err == nil {
			continue
		}

		s.mu.Lock()

		if errors.Is(err, ErrFatal) || job.Attempt+1 >= MaxAttempts {
			s.parked[job.ID] = job
		} else {
			job.Attempt++
			job.ScheduledFor = now.Add(RetryDelay(job.Attempt))
			s.pending[job.ID] = job
		}

		s.mu.Unlock()
	}
}

func (s *MemoryScheduler) popDue(now time.Time) *models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*models.ScheduledJob, 0)

	for _, job := range s.pending {
		if !job.ScheduledFor.After(now) {
			due = append(due, job)
		}
	}

	if len(due) == 0 {
		return nil
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})

	job := due[0]
	delete(s.pending, job.ID)

	return job
}

func (s *MemoryScheduler) Stop(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true

	return nil
}

func (s *MemoryScheduler) Delayed(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0

	for _, job := range s.pending {
		if job.ScheduledFor.After(now) {
			count++
		}
	}

	return count, nil
}

func (s *MemoryScheduler) Waiting(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	count := 0

	for _, job := range s.pending {
		if !job.ScheduledFor.After(now) {
			count++
		}
	}

	return count, nil
}

func (s *MemoryScheduler) Parked(_ context.Context) ([]*models.ScheduledJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*models.ScheduledJob, 0, len(s.parked))

	for _, job := range s.parked {
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// Pending returns a snapshot of all not-yet-run jobs, for assertions.
func (s *MemoryScheduler) Pending() []*models.ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]*models.ScheduledJob, 0, len(s.pending))

	for _, job := range s.pending {
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].ScheduledFor.Before(jobs[j].ScheduledFor)
	})

	return jobs
}
