package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/outflowhq/outflow/pkg/models"
)

const (
	delayedKey = "outflow:jobs:delayed"
	waitingKey = "outflow:jobs:waiting"
	payloadKey = "outflow:jobs:payload"
	parkedKey  = "outflow:jobs:parked"

	dedupKeyPrefix = "outflow:jobs:dedup:"
	convKeyPrefix  = "outflow:jobs:conversation:"

	// Dedup reservations outlive the job long enough to absorb redelivered
	// enqueue attempts, then expire on their own.
	dedupSlack = 24 * time.Hour

	promoteInterval = time.Second
	popTimeout      = time.Second
)

// RedisScheduler is the production Scheduler. Delayed jobs live in a sorted
// set scored by due time; due jobs move to a waiting list consumed with
// BLPop. Payloads live in one hash keyed by job ID.
type RedisScheduler struct {
	client redis.UniversalClient
	logger *slog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewRedisScheduler(ctx context.Context, logger *slog.Logger, redisURL string) (*RedisScheduler, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisScheduler{
		client: client,
		logger: logger.With("module", "scheduler"),
		stopCh: make(chan struct{}),
	}, nil
}

func (s *RedisScheduler) Enqueue(ctx context.Context, job *models.ScheduledJob) error {
	if job.ID == "" {
		job.ID = job.DedupKey()
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = job.EnqueuedAt
	}

	ttl := dedupSlack
	if remaining := time.Until(job.ScheduledFor); remaining > 0 {
		ttl += remaining
	}

	reserved, err := s.client.SetNX(ctx, dedupKeyPrefix+job.ID, 1, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve job id: %w", err)
	}

	if !reserved {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, payloadKey, job.ID, payload)
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(job.ScheduledFor.UnixMilli()), Member: job.ID})

	if job.ConversationID != "" {
		pipe.SAdd(ctx, convKeyPrefix+job.ConversationID, job.ID)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.logger.InfoContext(ctx, "Job scheduled",
		"job_id", job.ID,
		"job_type", job.Type,
		"scheduled_for", job.ScheduledFor,
	)

	return nil
}

func (s *RedisScheduler) CancelByConversation(ctx context.Context, conversationID string) error {
	convKey := convKeyPrefix + conversationID

	ids, err := s.client.SMembers(ctx, convKey).Result()
	if err != nil {
		return fmt.Errorf("failed to list conversation jobs: %w", err)
	}

	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()

	for _, id := range ids {
		pipe.ZRem(ctx, delayedKey, id)
		pipe.LRem(ctx, waitingKey, 0, id)
		pipe.HDel(ctx, payloadKey, id)
		pipe.Del(ctx, dedupKeyPrefix+id)
	}

	pipe.Del(ctx, convKey)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to cancel conversation jobs: %w", err)
	}

	s.logger.InfoContext(ctx, "Cancelled pending jobs",
		"conversation_id", conversationID,
		"count", len(ids),
	)

	return nil
}

func (s *RedisScheduler) Run(ctx context.Context, handler Handler) error {
	s.wg.Add(2)

	go s.promoteLoop(ctx)
	go s.consumeLoop(ctx, handler)

	s.wg.Wait()

	return nil
}

func (s *RedisScheduler) Stop(_ context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()

	return s.client.Close()
}

func (s *RedisScheduler) promoteLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := s.promoteDue(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "Failed to promote due jobs", "error", err)
			}
		}
	}
}

// promoteDue moves jobs whose due time has passed from the delayed set to
// the waiting list.
func (s *RedisScheduler) promoteDue(ctx context.Context) error {
	now := time.Now().UTC().UnixMilli()

	ids, err := s.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now),
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to range delayed jobs: %w", err)
	}

	for _, id := range ids {
		pipe := s.client.TxPipeline()
		pipe.ZRem(ctx, delayedKey, id)
		pipe.RPush(ctx, waitingKey, id)

		_, err = pipe.Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to promote job %s: %w", id, err)
		}
	}

	return nil
}

func (s *RedisScheduler) consumeLoop(ctx context.Context, handler Handler) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
			err := s.consumeOne(ctx, handler)
			if err != nil {
				s.logger.ErrorContext(ctx, "Error consuming job", "error", err)
				time.Sleep(time.Second)
			}
		}
	}
}

func (s *RedisScheduler) consumeOne(ctx context.Context, handler Handler) error {
	result, err := s.client.BLPop(ctx, popTimeout, waitingKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop waiting job: %w", err)
	}

	jobID := result[1]

	payload, err := s.client.HGet(ctx, payloadKey, jobID).Result()
	if errors.Is(err, redis.Nil) {
		// Cancelled between promotion and pop.
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to load job payload: %w", err)
	}

	var job models.ScheduledJob

	err = json.Unmarshal([]byte(payload), &job)
	if err != nil {
		return fmt.Errorf("failed to unmarshal job %s: %w", jobID, err)
	}

	handlerErr := handler(ctx, &job)
	if handlerErr == nil {
		return s.finish(ctx, &job)
	}

	if errors.Is(handlerErr, ErrFatal) || job.Attempt+1 >= MaxAttempts {
		return s.park(ctx, &job, handlerErr)
	}

	return s.retry(ctx, &job, handlerErr)
}

func (s *RedisScheduler) finish(ctx context.Context, job *models.ScheduledJob) error {
	pipe := s.client.TxPipeline()
	pipe.HDel(ctx, payloadKey, job.ID)
	// The dedup reservation ends with the job. A workflow that revisits the
	// same wait node later re-enqueues under the same logical ID and must
	// not be rejected as a duplicate.
	pipe.Del(ctx, dedupKeyPrefix+job.ID)

	if job.ConversationID != "" {
		pipe.SRem(ctx, convKeyPrefix+job.ConversationID, job.ID)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to finish job %s: %w", job.ID, err)
	}

	return nil
}

func (s *RedisScheduler) retry(ctx context.Context, job *models.ScheduledJob, cause error) error {
	job.Attempt++
	job.ScheduledFor = time.Now().UTC().Add(RetryDelay(job.Attempt))

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job for retry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, payloadKey, job.ID, payload)
	pipe.ZAdd(ctx, delayedKey, redis.Z{Score: float64(job.ScheduledFor.UnixMilli()), Member: job.ID})

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to reschedule job %s: %w", job.ID, err)
	}

	s.logger.WarnContext(ctx, "Job failed, retrying",
		"job_id", job.ID,
		"job_type", job.Type,
		"attempt", job.Attempt,
		"next_run", job.ScheduledFor,
		"error", cause,
	)

	return nil
}

func (s *RedisScheduler) park(ctx context.Context, job *models.ScheduledJob, cause error) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job for parking: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, parkedKey, job.ID, payload)
	pipe.HDel(ctx, payloadKey, job.ID)
	// Parked jobs release their reservation too, so the job can be
	// re-enqueued once the underlying fault is fixed. The parked hash keeps
	// the failed payload for inspection either way.
	pipe.Del(ctx, dedupKeyPrefix+job.ID)

	if job.ConversationID != "" {
		pipe.SRem(ctx, convKeyPrefix+job.ConversationID, job.ID)
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to park job %s: %w", job.ID, err)
	}

	s.logger.ErrorContext(ctx, "Job parked after exhausting retries",
		"job_id", job.ID,
		"job_type", job.Type,
		"attempt", job.Attempt,
		"error", cause,
	)

	return nil
}

func (s *RedisScheduler) Delayed(ctx context.Context) (int, error) {
	count, err := s.client.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count delayed jobs: %w", err)
	}

	return int(count), nil
}

func (s *RedisScheduler) Waiting(ctx context.Context) (int, error) {
	count, err := s.client.LLen(ctx, waitingKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count waiting jobs: %w", err)
	}

	return int(count), nil
}

func (s *RedisScheduler) Parked(ctx context.Context) ([]*models.ScheduledJob, error) {
	payloads, err := s.client.HGetAll(ctx, parkedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list parked jobs: %w", err)
	}

	jobs := make([]*models.ScheduledJob, 0, len(payloads))

	for id, payload := range payloads {
		var job models.ScheduledJob

		err = json.Unmarshal([]byte(payload), &job)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal parked job %s: %w", id, err)
		}

		jobs = append(jobs, &job)
	}

	return jobs, nil
}
