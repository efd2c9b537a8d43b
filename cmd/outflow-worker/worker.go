package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/outflowhq/outflow/pkg/collab"
	"github.com/outflowhq/outflow/pkg/engine"
	"github.com/outflowhq/outflow/pkg/invites"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/otelhelper"
	"github.com/outflowhq/outflow/pkg/persistence"
	"github.com/outflowhq/outflow/pkg/scheduler"
)

const drainTimeout = 30 * time.Second

var ErrUnknownJobType = errors.New("unknown job type")

// Worker consumes the durable job queue and routes each job to the engine
// or the invite dispatcher.
type Worker struct {
	id          string
	engine      *engine.Engine
	dispatcher  *invites.Dispatcher
	queue       scheduler.Scheduler
	messenger   collab.Messenger
	persistence persistence.Persistence
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewWorker(
	id string,
	workflowEngine *engine.Engine,
	dispatcher *invites.Dispatcher,
	queue scheduler.Scheduler,
	messenger collab.Messenger,
	store persistence.Persistence,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		id:          id,
		engine:      workflowEngine,
		dispatcher:  dispatcher,
		queue:       queue,
		messenger:   messenger,
		persistence: store,
		tracer:      otelhelper.Tracer("outflow-worker"),
		logger:      logger,
	}
}

// Run consumes jobs until SIGINT/SIGTERM, then drains in-flight work.
func (w *Worker) Run(ctx context.Context) error {
	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w.logger.InfoContext(ctx, "Worker started")

	err := w.queue.Run(runCtx, w.handle)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("job consumption failed: %w", err)
	}

	w.logger.InfoContext(ctx, "Shutting down, draining in-flight jobs")

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	err = w.queue.Stop(drainCtx)
	if err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}

	w.logger.InfoContext(ctx, "Worker stopped")

	return nil
}

func (w *Worker) handle(ctx context.Context, job *models.ScheduledJob) error {
	ctx, span := otelhelper.StartSpan(ctx, w.tracer, "worker.handle_job",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.JobTypeKey, string(job.Type)),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	logger := w.logger.With("job_id", job.ID, "job_type", job.Type)

	var err error

	switch job.Type {
	case models.JobTypeResumeWorkflow:
		err = w.resumeWorkflow(ctx, logger, job)
	case models.JobTypeProcessEvent:
		err = w.processEvent(ctx, logger, job)
	case models.JobTypeSendInvite:
		err = w.dispatcher.Dispatch(ctx, job)
	case models.JobTypeSweepInvites:
		// Sweeps run on the sweeper's own cron; a queued sweep job is a
		// leftover from an older deployment.
		logger.WarnContext(ctx, "Ignoring queued sweep job")
	default:
		err = fmt.Errorf("%w: %s: %w", ErrUnknownJobType, job.Type, scheduler.ErrFatal)
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return err
}

func (w *Worker) resumeWorkflow(ctx context.Context, logger *slog.Logger, job *models.ScheduledJob) error {
	result, err := w.engine.ResumeFromJob(ctx, job)
	if err != nil {
		if errors.Is(err, engine.ErrAgentGone) {
			// The agent was deleted; its jobs are already cancelled.
			return fmt.Errorf("agent gone: %w: %w", err, scheduler.ErrFatal)
		}

		return err
	}

	w.deliverResponses(ctx, logger, job.ConversationID, result)

	logger.InfoContext(ctx, "Resume processed",
		"processed", result.Processed,
		"reason", result.Reason,
		"executed_nodes", len(result.ExecutedNodes),
	)

	return nil
}

func (w *Worker) processEvent(ctx context.Context, logger *slog.Logger, job *models.ScheduledJob) error {
	result, err := w.engine.ProcessEvent(ctx, job.ConversationID, job.Event, job.Payload)
	if err != nil {
		if errors.Is(err, engine.ErrAgentGone) {
			return fmt.Errorf("agent gone: %w: %w", err, scheduler.ErrFatal)
		}

		return err
	}

	w.deliverResponses(ctx, logger, job.ConversationID, result)

	logger.InfoContext(ctx, "Event processed",
		"conversation_id", job.ConversationID,
		"event", job.Event,
		"processed", result.Processed,
		"reason", result.Reason,
	)

	return nil
}

// deliverResponses sends the generated step responses the engine collected
// and records each as an outbound message. Action-node messages already went
// out through the registry and are skipped here. A failed send is persisted
// with send_failed status instead of failing the job; retrying the job would
// be dropped as stale because the workflow already moved to its next pause.
func (w *Worker) deliverResponses(
	ctx context.Context,
	logger *slog.Logger,
	conversationID string,
	result *engine.ProcessResult,
) {
	for _, response := range result.Responses {
		if response.Delivered {
			continue
		}

		sendErr := w.messenger.SendMessage(ctx, conversationID, response.Content)

		status := models.MessageStatusSent
		if sendErr != nil {
			status = models.MessageStatusSendFailed

			logger.ErrorContext(ctx, "Failed to deliver generated response",
				"conversation_id", conversationID,
				"node_id", response.NodeID,
				"error", sendErr,
			)
		}

		appendErr := w.persistence.Messages().Append(ctx, &models.Message{
			ConversationID: conversationID,
			Sender:         "agent",
			Content:        response.Content,
			Status:         status,
		})
		if appendErr != nil {
			logger.WarnContext(ctx, "Failed to persist outbound message",
				"conversation_id", conversationID,
				"error", appendErr,
			)
		}
	}
}
