// Package invites dispatches queued connection requests through the rate
// limiter. Sends that would breach a window are deferred until the binding
// window resets rather than dropped.
package invites

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/outflowhq/outflow/pkg/collab"
	"github.com/outflowhq/outflow/pkg/eventbus"
	"github.com/outflowhq/outflow/pkg/events"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
	"github.com/outflowhq/outflow/pkg/ratelimit"
	"github.com/outflowhq/outflow/pkg/scheduler"
	"github.com/outflowhq/outflow/pkg/template"
)

var ErrMissingLead = errors.New("invite job has no lead")

// Dispatcher executes send_invite jobs.
type Dispatcher struct {
	persistence persistence.Persistence
	limiter     *ratelimit.Limiter
	messenger   collab.Messenger
	scheduler   scheduler.Scheduler
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

type Config struct {
	Persistence persistence.Persistence
	Limiter     *ratelimit.Limiter
	Messenger   collab.Messenger
	Scheduler   scheduler.Scheduler
	Publisher   eventbus.EventPublisher
	Logger      *slog.Logger
}

func NewDispatcher(cfg Config) *Dispatcher {
	return &Dispatcher{
		persistence: cfg.Persistence,
		limiter:     cfg.Limiter,
		messenger:   cfg.Messenger,
		scheduler:   cfg.Scheduler,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger.With("module", "invites"),
		now:         time.Now,
	}
}

// WithClock overrides the dispatch clock for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now

	return d
}

// Dispatch sends the invite described by the job. When the account is at a
// limit the job is re-enqueued for the window reset and Dispatch returns
// nil; the job never burns retry attempts waiting out a quota.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.ScheduledJob) error {
	leadID, _ := job.Payload["lead_id"].(string)
	if leadID == "" {
		return fmt.Errorf("%w: %s", ErrMissingLead, job.ID)
	}

	note, _ := job.Payload["note"].(string)
	withNote := note != ""

	decision, err := d.limiter.CanSend(ctx, job.AccountID, withNote)
	if err != nil {
		return fmt.Errorf("failed to check invite limits: %w", err)
	}

	// A personalized note has its own monthly ceiling. When only the note
	// quota is exhausted the invite still goes out, just without the note.
	if withNote && !decision.CanSendWithMessage && decision.CanSend {
		d.logger.InfoContext(ctx, "Note quota exhausted, sending plain invite",
			"account_id", job.AccountID,
			"lead_id", leadID,
		)

		note = ""
		withNote = false
	}

	if !decision.CanSend {
		return d.deferSend(ctx, job, decision)
	}

	if withNote {
		note, err = d.renderNote(ctx, note, leadID)
		if err != nil {
			return err
		}
	}

	err = d.messenger.SendInvite(ctx, job.AccountID, leadID, note)
	if err != nil {
		return fmt.Errorf("failed to send invite to %s: %w", leadID, err)
	}

	entry := &models.InviteLogEntry{
		ID:              uuid.New().String(),
		AccountID:       job.AccountID,
		LeadID:          leadID,
		CampaignID:      job.AgentID,
		Status:          models.InviteStatusSent,
		MessageIncluded: withNote,
		SentAt:          d.now().UTC(),
	}

	err = d.limiter.LogInviteSent(ctx, entry)
	if err != nil {
		// The invite left the building. Returning an error here would make
		// the scheduler retry the whole dispatch and send a second invite;
		// a missing log row only costs one slot of quota headroom.
		d.logger.WarnContext(ctx, "Failed to log sent invite",
			"account_id", job.AccountID,
			"lead_id", leadID,
			"error", err,
		)
	}

	d.publish(ctx, job, entry)

	d.logger.InfoContext(ctx, "Invite sent",
		"account_id", job.AccountID,
		"lead_id", leadID,
		"with_note", withNote,
	)

	return nil
}

// deferSend re-enqueues the job for the binding window's reset. The retry job
// gets a reset-bucketed ID so repeated deferrals of the same invite collapse.
func (d *Dispatcher) deferSend(ctx context.Context, job *models.ScheduledJob, decision *ratelimit.Decision) error {
	resetsAt := d.resetTime(decision)

	retry := *job
	retry.ID = fmt.Sprintf("%s-%d", job.DedupKey(), resetsAt.Unix())
	retry.ScheduledFor = resetsAt
	retry.Attempt = 0
	retry.EnqueuedAt = time.Time{}

	err := d.scheduler.Enqueue(ctx, &retry)
	if err != nil && !errors.Is(err, scheduler.ErrDuplicateJob) {
		return fmt.Errorf("failed to defer invite: %w", err)
	}

	d.logger.InfoContext(ctx, "Invite deferred",
		"account_id", job.AccountID,
		"limit_reason", decision.LimitReason,
		"resumes_at", resetsAt,
	)

	return nil
}

func (d *Dispatcher) resetTime(decision *ratelimit.Decision) time.Time {
	switch decision.LimitReason {
	case ratelimit.ReasonWeeklyLimit:
		return decision.Weekly.ResetsAt
	case ratelimit.ReasonMonthlyNotes:
		return decision.MonthlyMessages.ResetsAt
	default:
		return decision.Daily.ResetsAt
	}
}

func (d *Dispatcher) renderNote(ctx context.Context, note, leadID string) (string, error) {
	lead, err := d.persistence.Leads().GetByID(ctx, leadID)
	if err != nil {
		if errors.Is(err, persistence.ErrLeadNotFound) {
			return note, nil
		}

		return "", fmt.Errorf("failed to load lead %s: %w", leadID, err)
	}

	rendered, err := template.RenderString(note, &models.ExecutionContext{Lead: lead})
	if err != nil {
		return "", fmt.Errorf("failed to render invite note: %w", err)
	}

	return rendered, nil
}

func (d *Dispatcher) publish(ctx context.Context, job *models.ScheduledJob, entry *models.InviteLogEntry) {
	if d.publisher == nil {
		return
	}

	event := events.InviteSent{
		BaseEvent: events.BaseEvent{
			ID:        uuid.New().String(),
			Type:      events.InviteSentEvent,
			Timestamp: d.now().UTC(),
		},
		AccountID:       entry.AccountID,
		LeadID:          entry.LeadID,
		MessageIncluded: entry.MessageIncluded,
	}

	err := d.publisher.Publish(ctx, entry.AccountID, event)
	if err != nil {
		d.logger.WarnContext(ctx, "Failed to publish invite sent event",
			"account_id", entry.AccountID, "error", err)
	}
}
