package main

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outflowhq/outflow/pkg/actions"
	"github.com/outflowhq/outflow/pkg/collab"
	"github.com/outflowhq/outflow/pkg/collab/fake"
	"github.com/outflowhq/outflow/pkg/engine"
	"github.com/outflowhq/outflow/pkg/invites"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence/memory"
	"github.com/outflowhq/outflow/pkg/ratelimit"
	"github.com/outflowhq/outflow/pkg/rotation"
	"github.com/outflowhq/outflow/pkg/scheduler"
	"github.com/outflowhq/outflow/pkg/testutil"
)

type workerFixture struct {
	worker    *Worker
	store     *memory.Persistence
	messenger *fake.Messenger
	generator *fake.Generator
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	store := memory.NewPersistence()
	messenger := fake.NewMessenger()
	generator := &fake.Generator{}
	queue := scheduler.NewMemoryScheduler()
	logger := slog.Default()

	rotationService := rotation.NewService(store, logger)
	handoff := rotation.NewHandoffService(rotationService, messenger, &fake.Notifier{}, nil)

	registry := actions.NewRegistry(actions.Config{
		Persistence: store,
		Messenger:   messenger,
		Mailer:      &fake.Mailer{},
		Handoff:     handoff,
		Logger:      logger,
	})

	workflowEngine := engine.NewEngine(engine.Config{
		Persistence: store,
		Registry:    registry,
		Generator:   generator,
		Handoff:     handoff,
		Scheduler:   queue,
		Logger:      logger,
		WorkerID:    "worker-test",
	})

	dispatcher := invites.NewDispatcher(invites.Config{
		Persistence: store,
		Limiter:     ratelimit.NewLimiter(store, logger),
		Messenger:   messenger,
		Scheduler:   queue,
		Logger:      logger,
	})

	return &workerFixture{
		worker:    NewWorker("worker-test", workflowEngine, dispatcher, queue, messenger, store, logger),
		store:     store,
		messenger: messenger,
		generator: generator,
	}
}

func (f *workerFixture) seedConversation(t *testing.T, agent *models.AgentDefinition) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.store.Agents().Save(ctx, agent))
	require.NoError(t, f.store.Leads().Save(ctx, &models.Lead{ID: "lead-1", Name: "Maria"}))
	require.NoError(t, f.store.Conversations().Save(ctx, &models.Conversation{
		ID:               "conv-1",
		AccountID:        "acct-1",
		LeadID:           "lead-1",
		AgentID:          agent.ID,
		Status:           models.ConversationStatusAutomated,
		AutomationActive: true,
	}))
}

func qualifierAgent() *models.AgentDefinition {
	return testutil.Agent("agent-1",
		[]*models.Node{
			testutil.TriggerNode("t1", "message_received"),
			testutil.StepNode("s1", "Descubra o cargo do lead", "Lead informou o cargo"),
		},
		[]*models.Edge{
			testutil.Edge("e1", "t1", "s1", ""),
		},
	)
}

func TestWorkerDeliversGeneratedResponses(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedConversation(t, qualifierAgent())
	ctx := context.Background()

	f.generator.Results = []collab.GenerationResult{
		{Response: "Qual seu cargo atual?"},
	}

	_, err := f.worker.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventMessageReceived)
	require.NoError(t, err)

	err = f.worker.handle(ctx, &models.ScheduledJob{
		ID:             "job-1",
		Type:           models.JobTypeProcessEvent,
		ConversationID: "conv-1",
		Event:          models.EventMessageReceived,
		Payload:        map[string]any{"message": "oi"},
	})
	require.NoError(t, err)

	// The generated opener must reach the lead and the conversation log.
	require.Len(t, f.messenger.Messages, 1)
	assert.Equal(t, "conv-1", f.messenger.Messages[0].ConversationID)
	assert.Equal(t, "Qual seu cargo atual?", f.messenger.Messages[0].Content)

	stored, err := f.store.Messages().ByConversation(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "agent", stored[0].Sender)
	assert.Equal(t, models.MessageStatusSent, stored[0].Status)
}

func TestWorkerPersistsFailedDelivery(t *testing.T) {
	f := newWorkerFixture(t)
	f.seedConversation(t, qualifierAgent())
	ctx := context.Background()

	f.generator.Results = []collab.GenerationResult{
		{Response: "Qual seu cargo atual?"},
	}
	f.messenger.FailSends = 1

	_, err := f.worker.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventMessageReceived)
	require.NoError(t, err)

	err = f.worker.handle(ctx, &models.ScheduledJob{
		ID:             "job-1",
		Type:           models.JobTypeProcessEvent,
		ConversationID: "conv-1",
		Event:          models.EventMessageReceived,
		Payload:        map[string]any{"message": "oi"},
	})
	require.NoError(t, err)

	stored, storeErr := f.store.Messages().ByConversation(ctx, "conv-1")
	require.NoError(t, storeErr)
	require.Len(t, stored, 1)
	assert.Equal(t, models.MessageStatusSendFailed, stored[0].Status)
}

func TestWorkerRejectsUnknownJobType(t *testing.T) {
	f := newWorkerFixture(t)

	err := f.worker.handle(context.Background(), &models.ScheduledJob{
		ID:   "job-1",
		Type: models.JobType("mystery"),
	})

	require.ErrorIs(t, err, ErrUnknownJobType)
	require.ErrorIs(t, err, scheduler.ErrFatal)
}
