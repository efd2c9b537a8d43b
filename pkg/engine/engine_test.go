package engine_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outflowhq/outflow/pkg/actions"
	"github.com/outflowhq/outflow/pkg/collab"
	"github.com/outflowhq/outflow/pkg/collab/fake"
	"github.com/outflowhq/outflow/pkg/engine"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence/memory"
	"github.com/outflowhq/outflow/pkg/rotation"
	"github.com/outflowhq/outflow/pkg/scheduler"
)

type fixture struct {
	engine    *engine.Engine
	store     *memory.Persistence
	messenger *fake.Messenger
	generator *fake.Generator
	scheduler *scheduler.MemoryScheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memory.NewPersistence()
	messenger := fake.NewMessenger()
	generator := &fake.Generator{}
	jobs := scheduler.NewMemoryScheduler()
	logger := slog.Default()

	service := rotation.NewService(store, logger)
	handoff := rotation.NewHandoffService(service, messenger, &fake.Notifier{}, nil)

	registry := actions.NewRegistry(actions.Config{
		Persistence: store,
		Messenger:   messenger,
		Mailer:      &fake.Mailer{},
		Handoff:     handoff,
		Logger:      logger,
	})

	eng := engine.NewEngine(engine.Config{
		Persistence: store,
		Registry:    registry,
		Generator:   generator,
		Handoff:     handoff,
		Scheduler:   jobs,
		Logger:      logger,
		WorkerID:    "worker-test",
	})

	return &fixture{engine: eng, store: store, messenger: messenger, generator: generator, scheduler: jobs}
}

func (f *fixture) seed(t *testing.T, agent *models.AgentDefinition) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.store.Agents().Save(ctx, agent))
	require.NoError(t, f.store.Leads().Save(ctx, &models.Lead{
		ID:    "lead-1",
		Name:  "Maria",
		Email: "maria@example.com",
	}))
	require.NoError(t, f.store.Conversations().Save(ctx, &models.Conversation{
		ID:               "conv-1",
		AccountID:        "acct-1",
		LeadID:           "lead-1",
		AgentID:          agent.ID,
		Status:           models.ConversationStatusAutomated,
		AutomationActive: true,
	}))
}

// inviteFlowAgent is the canonical connect-then-follow-up graph: trigger on
// invite_accepted, greet, wait a day, send a follow up.
func inviteFlowAgent() *models.AgentDefinition {
	return &models.AgentDefinition{
		ID:        "agent-1",
		AccountID: "acct-1",
		Name:      "Connector",
		Enabled:   true,
		Nodes: []*models.Node{
			{ID: "t1", Type: models.NodeTypeTrigger, Data: map[string]any{"event": "invite_accepted"}},
			{ID: "a1", Type: models.NodeTypeAction, ActionType: models.ActionSendMessage,
				Data: map[string]any{"message": "Oi {{.lead.name}}, obrigado por conectar!"}},
			{ID: "w1", Type: models.NodeTypeAction, ActionType: models.ActionWait,
				Data: map[string]any{"duration": map[string]any{"value": float64(24), "unit": "hours"}}},
			{ID: "a2", Type: models.NodeTypeAction, ActionType: models.ActionSendMessage,
				Data: map[string]any{"message": "Conseguiu ver minha mensagem?"}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "t1", Target: "a1"},
			{ID: "e2", Source: "a1", Target: "w1"},
			{ID: "e3", Source: "w1", Target: "a2"},
		},
	}
}

func TestInitializeWorkflowAnchorsAtTrigger(t *testing.T) {
	f := newFixture(t)
	f.seed(t, inviteFlowAgent())
	ctx := context.Background()

	state, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusActive, state.Status)
	assert.Equal(t, "t1", state.CurrentNodeID)
	assert.Empty(t, state.StepHistory)

	// A second initialization returns the existing row untouched.
	again, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)
	assert.Equal(t, state.ConversationID, again.ConversationID)
	assert.Equal(t, "t1", again.CurrentNodeID)
}

func TestInviteAcceptedRunsUntilWait(t *testing.T) {
	f := newFixture(t)
	f.seed(t, inviteFlowAgent())
	ctx := context.Background()

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)

	result, err := f.engine.ProcessEvent(ctx, "conv-1", models.EventInviteAccepted, nil)
	require.NoError(t, err)

	assert.True(t, result.Processed)
	assert.True(t, result.Paused)
	assert.Equal(t, models.PauseReasonWaitAction, result.PauseReason)
	assert.Equal(t, "a2", result.ResumeNodeID)

	require.Len(t, result.ExecutedNodes, 3)
	assert.Equal(t, "t1", result.ExecutedNodes[0].NodeID)
	assert.Equal(t, "a1", result.ExecutedNodes[1].NodeID)
	assert.Equal(t, "w1", result.ExecutedNodes[2].NodeID)

	require.Equal(t, 1, f.messenger.SentCount())
	assert.Equal(t, "Oi Maria, obrigado por conectar!", f.messenger.Messages[0].Content)

	state, err := f.store.WorkflowStates().Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusPaused, state.Status)
	assert.Equal(t, "a2", state.ResumeNodeID)
	require.NotNil(t, state.PausedUntil)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *state.PausedUntil, time.Minute)

	pending := f.scheduler.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.JobTypeResumeWorkflow, pending[0].Type)
	assert.Equal(t, "a2", pending[0].NodeID)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), pending[0].ScheduledFor, time.Minute)
}

func TestResumeJobContinuesAndCompletes(t *testing.T) {
	f := newFixture(t)
	f.seed(t, inviteFlowAgent())
	ctx := context.Background()

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)

	_, err = f.engine.ProcessEvent(ctx, "conv-1", models.EventInviteAccepted, nil)
	require.NoError(t, err)

	handler := func(ctx context.Context, job *models.ScheduledJob) error {
		_, err := f.engine.ResumeFromJob(ctx, job)

		return err
	}

	err = f.scheduler.RunDueAt(ctx, handler, time.Now().Add(25*time.Hour))
	require.NoError(t, err)

	require.Equal(t, 2, f.messenger.SentCount())
	assert.Equal(t, "Conseguiu ver minha mensagem?", f.messenger.Messages[1].Content)

	state, err := f.store.WorkflowStates().Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, state.Status)
}

func TestDuplicateResumeJobIsDropped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, inviteFlowAgent())
	ctx := context.Background()

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)

	_, err = f.engine.ProcessEvent(ctx, "conv-1", models.EventInviteAccepted, nil)
	require.NoError(t, err)

	job := &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "a2",
	}

	first, err := f.engine.ResumeFromJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, first.Processed)

	// The workflow moved past a2; the redelivered snapshot no longer
	// matches and must not send again.
	second, err := f.engine.ResumeFromJob(ctx, job)
	require.NoError(t, err)
	assert.False(t, second.Processed)
	assert.Equal(t, "stale_resume", second.Reason)

	assert.Equal(t, 2, f.messenger.SentCount())
}

func TestRedeliveredResumeDoesNotReplayOpener(t *testing.T) {
	f := newFixture(t)
	f.seed(t, &models.AgentDefinition{
		ID:        "agent-1",
		AccountID: "acct-1",
		Name:      "Nurturer",
		Enabled:   true,
		Nodes: []*models.Node{
			{ID: "t1", Type: models.NodeTypeTrigger, Data: map[string]any{"event": "invite_accepted"}},
			{ID: "w1", Type: models.NodeTypeAction, ActionType: models.ActionWait,
				Data: map[string]any{"duration": map[string]any{"value": float64(1), "unit": "hours"}}},
			{ID: "s1", Type: models.NodeTypeConversationStep, Data: map[string]any{
				"instructions": "Pergunte sobre o time do lead",
				"objective":    "Lead descreveu o time",
			}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "t1", Target: "w1"},
			{ID: "e2", Source: "w1", Target: "s1"},
		},
	})
	ctx := context.Background()

	f.generator.Results = []collab.GenerationResult{
		{Response: "Como é o seu time hoje?"},
	}

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)

	_, err = f.engine.ProcessEvent(ctx, "conv-1", models.EventInviteAccepted, nil)
	require.NoError(t, err)

	job := &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "s1",
	}

	first, err := f.engine.ResumeFromJob(ctx, job)
	require.NoError(t, err)
	require.Len(t, first.Responses, 1)
	assert.Equal(t, models.PauseReasonWaitingForResponse, first.PauseReason)

	// The step now waits on the lead. The workflow is still paused at s1,
	// so a redelivery of the wake job passes the node check; it must be
	// dropped anyway instead of generating a second opener.
	second, err := f.engine.ResumeFromJob(ctx, job)
	require.NoError(t, err)
	assert.False(t, second.Processed)
	assert.Equal(t, "stale_resume", second.Reason)
	assert.Empty(t, second.Responses)
	assert.Len(t, f.generator.Requests, 1)
}

func TestInboundReplyCancelsScheduledWait(t *testing.T) {
	f := newFixture(t)
	f.seed(t, inviteFlowAgent())
	ctx := context.Background()

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)

	_, err = f.engine.ProcessEvent(ctx, "conv-1", models.EventInviteAccepted, nil)
	require.NoError(t, err)
	require.Len(t, f.scheduler.Pending(), 1)

	result, err := f.engine.ProcessEvent(ctx, "conv-1", models.EventMessageReceived,
		map[string]any{"message": "Vi sim, pode falar"})
	require.NoError(t, err)

	assert.True(t, result.Processed)
	assert.True(t, result.Completed)
	assert.Empty(t, f.scheduler.Pending())
	assert.Equal(t, 2, f.messenger.SentCount())
}

func conversationStepAgent(maxMessages float64) *models.AgentDefinition {
	return &models.AgentDefinition{
		ID:        "agent-1",
		AccountID: "acct-1",
		Name:      "Qualifier",
		Enabled:   true,
		Nodes: []*models.Node{
			{ID: "t1", Type: models.NodeTypeTrigger, Data: map[string]any{"event": "message_received"}},
			{ID: "s1", Type: models.NodeTypeConversationStep, Data: map[string]any{
				"instructions":   "Descubra o cargo do lead",
				"objective":      "Lead informou o cargo",
				"hasMaxMessages": true,
				"maxMessages":    maxMessages,
			}},
			{ID: "ok", Type: models.NodeTypeAction, ActionType: models.ActionSendMessage,
				Data: map[string]any{"message": "Perfeito, vou te mostrar como funciona."}},
			{ID: "giveup", Type: models.NodeTypeAction, ActionType: models.ActionCloseNegative,
				Data: map[string]any{}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "t1", Target: "s1"},
			{ID: "e2", Source: "s1", Target: "ok", Label: models.EdgeLabelSuccess},
			{ID: "e3", Source: "s1", Target: "giveup", Label: models.EdgeLabelFailure},
		},
	}
}

func TestConversationStepSendsOpenerThenAdvances(t *testing.T) {
	f := newFixture(t)
	f.seed(t, conversationStepAgent(3))
	ctx := context.Background()

	f.generator.Results = []collab.GenerationResult{
		{Response: "Qual seu cargo atual?"},
		{Response: "", Advance: true},
	}

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventMessageReceived)
	require.NoError(t, err)

	// First inbound message reaches the step for the first time: the
	// opener goes out and the workflow waits at the same node.
	result, err := f.engine.ProcessEvent(ctx, "conv-1", models.EventMessageReceived,
		map[string]any{"message": "oi"})
	require.NoError(t, err)

	assert.True(t, result.Paused)
	assert.Equal(t, models.PauseReasonWaitingForResponse, result.PauseReason)
	assert.Equal(t, "s1", result.ResumeNodeID)
	require.Len(t, result.Responses, 1)
	assert.Equal(t, "Qual seu cargo atual?", result.Responses[0].Content)

	// The reply satisfies the objective: no step response, the success
	// branch speaks instead.
	result, err = f.engine.ProcessEvent(ctx, "conv-1", models.EventMessageReceived,
		map[string]any{"message": "Sou diretora de vendas"})
	require.NoError(t, err)

	assert.True(t, result.Completed)
	require.Len(t, result.Responses, 1)
	assert.Equal(t, "Perfeito, vou te mostrar como funciona.", result.Responses[0].Content)

	state, err := f.store.WorkflowStates().Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusCompleted, state.Status)
}

func TestConversationStepFailureEdgeAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	f.seed(t, conversationStepAgent(1))
	ctx := context.Background()

	f.generator.Results = []collab.GenerationResult{
		{Response: "Qual seu cargo atual?"},
		{Response: "Entendi. E qual seu cargo?", Advance: false},
	}

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventMessageReceived)
	require.NoError(t, err)

	_, err = f.engine.ProcessEvent(ctx, "conv-1", models.EventMessageReceived,
		map[string]any{"message": "oi"})
	require.NoError(t, err)

	// One evaluation attempt allowed; the non-advancing reply exhausts it
	// and the failure edge closes the conversation.
	result, err := f.engine.ProcessEvent(ctx, "conv-1", models.EventMessageReceived,
		map[string]any{"message": "prefiro não dizer"})
	require.NoError(t, err)

	assert.True(t, result.Completed)

	conversation, err := f.store.Conversations().GetByID(ctx, "conv-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConversationStatusClosed, conversation.Status)
	assert.Equal(t, "negative", conversation.CloseReason)
}

func TestConditionRoutesByLeadData(t *testing.T) {
	f := newFixture(t)

	agent := &models.AgentDefinition{
		ID:        "agent-1",
		AccountID: "acct-1",
		Name:      "Router",
		Enabled:   true,
		Nodes: []*models.Node{
			{ID: "t1", Type: models.NodeTypeTrigger, Data: map[string]any{"event": "message_received"}},
			{ID: "c1", Type: models.NodeTypeCondition, Data: map[string]any{"conditionType": "has_email"}},
			{ID: "tag", Type: models.NodeTypeAction, ActionType: models.ActionAddTag,
				Data: map[string]any{"tags": []any{"has-email"}}},
			{ID: "close", Type: models.NodeTypeAction, ActionType: models.ActionCloseNegative,
				Data: map[string]any{}},
		},
		Edges: []*models.Edge{
			{ID: "e1", Source: "t1", Target: "c1"},
			{ID: "e2", Source: "c1", Target: "tag", Label: models.EdgeLabelYes},
			{ID: "e3", Source: "c1", Target: "close", Label: models.EdgeLabelNo},
		},
	}
	f.seed(t, agent)
	ctx := context.Background()

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventMessageReceived)
	require.NoError(t, err)

	result, err := f.engine.ProcessEvent(ctx, "conv-1", models.EventMessageReceived,
		map[string]any{"message": "oi"})
	require.NoError(t, err)

	assert.True(t, result.Completed)

	tags, err := f.store.Tags().List(ctx, "lead-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"has-email"}, tags)

	conversation, err := f.store.Conversations().GetByID(ctx, "conv-1")
	require.NoError(t, err)
	assert.NotEqual(t, models.ConversationStatusClosed, conversation.Status)
}

func TestTransferTriggerEscalatesBeforeGraph(t *testing.T) {
	f := newFixture(t)

	agent := inviteFlowAgent()
	agent.TransferTriggers = []string{"price"}
	agent.TransferMessage = "Vou te conectar com um especialista."
	f.seed(t, agent)

	ctx := context.Background()
	require.NoError(t, f.store.Agents().SaveAssignees(ctx, "agent-1", []*models.Assignee{
		{UserID: "u1", Active: true, Order: 0},
	}))

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)

	result, err := f.engine.ProcessEvent(ctx, "conv-1", models.EventMessageReceived,
		map[string]any{"message": "Qual o preço do plano?"})
	require.NoError(t, err)

	assert.True(t, result.Processed)
	assert.True(t, result.HandedOff)
	assert.Equal(t, "trigger_price", result.Reason)
	assert.Empty(t, result.ExecutedNodes)

	conversation, err := f.store.Conversations().GetByID(ctx, "conv-1")
	require.NoError(t, err)
	assert.False(t, conversation.AutomationActive)
	assert.Equal(t, models.ConversationStatusManual, conversation.Status)
	assert.Equal(t, "u1", conversation.AssignedUserID)
}

func TestMissingAgentCancelsJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.store.WorkflowStates().Save(ctx, &models.WorkflowState{
		ConversationID: "conv-1",
		AgentID:        "gone",
		Status:         models.WorkflowStatusActive,
	}))
	require.NoError(t, f.scheduler.Enqueue(ctx, &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: "conv-1",
		NodeID:         "n1",
		ScheduledFor:   time.Now().Add(time.Hour),
	}))

	_, err := f.engine.ProcessEvent(ctx, "conv-1", models.EventMessageReceived, nil)
	require.ErrorIs(t, err, engine.ErrAgentGone)

	assert.Empty(t, f.scheduler.Pending())
}

func TestActionFailureAbortsWithoutRollback(t *testing.T) {
	f := newFixture(t)
	f.seed(t, inviteFlowAgent())
	f.messenger.FailSends = 1
	ctx := context.Background()

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)

	_, err = f.engine.ProcessEvent(ctx, "conv-1", models.EventInviteAccepted, nil)
	require.ErrorIs(t, err, engine.ErrNodeFailed)

	state, err := f.store.WorkflowStates().Get(ctx, "conv-1")
	require.NoError(t, err)

	// State is kept as-is for retry: trigger and the failed node are
	// recorded, the workflow is still active.
	assert.Equal(t, models.WorkflowStatusActive, state.Status)
	require.Len(t, state.StepHistory, 2)
	assert.Equal(t, "a1", state.StepHistory[1].NodeID)
	assert.NotEmpty(t, state.StepHistory[1].Error)
}

func TestPausedWorkflowIgnoresNonResumeEvents(t *testing.T) {
	f := newFixture(t)
	f.seed(t, inviteFlowAgent())
	ctx := context.Background()

	_, err := f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)

	_, err = f.engine.ProcessEvent(ctx, "conv-1", models.EventInviteAccepted, nil)
	require.NoError(t, err)

	result, err := f.engine.ProcessEvent(ctx, "conv-1", models.EventManualStart, nil)
	require.NoError(t, err)

	assert.False(t, result.Processed)
	assert.Equal(t, 1, f.messenger.SentCount())
}

func TestAutomationDisabledConversationIsSkipped(t *testing.T) {
	f := newFixture(t)
	f.seed(t, inviteFlowAgent())
	ctx := context.Background()

	conversation, err := f.store.Conversations().GetByID(ctx, "conv-1")
	require.NoError(t, err)
	conversation.AutomationActive = false
	require.NoError(t, f.store.Conversations().Save(ctx, conversation))

	_, err = f.engine.InitializeWorkflow(ctx, "conv-1", "agent-1", models.EventInviteAccepted)
	require.NoError(t, err)

	result, err := f.engine.ProcessEvent(ctx, "conv-1", models.EventInviteAccepted, nil)
	require.NoError(t, err)

	assert.False(t, result.Processed)
	assert.Equal(t, "automation_disabled", result.Reason)
	assert.Zero(t, f.messenger.SentCount())
}
