// Package engine walks per-conversation workflow graphs, delegating side
// effects to the action registry and suspending into durable scheduler jobs
// between events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/outflowhq/outflow/pkg/actions"
	"github.com/outflowhq/outflow/pkg/collab"
	"github.com/outflowhq/outflow/pkg/eventbus"
	"github.com/outflowhq/outflow/pkg/events"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/otelhelper"
	"github.com/outflowhq/outflow/pkg/persistence"
	"github.com/outflowhq/outflow/pkg/rotation"
	"github.com/outflowhq/outflow/pkg/scheduler"
)

// unlimitedAttempts stands in for "no max configured" on conversation steps.
const unlimitedAttempts = 9999

// ExecutedNode is one traversal entry of a ProcessResult.
type ExecutedNode struct {
	NodeID   string          `json:"node_id"`
	NodeType models.NodeType `json:"node_type"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
}

// Response is one outbound message produced during a pass. Multiple nodes
// may each contribute one. Action nodes deliver through the registry and
// report Delivered; generated step responses carry Delivered false and the
// caller must send and persist them.
type Response struct {
	NodeID    string `json:"node_id"`
	Content   string `json:"content"`
	Delivered bool   `json:"delivered"`
}

// ProcessResult reports what one event did to a conversation's workflow.
type ProcessResult struct {
	Processed bool   `json:"processed"`
	Reason    string `json:"reason,omitempty"`

	ExecutedNodes []ExecutedNode `json:"executed_nodes,omitempty"`
	Responses     []Response     `json:"responses,omitempty"`

	Paused       bool   `json:"paused"`
	Completed    bool   `json:"completed"`
	HandedOff    bool   `json:"handed_off,omitempty"`
	PauseReason  string `json:"pause_reason,omitempty"`
	ResumeNodeID string `json:"resume_node_id,omitempty"`
	FinalNodeID  string `json:"final_node_id,omitempty"`

	DurationMs int64 `json:"duration_ms"`
}

type Engine struct {
	persistence persistence.Persistence
	registry    *actions.Registry
	generator   collab.Generator
	handoff     *rotation.HandoffService
	scheduler   scheduler.Scheduler
	publisher   eventbus.EventPublisher
	logger      *slog.Logger
	tracer      trace.Tracer
	workerID    string
}

type Config struct {
	Persistence persistence.Persistence
	Registry    *actions.Registry
	Generator   collab.Generator
	Handoff     *rotation.HandoffService
	Scheduler   scheduler.Scheduler
	Publisher   eventbus.EventPublisher
	Logger      *slog.Logger
	WorkerID    string
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		persistence: cfg.Persistence,
		registry:    cfg.Registry,
		generator:   cfg.Generator,
		handoff:     cfg.Handoff,
		scheduler:   cfg.Scheduler,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger.With("module", "engine"),
		tracer:      otelhelper.Tracer("engine"),
		workerID:    cfg.WorkerID,
	}
}

// InitializeWorkflow creates the workflow state for a conversation, anchored
// at the trigger node gating triggerEvent. Exactly one state row exists per
// conversation; calling this again returns the existing row untouched.
func (e *Engine) InitializeWorkflow(
	ctx context.Context,
	conversationID, agentID string,
	triggerEvent models.ConversationEvent,
) (*models.WorkflowState, error) {
	existing, err := e.persistence.WorkflowStates().Get(ctx, conversationID)
	if err == nil {
		return existing, nil
	}

	if !errors.Is(err, persistence.ErrWorkflowStateNotFound) {
		return nil, fmt.Errorf("failed to load workflow state: %w", err)
	}

	agent, err := e.loadAgent(ctx, conversationID, agentID)
	if err != nil {
		return nil, err
	}

	trigger := agent.TriggerFor(string(triggerEvent))

	now := time.Now().UTC()
	state := &models.WorkflowState{
		ConversationID: conversationID,
		AgentID:        agentID,
		Status:         models.WorkflowStatusActive,
		Variables:      map[string]any{},
		StepHistory:    []models.StepRecord{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if trigger != nil {
		state.CurrentNodeID = trigger.ID
	}

	err = e.persistence.WorkflowStates().Save(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("failed to save workflow state: %w", err)
	}

	e.logger.InfoContext(ctx, "Workflow initialized",
		"conversation_id", conversationID,
		"agent_id", agentID,
		"trigger_node", state.CurrentNodeID,
	)

	e.publish(ctx, conversationID, events.WorkflowInitialized{
		BaseEvent:   e.baseEvent(events.WorkflowInitializedEvent, conversationID, agentID),
		Event:       triggerEvent,
		TriggerNode: state.CurrentNodeID,
	})

	return state, nil
}

// ProcessEvent advances the conversation's workflow for one event. Resume
// class events continue a paused workflow from its resume node; other events
// against a paused workflow are dropped.
func (e *Engine) ProcessEvent(
	ctx context.Context,
	conversationID string,
	event models.ConversationEvent,
	payload map[string]any,
) (*ProcessResult, error) {
	started := time.Now()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.process_event",
		attribute.String(otelhelper.ConversationIDKey, conversationID),
		attribute.String(otelhelper.EventKey, string(event)),
	)
	defer span.End()

	state, err := e.persistence.WorkflowStates().Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowStateNotFound) {
			return &ProcessResult{Reason: "no_workflow_state"}, nil
		}

		return nil, fmt.Errorf("failed to load workflow state: %w", err)
	}

	if state.Status == models.WorkflowStatusCompleted {
		return &ProcessResult{Reason: "workflow_completed"}, nil
	}

	agent, err := e.loadAgent(ctx, conversationID, state.AgentID)
	if err != nil {
		return nil, err
	}

	execCtx, conversation, err := e.buildExecutionContext(ctx, conversationID, state, agent, event, payload)
	if err != nil {
		return nil, err
	}

	if conversation != nil && !conversation.AutomationActive {
		return &ProcessResult{Reason: "automation_disabled"}, nil
	}

	// Keyword escalation outranks the graph: a matching inbound message
	// hands the conversation to a human instead of advancing nodes.
	if event == models.EventMessageReceived && execCtx.Message != "" && e.handoff != nil {
		match := rotation.CheckTransferTriggers(execCtx.Message, agent)
		if match.ShouldTransfer {
			_, err = e.handoff.ExecuteHandoff(ctx, conversationID, agent, match.Reason, match.Matched)
			if err != nil {
				return nil, fmt.Errorf("failed to execute handoff: %w", err)
			}

			return &ProcessResult{
				Processed:  true,
				HandedOff:  true,
				Reason:     match.Reason,
				DurationMs: time.Since(started).Milliseconds(),
			}, nil
		}
	}

	startNode, resumed, err := e.resolveStartNode(ctx, state, agent, event)
	if err != nil {
		return nil, err
	}

	if startNode == nil {
		return &ProcessResult{Reason: "no_node_for_event"}, nil
	}

	if resumed {
		state.Status = models.WorkflowStatusActive
		state.ResumeNodeID = ""
		state.PausedReason = ""
		state.PausedUntil = nil

		e.publish(ctx, conversationID, events.WorkflowResumed{
			BaseEvent:    e.baseEvent(events.WorkflowResumedEvent, conversationID, state.AgentID),
			Event:        event,
			ResumeNodeID: startNode.ID,
		})
	}

	if startNode.IsTrigger() {
		state.Pass++
	}

	result, err := e.run(ctx, agent, state, execCtx, startNode)
	if result != nil {
		result.DurationMs = time.Since(started).Milliseconds()
	}

	if err != nil {
		otelhelper.SetError(span, err)
	}

	return result, err
}

// ResumeFromJob handles a delivered resume job. A job whose node snapshot no
// longer matches the persisted resume node is stale (the workflow moved on,
// usually because the lead replied first) and is dropped without effect.
func (e *Engine) ResumeFromJob(ctx context.Context, job *models.ScheduledJob) (*ProcessResult, error) {
	state, err := e.persistence.WorkflowStates().Get(ctx, job.ConversationID)
	if err != nil {
		if errors.Is(err, persistence.ErrWorkflowStateNotFound) {
			return &ProcessResult{Reason: "no_workflow_state"}, nil
		}

		return nil, fmt.Errorf("failed to load workflow state: %w", err)
	}

	if state.Status != models.WorkflowStatusPaused || state.ResumeNodeID != job.NodeID {
		e.logger.InfoContext(ctx, "Dropping stale resume job",
			"conversation_id", job.ConversationID,
			"job_node", job.NodeID,
			"resume_node", state.ResumeNodeID,
			"status", state.Status,
		)

		return &ProcessResult{Reason: "stale_resume"}, nil
	}

	// Only wait-action pauses schedule resume jobs. A workflow paused on a
	// conversation step wakes on the lead's reply, so a lingering resume job
	// that arrives while we wait for one must not replay the step.
	if state.PausedReason == models.PauseReasonWaitingForResponse {
		e.logger.InfoContext(ctx, "Dropping resume job for conversation awaiting reply",
			"conversation_id", job.ConversationID,
			"job_node", job.NodeID,
		)

		return &ProcessResult{Reason: "stale_resume"}, nil
	}

	return e.ProcessEvent(ctx, job.ConversationID, models.EventResume, job.Payload)
}

// resolveStartNode picks where traversal begins. Paused workflows continue
// from the resume node for resume-class events; otherwise the current node
// or the trigger gating the event. A dangling node reference regenerates the
// state from the trigger instead of failing.
func (e *Engine) resolveStartNode(
	ctx context.Context,
	state *models.WorkflowState,
	agent *models.AgentDefinition,
	event models.ConversationEvent,
) (*models.Node, bool, error) {
	if state.Status == models.WorkflowStatusPaused {
		if !event.ResumeClass() {
			return nil, false, nil
		}

		// An inbound reply makes a scheduled timer resume obsolete.
		if event == models.EventMessageReceived && state.PausedUntil != nil {
			err := e.scheduler.CancelByConversation(ctx, state.ConversationID)
			if err != nil {
				e.logger.WarnContext(ctx, "Failed to cancel scheduled jobs",
					"conversation_id", state.ConversationID, "error", err)
			}
		}

		node := agent.FindNode(state.ResumeNodeID)
		if node != nil {
			return node, true, nil
		}

		return e.regenerate(ctx, state, agent, event, state.ResumeNodeID)
	}

	if state.CurrentNodeID != "" {
		node := agent.FindNode(state.CurrentNodeID)
		if node != nil {
			return node, false, nil
		}

		return e.regenerate(ctx, state, agent, event, state.CurrentNodeID)
	}

	return agent.TriggerFor(string(event)), false, nil
}

// regenerate resets an inconsistent state back to the trigger node so the
// conversation recovers instead of crashing on every event.
func (e *Engine) regenerate(
	ctx context.Context,
	state *models.WorkflowState,
	agent *models.AgentDefinition,
	event models.ConversationEvent,
	missingNodeID string,
) (*models.Node, bool, error) {
	e.logger.WarnContext(ctx, "Workflow state references unknown node, regenerating",
		"conversation_id", state.ConversationID,
		"node_id", missingNodeID,
		"error", ErrStateInconsistent,
	)

	trigger := agent.TriggerFor(string(event))
	if trigger == nil {
		return nil, false, nil
	}

	state.Status = models.WorkflowStatusActive
	state.CurrentNodeID = trigger.ID
	state.ResumeNodeID = ""
	state.PausedReason = ""
	state.PausedUntil = nil

	return trigger, false, nil
}

//nolint:gocognit // node dispatch is one loop on purpose
func (e *Engine) run(
	ctx context.Context,
	agent *models.AgentDefinition,
	state *models.WorkflowState,
	execCtx *models.ExecutionContext,
	start *models.Node,
) (*ProcessResult, error) {
	result := &ProcessResult{Processed: true}
	node := start

	for node != nil {
		e.logger.DebugContext(ctx, "Executing node",
			"conversation_id", state.ConversationID,
			"node_id", node.ID,
			"node_type", node.Type,
		)

		var next *models.Node

		switch {
		case node.IsTrigger():
			e.record(ctx, state, result, node, models.StepRecord{
				Result: map[string]any{"event": string(execCtx.Event), "matched": true},
			})

			next = e.stepNext(agent, node.ID, "")

		case node.IsCondition():
			stats := e.conversationStats(ctx, state.ConversationID)
			evaluated := EvaluateCondition(node, execCtx, stats)

			e.record(ctx, state, result, node, models.StepRecord{
				Result: map[string]any{"path": evaluated.Path, "reason": evaluated.Reason},
			})

			next = agent.NextNode(node.ID, evaluated.Path)

		case node.IsConversationStep():
			var (
				done bool
				err  error
			)

			next, done, err = e.runConversationStep(ctx, agent, state, execCtx, node, result)
			if err != nil {
				return result, err
			}

			if done {
				return result, nil
			}

		case node.IsAction():
			var err error

			next, err = e.runAction(ctx, agent, state, execCtx, node, result)
			if err != nil {
				return result, err
			}

			if result.Paused || result.Completed {
				return result, nil
			}

		default:
			e.logger.WarnContext(ctx, "Unknown node type, skipping",
				"node_id", node.ID, "node_type", node.Type)

			next = e.stepNext(agent, node.ID, "")
		}

		if next == nil {
			return result, e.complete(ctx, state, result, node.ID)
		}

		state.CurrentNodeID = next.ID

		err := e.persistence.WorkflowStates().Save(ctx, state)
		if err != nil {
			return result, fmt.Errorf("failed to save workflow state: %w", err)
		}

		node = next
	}

	return result, nil
}

// runConversationStep drives one generate-evaluate cycle. The first
// execution sends the opening message and pauses at the same node; later
// executions with an inbound message either advance on success, retry with a
// fresh response, or follow the failure edge once attempts run out.
func (e *Engine) runConversationStep(
	ctx context.Context,
	agent *models.AgentDefinition,
	state *models.WorkflowState,
	execCtx *models.ExecutionContext,
	node *models.Node,
	result *ProcessResult,
) (*models.Node, bool, error) {
	if e.generator == nil {
		e.record(ctx, state, result, node, models.StepRecord{Error: collab.ErrNoGenerator.Error()})

		return nil, false, collab.ErrNoGenerator
	}

	executedBefore := state.HasExecuted(node.ID)

	instructions, _ := node.Data["instructions"].(string)
	objective, _ := node.Data["objective"].(string)

	generated, err := e.generator.Generate(ctx, collab.GenerationRequest{
		ConversationID: state.ConversationID,
		AgentID:        agent.ID,
		Message:        execCtx.Message,
		Instructions:   instructions,
		Objective:      objective,
		Data:           execCtx.Variables,
	})
	if err != nil {
		e.record(ctx, state, result, node, models.StepRecord{Error: err.Error()})
		result.Reason = "generation_failed"

		return nil, false, fmt.Errorf("%w: node %s: %w", ErrNodeFailed, node.ID, err)
	}

	// First contact at this node, or a timer landed here without a reply:
	// send the generated opener and wait for the lead.
	if !executedBefore || execCtx.Message == "" {
		result.Responses = append(result.Responses, Response{NodeID: node.ID, Content: generated.Response})

		e.record(ctx, state, result, node, models.StepRecord{
			Result:     map[string]any{"response": generated.Response},
			HadMessage: false,
		})

		e.pause(ctx, state, result, models.PauseReasonWaitingForResponse, node.ID, nil)

		return nil, true, nil
	}

	attempt := state.EvaluationAttempts(node.ID) + 1
	maxAttempts := stepMaxAttempts(node)

	if generated.Advance {
		// Objective achieved. The next node speaks; this response is
		// discarded.
		e.record(ctx, state, result, node, models.StepRecord{
			Result:     map[string]any{"path": models.EdgeLabelSuccess, "advance": true, "attempt": attempt},
			HadMessage: true,
		})

		return e.stepNext(agent, node.ID, models.EdgeLabelSuccess), false, nil
	}

	result.Responses = append(result.Responses, Response{NodeID: node.ID, Content: generated.Response})

	if attempt >= maxAttempts {
		e.record(ctx, state, result, node, models.StepRecord{
			Result:     map[string]any{"path": models.EdgeLabelFailure, "advance": false, "attempt": attempt},
			HadMessage: true,
		})

		return e.stepNext(agent, node.ID, models.EdgeLabelFailure), false, nil
	}

	e.record(ctx, state, result, node, models.StepRecord{
		Result:     map[string]any{"response": generated.Response, "advance": false, "attempt": attempt},
		HadMessage: true,
	})

	e.pause(ctx, state, result, models.PauseReasonWaitingForResponse, node.ID, nil)

	return nil, true, nil
}

func (e *Engine) runAction(
	ctx context.Context,
	agent *models.AgentDefinition,
	state *models.WorkflowState,
	execCtx *models.ExecutionContext,
	node *models.Node,
	result *ProcessResult,
) (*models.Node, error) {
	// Duplicate job delivery must not repeat externally effectful actions.
	// A prior record in the current pass means the side effect happened;
	// skip straight to navigation.
	if !node.ActionType.SafelyRepeatable() && state.HasExecutedInPass(node.ID, state.Pass) {
		e.logger.InfoContext(ctx, "Skipping already executed action",
			"conversation_id", state.ConversationID,
			"node_id", node.ID,
			"action_type", node.ActionType,
			"pass", state.Pass,
		)

		return e.stepNext(agent, node.ID, e.recordedPath(state, node.ID)), nil
	}

	executed, err := e.registry.Execute(ctx, node, execCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to execute action %s: %w", node.ActionType, err)
	}

	e.record(ctx, state, result, node, models.StepRecord{
		Result: executionRecord(&executed),
		Error:  executed.Error,
	})

	if !executed.Success {
		result.Reason = "action_failed"

		e.publish(ctx, state.ConversationID, events.WorkflowFailed{
			BaseEvent: e.baseEvent(events.WorkflowFailedEvent, state.ConversationID, state.AgentID),
			NodeID:    node.ID,
			Error:     executed.Error,
		})

		return nil, fmt.Errorf("%w: node %s: %s", ErrNodeFailed, node.ID, executed.Error)
	}

	for key, value := range executed.Variables {
		execCtx.SetVariable(key, value)

		if state.Variables == nil {
			state.Variables = map[string]any{}
		}

		state.Variables[key] = value
	}

	if message, ok := executed.Result["message"].(string); ok && message != "" {
		result.Responses = append(result.Responses, Response{NodeID: node.ID, Content: message, Delivered: true})
	}

	if executed.PausesWorkflow {
		resume := e.stepNext(agent, node.ID, executed.Path)
		if resume == nil {
			return nil, e.complete(ctx, state, result, node.ID)
		}

		e.pause(ctx, state, result, models.PauseReasonWaitAction, resume.ID, executed.ResumeAt)
		e.enqueueResume(ctx, state, resume.ID, executed.ResumeAt)

		return nil, nil
	}

	if executed.EndsBranch {
		return nil, e.complete(ctx, state, result, node.ID)
	}

	return e.stepNext(agent, node.ID, executed.Path), nil
}

// stepNext resolves navigation, falling back to a single outgoing edge when
// no edge carries the wanted label.
func (e *Engine) stepNext(agent *models.AgentDefinition, nodeID, label string) *models.Node {
	next := agent.NextNode(nodeID, label)
	if next != nil {
		return next
	}

	edges := agent.EdgesFrom(nodeID)
	if len(edges) == 1 {
		return agent.FindNode(edges[0].Target)
	}

	return nil
}

// recordedPath retrieves the edge label a skipped branching action chose on
// its recorded execution.
func (e *Engine) recordedPath(state *models.WorkflowState, nodeID string) string {
	for i := len(state.StepHistory) - 1; i >= 0; i-- {
		record := state.StepHistory[i]
		if record.NodeID != nodeID || record.Pass != state.Pass {
			continue
		}

		if path, ok := record.Result["path"].(string); ok {
			return path
		}

		return ""
	}

	return ""
}

func (e *Engine) record(
	ctx context.Context,
	state *models.WorkflowState,
	result *ProcessResult,
	node *models.Node,
	record models.StepRecord,
) {
	record.NodeID = node.ID
	record.NodeType = node.Type
	record.ExecutedAt = time.Now().UTC()
	record.Pass = state.Pass

	state.StepHistory = append(state.StepHistory, record)
	state.UpdatedAt = record.ExecutedAt

	err := e.persistence.WorkflowStates().Save(ctx, state)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist step history",
			"conversation_id", state.ConversationID, "node_id", node.ID, "error", err)
	}

	result.ExecutedNodes = append(result.ExecutedNodes, ExecutedNode{
		NodeID:   node.ID,
		NodeType: node.Type,
		Success:  record.Error == "",
		Error:    record.Error,
	})
}

func (e *Engine) pause(
	ctx context.Context,
	state *models.WorkflowState,
	result *ProcessResult,
	reason, resumeNodeID string,
	until *time.Time,
) {
	state.Status = models.WorkflowStatusPaused
	state.PausedReason = reason
	state.ResumeNodeID = resumeNodeID
	state.PausedUntil = until
	state.UpdatedAt = time.Now().UTC()

	err := e.persistence.WorkflowStates().Save(ctx, state)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist paused state",
			"conversation_id", state.ConversationID, "error", err)
	}

	result.Paused = true
	result.PauseReason = reason
	result.ResumeNodeID = resumeNodeID

	e.publish(ctx, state.ConversationID, events.WorkflowPaused{
		BaseEvent:    e.baseEvent(events.WorkflowPausedEvent, state.ConversationID, state.AgentID),
		Reason:       reason,
		ResumeNodeID: resumeNodeID,
		ResumeAt:     until,
	})
}

func (e *Engine) enqueueResume(ctx context.Context, state *models.WorkflowState, resumeNodeID string, at *time.Time) {
	job := &models.ScheduledJob{
		Type:           models.JobTypeResumeWorkflow,
		ConversationID: state.ConversationID,
		AgentID:        state.AgentID,
		NodeID:         resumeNodeID,
	}
	if at != nil {
		job.ScheduledFor = *at
	}

	err := e.scheduler.Enqueue(ctx, job)
	if err != nil && !errors.Is(err, scheduler.ErrDuplicateJob) {
		e.logger.ErrorContext(ctx, "Failed to enqueue resume job",
			"conversation_id", state.ConversationID, "node_id", resumeNodeID, "error", err)
	}
}

func (e *Engine) complete(
	ctx context.Context,
	state *models.WorkflowState,
	result *ProcessResult,
	finalNodeID string,
) error {
	state.Status = models.WorkflowStatusCompleted
	state.CurrentNodeID = finalNodeID
	state.ResumeNodeID = ""
	state.PausedReason = ""
	state.PausedUntil = nil
	state.UpdatedAt = time.Now().UTC()

	err := e.persistence.WorkflowStates().Save(ctx, state)
	if err != nil {
		return fmt.Errorf("failed to save workflow state: %w", err)
	}

	result.Completed = true
	result.FinalNodeID = finalNodeID

	e.publish(ctx, state.ConversationID, events.WorkflowCompleted{
		BaseEvent:   e.baseEvent(events.WorkflowCompletedEvent, state.ConversationID, state.AgentID),
		FinalNodeID: finalNodeID,
		Duration:    time.Since(state.CreatedAt),
	})

	return nil
}

func (e *Engine) buildExecutionContext(
	ctx context.Context,
	conversationID string,
	state *models.WorkflowState,
	agent *models.AgentDefinition,
	event models.ConversationEvent,
	payload map[string]any,
) (*models.ExecutionContext, *models.Conversation, error) {
	execCtx := &models.ExecutionContext{
		ConversationID: conversationID,
		AgentID:        agent.ID,
		AccountID:      agent.AccountID,
		Event:          event,
	}

	if payload != nil {
		if message, ok := payload["message"].(string); ok {
			execCtx.Message = message
		}

		if testMode, ok := payload["test_mode"].(bool); ok {
			execCtx.IsTestMode = testMode
		}
	}

	if len(state.Variables) > 0 {
		execCtx.Variables = make(map[string]any, len(state.Variables))
		for key, value := range state.Variables {
			execCtx.Variables[key] = value
		}
	}

	conversation, err := e.persistence.Conversations().GetByID(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, persistence.ErrConversationNotFound) {
			return nil, nil, fmt.Errorf("failed to load conversation: %w", err)
		}

		return execCtx, nil, nil
	}

	if conversation.AccountID != "" {
		execCtx.AccountID = conversation.AccountID
	}

	if conversation.LeadID != "" {
		lead, err := e.persistence.Leads().GetByID(ctx, conversation.LeadID)
		if err == nil {
			execCtx.Lead = lead
		} else if !errors.Is(err, persistence.ErrLeadNotFound) {
			return nil, nil, fmt.Errorf("failed to load lead: %w", err)
		}
	}

	return execCtx, conversation, nil
}

func (e *Engine) conversationStats(ctx context.Context, conversationID string) ConversationStats {
	messages, err := e.persistence.Messages().ByConversation(ctx, conversationID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to load conversation messages",
			"conversation_id", conversationID, "error", err)

		return ConversationStats{}
	}

	stats := ConversationStats{TotalMessages: len(messages)}

	for _, message := range messages {
		if message.Sender == "lead" {
			stats.LeadMessages++
		}

		if stats.LastMessageAt == nil || message.SentAt.After(*stats.LastMessageAt) {
			sentAt := message.SentAt
			stats.LastMessageAt = &sentAt
		}
	}

	return stats
}

// loadAgent translates a missing agent into ErrAgentGone and cancels the
// conversation's scheduled jobs so they stop retrying against nothing.
func (e *Engine) loadAgent(ctx context.Context, conversationID, agentID string) (*models.AgentDefinition, error) {
	agent, err := e.persistence.Agents().GetByID(ctx, agentID)
	if err == nil {
		return agent, nil
	}

	if !errors.Is(err, persistence.ErrAgentNotFound) {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}

	if e.scheduler != nil {
		cancelErr := e.scheduler.CancelByConversation(ctx, conversationID)
		if cancelErr != nil {
			e.logger.WarnContext(ctx, "Failed to cancel jobs for missing agent",
				"conversation_id", conversationID, "error", cancelErr)
		}
	}

	return nil, fmt.Errorf("%w: %s", ErrAgentGone, agentID)
}

func (e *Engine) baseEvent(eventType events.EventType, conversationID, agentID string) events.BaseEvent {
	return events.BaseEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		ConversationID: conversationID,
		AgentID:        agentID,
		WorkerID:       e.workerID,
	}
}

func (e *Engine) publish(ctx context.Context, conversationID string, event eventbus.Event) {
	if e.publisher == nil {
		return
	}

	err := e.publisher.Publish(ctx, conversationID, event)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to publish event",
			"conversation_id", conversationID, "event_type", event.GetType(), "error", err)
	}
}

func stepMaxAttempts(node *models.Node) int {
	hasMax, _ := node.Data["hasMaxMessages"].(bool)
	if !hasMax {
		return unlimitedAttempts
	}

	configured := numberValue(node.Data["maxMessages"])
	if configured <= 0 {
		return unlimitedAttempts
	}

	return int(configured)
}

func executionRecord(executed *models.ActionExecutionResult) map[string]any {
	record := map[string]any{
		"success":     executed.Success,
		"action_type": string(executed.ActionType),
		"duration_ms": executed.DurationMs,
	}

	for key, value := range executed.Result {
		record[key] = value
	}

	if executed.Path != "" {
		record["path"] = executed.Path
	}

	return record
}
