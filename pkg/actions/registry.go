// Package actions implements the executors behind action nodes. Each action
// type has fixed control-flow flags; the registry dispatches on the closed
// ActionType set so an unhandled type is a compile-time review failure, not
// a runtime lookup miss.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/outflowhq/outflow/pkg/collab"
	"github.com/outflowhq/outflow/pkg/models"
	"github.com/outflowhq/outflow/pkg/persistence"
	"github.com/outflowhq/outflow/pkg/rotation"
)

// Registry executes action nodes against the outside world.
type Registry struct {
	persistence persistence.Persistence
	messenger   collab.Messenger
	mailer      collab.Mailer
	handoff     *rotation.HandoffService
	httpClient  *http.Client
	logger      *slog.Logger
}

type Config struct {
	Persistence persistence.Persistence
	Messenger   collab.Messenger
	Mailer      collab.Mailer
	Handoff     *rotation.HandoffService
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func NewRegistry(cfg Config) *Registry {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Registry{
		persistence: cfg.Persistence,
		messenger:   cfg.Messenger,
		mailer:      cfg.Mailer,
		handoff:     cfg.Handoff,
		httpClient:  client,
		logger:      cfg.Logger.With("module", "actions"),
	}
}

// Execute runs the node's action and returns the execution result. Executor
// failures are reported inside the result, not as the error return; the
// error return is reserved for undispatchable nodes.
func (r *Registry) Execute(ctx context.Context, node *models.Node, execCtx *models.ExecutionContext) (models.ActionExecutionResult, error) {
	actionType := node.ActionType

	flags := actionType.Flags()
	result := models.ActionExecutionResult{
		ActionType:     actionType,
		HasOutput:      flags.HasOutput,
		EndsBranch:     flags.EndsBranch,
		PausesWorkflow: flags.PausesWorkflow,
	}

	started := time.Now()

	r.logger.InfoContext(ctx, "Executing action",
		"action_type", actionType,
		"node_id", node.ID,
		"conversation_id", execCtx.ConversationID,
		"test_mode", execCtx.IsTestMode,
	)

	output, err := r.dispatch(ctx, node, execCtx, &result)

	result.DurationMs = time.Since(started).Milliseconds()

	if err != nil {
		result.Success = false
		result.Error = err.Error()

		r.logger.ErrorContext(ctx, "Action failed",
			"action_type", actionType,
			"node_id", node.ID,
			"error", err,
		)

		return result, nil
	}

	result.Success = true
	result.Result = output

	r.logger.InfoContext(ctx, "Action completed",
		"action_type", actionType,
		"node_id", node.ID,
		"duration_ms", result.DurationMs,
	)

	return result, nil
}

func (r *Registry) dispatch(
	ctx context.Context,
	node *models.Node,
	execCtx *models.ExecutionContext,
	result *models.ActionExecutionResult,
) (map[string]any, error) {
	params := node.Data

	switch node.ActionType {
	case models.ActionTransfer:
		return r.executeTransfer(ctx, params, execCtx)
	case models.ActionSendMessage:
		return r.executeSendMessage(ctx, params, execCtx, result)
	case models.ActionSchedule:
		return r.executeSchedule(ctx, params, execCtx)
	case models.ActionAddTag:
		return r.executeAddTag(ctx, params, execCtx)
	case models.ActionRemoveTag:
		return r.executeRemoveTag(ctx, params, execCtx)
	case models.ActionClosePositive:
		return r.executeClose(ctx, params, execCtx, true)
	case models.ActionCloseNegative:
		return r.executeClose(ctx, params, execCtx, false)
	case models.ActionAssignAgent:
		return r.executeAssignAgent(ctx, params, execCtx)
	case models.ActionSendEmail:
		return r.executeSendEmail(ctx, params, execCtx)
	case models.ActionWebhook:
		return r.executeWebhook(ctx, params, execCtx)
	case models.ActionHTTPRequest:
		return r.executeHTTPRequest(ctx, params, execCtx, result)
	case models.ActionPause, models.ActionWait:
		return r.executePause(ctx, node, params, execCtx, result)
	case models.ActionCreateOpportunity:
		return r.executeCreateOpportunity(ctx, params, execCtx)
	case models.ActionMoveStage:
		return r.executeMoveStage(ctx, params, execCtx)
	default:
		return nil, fmt.Errorf("unknown action type %q", node.ActionType)
	}
}

func stringParam(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := params[key].(string); ok && value != "" {
			return value
		}
	}

	return ""
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	value, ok := params[key].(bool)
	if !ok {
		return fallback
	}

	return value
}
