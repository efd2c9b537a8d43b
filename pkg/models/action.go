package models

import (
	"fmt"
	"time"
)

// ActionType is the closed set of action node kinds. Adding a new kind means
// adding a constant here and an executor case in the actions registry; the
// exhaustive switches below fail compilation reviews otherwise.
type ActionType string

const (
	ActionTransfer          ActionType = "transfer"
	ActionSendMessage       ActionType = "send_message"
	ActionSchedule          ActionType = "schedule"
	ActionAddTag            ActionType = "add_tag"
	ActionRemoveTag         ActionType = "remove_tag"
	ActionClosePositive     ActionType = "close_positive"
	ActionCloseNegative     ActionType = "close_negative"
	ActionAssignAgent       ActionType = "assign_agent"
	ActionSendEmail         ActionType = "send_email"
	ActionWebhook           ActionType = "webhook"
	ActionHTTPRequest       ActionType = "http_request"
	ActionPause             ActionType = "pause"
	ActionWait              ActionType = "wait"
	ActionCreateOpportunity ActionType = "create_opportunity"
	ActionMoveStage         ActionType = "move_stage"
)

// ActionFlags drive the engine's control flow after an action executes.
// They are fixed per action type.
type ActionFlags struct {
	HasOutput      bool `json:"has_output"`
	EndsBranch     bool `json:"ends_branch"`
	PausesWorkflow bool `json:"pauses_workflow"`
}

// Flags returns the control-flow flags for the action type.
func (a ActionType) Flags() ActionFlags {
	switch a {
	case ActionTransfer:
		return ActionFlags{HasOutput: false, EndsBranch: true, PausesWorkflow: false}
	case ActionSendMessage, ActionSchedule:
		return ActionFlags{HasOutput: true, EndsBranch: false, PausesWorkflow: false}
	case ActionAddTag, ActionRemoveTag:
		return ActionFlags{HasOutput: true, EndsBranch: false, PausesWorkflow: false}
	case ActionClosePositive, ActionCloseNegative:
		return ActionFlags{HasOutput: false, EndsBranch: true, PausesWorkflow: false}
	case ActionAssignAgent, ActionSendEmail, ActionWebhook, ActionHTTPRequest:
		return ActionFlags{HasOutput: true, EndsBranch: false, PausesWorkflow: false}
	case ActionPause, ActionWait:
		return ActionFlags{HasOutput: true, EndsBranch: false, PausesWorkflow: true}
	case ActionCreateOpportunity, ActionMoveStage:
		return ActionFlags{HasOutput: true, EndsBranch: false, PausesWorkflow: false}
	default:
		return ActionFlags{HasOutput: true, EndsBranch: false, PausesWorkflow: false}
	}
}

// SafelyRepeatable reports whether re-executing the action under duplicate
// job delivery is harmless. Non-repeatable actions are skipped by the engine
// when a step record for the node already exists in the current pass.
func (a ActionType) SafelyRepeatable() bool {
	switch a {
	case ActionSendMessage, ActionSchedule, ActionSendEmail, ActionWebhook,
		ActionHTTPRequest, ActionTransfer:
		return false
	case ActionAddTag, ActionRemoveTag, ActionClosePositive, ActionCloseNegative,
		ActionAssignAgent, ActionPause, ActionWait,
		ActionCreateOpportunity, ActionMoveStage:
		return true
	default:
		return false
	}
}

// Branching reports whether the action routes by a success/error edge label
// instead of the unconditional edge.
func (a ActionType) Branching() bool {
	return a == ActionHTTPRequest
}

var actionTypes = map[string]ActionType{
	string(ActionTransfer):          ActionTransfer,
	string(ActionSendMessage):       ActionSendMessage,
	string(ActionSchedule):          ActionSchedule,
	string(ActionAddTag):            ActionAddTag,
	string(ActionRemoveTag):         ActionRemoveTag,
	string(ActionClosePositive):     ActionClosePositive,
	string(ActionCloseNegative):     ActionCloseNegative,
	string(ActionAssignAgent):       ActionAssignAgent,
	string(ActionSendEmail):         ActionSendEmail,
	string(ActionWebhook):           ActionWebhook,
	string(ActionHTTPRequest):       ActionHTTPRequest,
	string(ActionPause):             ActionPause,
	string(ActionWait):              ActionWait,
	string(ActionCreateOpportunity): ActionCreateOpportunity,
	string(ActionMoveStage):         ActionMoveStage,
}

// ParseActionType converts a raw definition string into an ActionType.
func ParseActionType(raw string) (ActionType, error) {
	actionType, ok := actionTypes[raw]
	if !ok {
		return "", fmt.Errorf("unknown action type %q", raw)
	}

	return actionType, nil
}

// ActionExecutionResult is the outcome of a single action node execution.
type ActionExecutionResult struct {
	Success    bool           `json:"success"`
	ActionType ActionType     `json:"action_type"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`

	HasOutput      bool `json:"has_output"`
	EndsBranch     bool `json:"ends_branch"`
	PausesWorkflow bool `json:"pauses_workflow"`

	// Path selects the outgoing edge label for branching actions
	// (http_request routes success/error by status class).
	Path string `json:"path,omitempty"`

	// ResumeAt is set by pause/wait actions.
	ResumeAt *time.Time `json:"resume_at,omitempty"`

	// WaitForResponse gates downstream progress on an inbound reply.
	WaitForResponse bool `json:"wait_for_response,omitempty"`

	// Variables extracted by the action (http_request dot-path extraction),
	// merged into the execution context by the engine.
	Variables map[string]any `json:"variables,omitempty"`
}
