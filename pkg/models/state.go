package models

import "time"

// WorkflowStatus is the lifecycle state of a conversation's workflow.
type WorkflowStatus string

const (
	WorkflowStatusActive    WorkflowStatus = "active"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
)

// Pause reasons persisted with a paused workflow.
const (
	PauseReasonWaitingForResponse = "waiting_for_response"
	PauseReasonWaitAction         = "wait_action"
)

// StepRecord is one entry of a workflow's ordered execution history.
type StepRecord struct {
	NodeID     string         `json:"node_id"`
	NodeType   NodeType       `json:"node_type"`
	ExecutedAt time.Time      `json:"executed_at"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`

	// Pass increments every time traversal restarts from a trigger node,
	// scoping the idempotency check to the current logical attempt.
	Pass int `json:"pass"`

	// HadMessage marks conversation-step entries that evaluated an actual
	// inbound message, as opposed to the initial outbound send.
	HadMessage bool `json:"had_message,omitempty"`
}

// WorkflowState is the persisted, resumable state of one conversation's
// workflow. Exactly one row exists per conversation; it is never deleted.
type WorkflowState struct {
	ConversationID string         `json:"conversation_id" validate:"required"`
	AgentID        string         `json:"agent_id"        validate:"required"`
	Status         WorkflowStatus `json:"status"          validate:"required"`
	CurrentNodeID  string         `json:"current_node_id,omitempty"`
	ResumeNodeID   string         `json:"resume_node_id,omitempty"`
	PausedReason   string         `json:"paused_reason,omitempty"`
	PausedUntil    *time.Time     `json:"paused_until,omitempty"`
	Pass           int            `json:"pass"`
	Variables      map[string]any `json:"variables,omitempty"`
	StepHistory    []StepRecord   `json:"step_history"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasExecutedInPass reports whether nodeID already ran in the given pass.
func (s *WorkflowState) HasExecutedInPass(nodeID string, pass int) bool {
	for i := len(s.StepHistory) - 1; i >= 0; i-- {
		record := s.StepHistory[i]
		if record.Pass < pass {
			return false
		}

		if record.NodeID == nodeID && record.Pass == pass {
			return true
		}
	}

	return false
}

// HasExecuted reports whether nodeID appears anywhere in the history.
func (s *WorkflowState) HasExecuted(nodeID string) bool {
	for _, record := range s.StepHistory {
		if record.NodeID == nodeID {
			return true
		}
	}

	return false
}

// EvaluationAttempts counts conversation-step evaluations of nodeID, not
// counting the initial outbound send.
func (s *WorkflowState) EvaluationAttempts(nodeID string) int {
	count := 0

	for _, record := range s.StepHistory {
		if record.NodeID == nodeID && record.HadMessage {
			count++
		}
	}

	return count
}
