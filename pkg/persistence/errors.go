// Package persistence provides standardized error types for storage operations.
package persistence

import "errors"

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowStateNotFound indicates no state row exists for the conversation.
	ErrWorkflowStateNotFound = errors.New("workflow state not found")

	// ErrAgentNotFound indicates the agent definition no longer exists.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrConversationNotFound indicates the conversation was not found.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrLeadNotFound indicates the lead was not found.
	ErrLeadNotFound = errors.New("lead not found")

	// ErrAccountNotFound indicates the messaging account was not found.
	ErrAccountNotFound = errors.New("messaging account not found")

	// ErrRotationStateNotFound indicates no rotation state exists for the agent.
	ErrRotationStateNotFound = errors.New("rotation state not found")

	// ErrPipelineRecordNotFound indicates no pipeline record exists for the pair.
	ErrPipelineRecordNotFound = errors.New("pipeline record not found")
)
