package models

import "time"

// Assignee is one human operator in an agent's rotation, in rotation order.
type Assignee struct {
	UserID   string `json:"user_id"   validate:"required"`
	UserName string `json:"user_name"`
	Email    string `json:"email,omitempty"`
	Active   bool   `json:"active"`
	Order    int    `json:"order"`
}

// RotationState is the persisted round-robin position for one agent.
// Invariant: 0 <= CurrentPosition < number of active assignees whenever
// assignees exist.
type RotationState struct {
	AgentID            string    `json:"agent_id" validate:"required"`
	CurrentPosition    int       `json:"current_position"`
	LastAssignedUserID string    `json:"last_assigned_user_id,omitempty"`
	TotalAssignments   int64     `json:"total_assignments"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AssignmentRecord is an audit entry for one rotation assignment.
type AssignmentRecord struct {
	ID             string    `json:"id"`
	AgentID        string    `json:"agent_id"`
	UserID         string    `json:"user_id"`
	ConversationID string    `json:"conversation_id"`
	AssignedAt     time.Time `json:"assigned_at"`
}
