package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// JobType identifies a durable job kind.
type JobType string

const (
	JobTypeResumeWorkflow JobType = "resume_workflow"
	JobTypeSendInvite     JobType = "send_invite"
	JobTypeProcessEvent   JobType = "process_event"
	JobTypeSweepInvites   JobType = "sweep_invites"
)

// ScheduledJob is the payload of one durable, possibly delayed job.
type ScheduledJob struct {
	ID             string            `json:"id"`
	Type           JobType           `json:"type"    validate:"required"`
	ConversationID string            `json:"conversation_id,omitempty"`
	AgentID        string            `json:"agent_id,omitempty"`
	AccountID      string            `json:"account_id,omitempty"`
	NodeID         string            `json:"node_id,omitempty"`
	Event          ConversationEvent `json:"event,omitempty"`
	Payload        map[string]any    `json:"payload,omitempty"`
	ScheduledFor   time.Time         `json:"scheduled_for"`
	Attempt        int               `json:"attempt"`
	EnqueuedAt     time.Time         `json:"enqueued_at"`
}

// JobID derives the deterministic job identity from the job's logical
// coordinates, so duplicate enqueue attempts collapse to one job.
func JobID(jobType JobType, conversationID, nodeID string) string {
	sum := sha256.Sum256([]byte(string(jobType) + "|" + conversationID + "|" + nodeID))

	return string(jobType) + "-" + hex.EncodeToString(sum[:8])
}

// DedupKey returns the job's deterministic identity.
func (j *ScheduledJob) DedupKey() string {
	return JobID(j.Type, j.ConversationID, j.NodeID)
}
