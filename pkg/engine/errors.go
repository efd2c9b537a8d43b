package engine

import "errors"

var (
	// ErrNoWorkflow means the conversation has no workflow state and the
	// event cannot initialize one.
	ErrNoWorkflow = errors.New("no workflow for conversation")

	// ErrAgentGone means the agent definition referenced by the workflow no
	// longer exists. Jobs for the conversation are cancelled instead of
	// retried.
	ErrAgentGone = errors.New("agent definition no longer exists")

	// ErrStateInconsistent means the persisted state points at a node that
	// cannot be located in the agent's graph. The engine regenerates the
	// state from the trigger node instead of failing.
	ErrStateInconsistent = errors.New("workflow state inconsistent with graph")

	// ErrNodeFailed wraps an action executor failure after it has been
	// recorded in the step history. The branch is aborted, state is kept.
	ErrNodeFailed = errors.New("node execution failed")
)
