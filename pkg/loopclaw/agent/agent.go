// Package agent defines the bridge to the Agent Execution Service: the
// external process that actually runs the LLM agent against a workspace.
// The reasoning loop and tool catalog live entirely on the other side of
// this interface.
package agent

import "context"

// RunRequest describes one agent invocation.
type RunRequest struct {
	// RunID correlates streamed output with lifecycle events.
	RunID string

	// ConversationID identifies the conversation the run belongs to.
	ConversationID string

	// Workspace is the directory the agent operates in.
	Workspace string

	// Message is the fully rendered prompt.
	Message string

	// DisableApprovals runs the agent without human-in-the-loop
	// confirmation. Always true for automation-triggered runs.
	DisableApprovals bool

	// OnOutput, when non-nil, receives each line of agent output as it is
	// produced. Delivery is best effort.
	OnOutput func(line string)
}

// Executor runs agent invocations. Implementations must honor context
// cancellation by terminating the run.
type Executor interface {
	Run(ctx context.Context, req RunRequest) error
}
