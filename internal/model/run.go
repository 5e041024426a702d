package model

import (
	"github.com/weavehub/weave/internal/runstate"
	"github.com/weavehub/weave/internal/usage"
)

// RunError is the terminal error record attached to a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Run is one asynchronous attempt to produce an assistant reply for a
// thread. Created by the caller, exclusively mutated by the run engine
// thereafter. Terminal once status is completed, failed or cancelled.
type Run struct {
	ID           string            `json:"id"`
	ThreadID     string            `json:"thread_id"`
	AgentID      string            `json:"agent_id"`
	Model        string            `json:"model,omitempty"`
	Instructions string            `json:"instructions,omitempty"`
	Status       runstate.Status   `json:"status"`
	LastError    *RunError         `json:"last_error,omitempty"`
	Usage        *usage.Usage      `json:"usage,omitempty"`
	CreatedAt    string            `json:"created_at"`
	StartedAt    string            `json:"started_at,omitempty"`
	CompletedAt  string            `json:"completed_at,omitempty"`
	CancelledAt  string            `json:"cancelled_at,omitempty"`
	FailedAt     string            `json:"failed_at,omitempty"`
	Metadata     map[string]string `json:"metadata"`
}
