package core

import "context"

// Credentials carries the shared API credentials forwarded to the external
// agent-execution service with every dispatch.
type Credentials struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
}

// DispatchRequest is one unit of work handed to the external agent-execution
// service. ContextSnapshot is a read-only copy of the shared context taken at
// input resolution time.
type DispatchRequest struct {
	ExecutionID     string         `json:"execution_id"`
	AgentRef        string         `json:"agent_ref"`
	Role            string         `json:"role,omitempty"`
	Input           string         `json:"input"`
	ContextSnapshot map[string]any `json:"context_snapshot,omitempty"`
	Credentials     Credentials    `json:"-"`
}

// DispatchOutcome is the successful result of one dispatched step.
type DispatchOutcome struct {
	Output string `json:"output"`
	Usage  Usage  `json:"usage"`
}

// Dispatcher is the boundary contract to the external agent-execution
// service. Implementations must enforce the deadline carried by ctx
// independent of the callee's behavior and must surface failures as
// *TransientDispatchError or *PermanentDispatchError so the strategy layer's
// retry policy can discriminate. A Dispatcher never aborts a run on its own;
// it only reports typed outcomes upward.
type Dispatcher interface {
	Dispatch(ctx context.Context, req DispatchRequest) (*DispatchOutcome, error)
}
