package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hupe1980/teamflow/core"
)

// HTTPOptions configures the HTTP dispatcher.
type HTTPOptions struct {
	// HTTPClient overrides the default client. A per-request deadline is
	// always enforced via context regardless of the client's own timeout.
	HTTPClient *http.Client
	// BaseURL is the execution service endpoint; request credentials may
	// override it per dispatch.
	BaseURL string
	// Path is the agent-run resource path on the execution service.
	Path string
}

// HTTPDispatcher invokes one unit of agent work on a remote agent-execution
// service over HTTP/JSON. It is the only collaborator this client talks to.
type HTTPDispatcher struct {
	client  *http.Client
	baseURL string
	path    string
}

// NewHTTPDispatcher creates a dispatcher for the execution service at baseURL.
func NewHTTPDispatcher(baseURL string, optFns ...func(o *HTTPOptions)) *HTTPDispatcher {
	opts := HTTPOptions{
		HTTPClient: &http.Client{Timeout: 5 * time.Minute},
		BaseURL:    baseURL,
		Path:       "/v1/agent-runs",
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &HTTPDispatcher{
		client:  opts.HTTPClient,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		path:    opts.Path,
	}
}

// runRequest is the wire form of one dispatch.
type runRequest struct {
	AgentRef        string         `json:"agent_ref"`
	Role            string         `json:"role,omitempty"`
	Input           string         `json:"input"`
	ContextSnapshot map[string]any `json:"context_snapshot,omitempty"`
	ExecutionID     string         `json:"execution_id"`
}

// runResponse is the wire form of a successful outcome.
type runResponse struct {
	Output string `json:"output"`
	Usage  struct {
		TokensIn  int64   `json:"tokens_in"`
		TokensOut int64   `json:"tokens_out"`
		CostUnits float64 `json:"cost_units"`
	} `json:"usage"`
}

// Dispatch implements core.Dispatcher. The deadline carried by ctx is
// enforced on the request independent of the callee's behavior. Timeouts,
// connectivity problems and 408/429/5xx responses surface as transient
// failures; all other non-2xx responses are permanent.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req core.DispatchRequest) (*core.DispatchOutcome, error) {
	base := d.baseURL
	if req.Credentials.BaseURL != "" {
		base = strings.TrimRight(req.Credentials.BaseURL, "/")
	}
	if base == "" {
		return nil, &core.PermanentDispatchError{Reason: "no execution service endpoint configured"}
	}

	body, err := json.Marshal(runRequest{
		AgentRef:        req.AgentRef,
		Role:            req.Role,
		Input:           req.Input,
		ContextSnapshot: req.ContextSnapshot,
		ExecutionID:     req.ExecutionID,
	})
	if err != nil {
		return nil, &core.PermanentDispatchError{Reason: "request encoding failed", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, base+d.path, bytes.NewReader(body))
	if err != nil {
		return nil, &core.PermanentDispatchError{Reason: "request construction failed", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Credentials.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credentials.APIKey)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &core.TransientDispatchError{Reason: "timeout", Cause: err}
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &core.TransientDispatchError{Reason: "connectivity", Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := fmt.Errorf("execution service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
		if retryableStatus(resp.StatusCode) {
			return nil, &core.TransientDispatchError{Reason: fmt.Sprintf("http %d", resp.StatusCode), Cause: cause}
		}
		return nil, &core.PermanentDispatchError{Reason: fmt.Sprintf("http %d", resp.StatusCode), Cause: cause}
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &core.PermanentDispatchError{Reason: "response decoding failed", Cause: err}
	}

	return &core.DispatchOutcome{
		Output: out.Output,
		Usage: core.Usage{
			TokensIn:  out.Usage.TokensIn,
			TokensOut: out.Usage.TokensOut,
			CostUnits: out.Usage.CostUnits,
		},
	}, nil
}

// retryableStatus reports whether the status code should trigger a retry.
func retryableStatus(statusCode int) bool {
	return statusCode == http.StatusRequestTimeout || // 408
		statusCode == http.StatusTooManyRequests || // 429
		statusCode >= 500
}
