// Package teamflow provides a high-level façade over the execution
// coordinator and its collaborators (workflow compiler, shared context
// store, message bus, status channel & persistence) enabling rapid
// construction of multi-agent team executions. Most applications interact
// with this package by:
//  1. Creating a TeamFlow via New() with a dispatcher (optionally overriding
//     default in-memory services)
//  2. Submitting a workflow definition asynchronously (Submit) or
//     synchronously (SubmitAndWait)
//  3. Observing progress via Watch and collecting the result via GetResult
//
// The façade delegates orchestration to runner.Runner while keeping setup
// and usage ergonomics concise. All defaults are safe for local development
// and testing; production deployments typically supply a durable store
// implementation and a structured logger.
package teamflow

import (
	"context"
	"time"

	"github.com/hupe1980/teamflow/core"
	"github.com/hupe1980/teamflow/dispatch"
	"github.com/hupe1980/teamflow/logging"
	"github.com/hupe1980/teamflow/runner"
	"github.com/hupe1980/teamflow/status"
	"github.com/hupe1980/teamflow/store"
)

// Options configures the TeamFlow instance.
type Options struct {
	// MaxConcurrentExecutions limits the number of executions that drive
	// their strategy simultaneously. This prevents resource exhaustion and
	// provides backpressure. Set to 0 for unlimited (not recommended).
	MaxConcurrentExecutions int

	// EventBufferSize sets the channel buffer size for status event
	// subscribers. Larger buffers reduce event loss for slow consumers but
	// increase memory usage.
	EventBufferSize int

	// DefaultStepTimeout bounds steps that declare no timeout of their own.
	DefaultStepTimeout time.Duration

	// DefaultRetryPolicy applies to steps that declare no retry policy.
	DefaultRetryPolicy core.RetryPolicy

	// Credentials are forwarded verbatim on every dispatch request.
	Credentials core.Credentials

	// Store (defaults to an in-memory implementation if not provided)
	Store core.ExecutionStore

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// TeamFlow is the high-level façade aggregating the coordinator and its
// services.
type TeamFlow struct {
	opts   Options
	runner *runner.Runner
}

// New creates a new TeamFlow instance around the given dispatcher with
// optional overrides. Any unset service is initialized with an in-memory
// implementation.
func New(dispatcher core.Dispatcher, optFns ...func(o *Options)) *TeamFlow {
	opts := Options{
		MaxConcurrentExecutions: 10,
		EventBufferSize:         100,
		DefaultStepTimeout:      5 * time.Minute,
		DefaultRetryPolicy:      dispatch.DefaultRetryPolicy,
		Store:                   store.NewInMemoryStore(),
		Logger:                  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := runner.New(dispatcher, func(o *runner.Options) {
		o.MaxConcurrentExecutions = opts.MaxConcurrentExecutions
		o.EventBufferSize = opts.EventBufferSize
		o.DefaultStepTimeout = opts.DefaultStepTimeout
		o.DefaultRetryPolicy = opts.DefaultRetryPolicy
		o.Credentials = opts.Credentials
		o.Store = opts.Store
		o.Logger = opts.Logger
	})

	return &TeamFlow{opts: opts, runner: r}
}

// Runner exposes the underlying coordinator for advanced integrations
// (direct bus or shared context access).
func (t *TeamFlow) Runner() *runner.Runner { return t.runner }

// Submit starts an asynchronous team execution and returns its id.
func (t *TeamFlow) Submit(ctx context.Context, def core.WorkflowDefinition, agentRefs []string, initialInput string) (string, error) {
	return t.runner.Submit(ctx, def, agentRefs, initialInput)
}

// SubmitAndWait is a synchronous helper that submits the workflow and blocks
// until the run reaches a terminal state, returning the aggregated result.
func (t *TeamFlow) SubmitAndWait(ctx context.Context, def core.WorkflowDefinition, agentRefs []string, initialInput string) (*core.TeamExecutionResult, error) {
	executionID, err := t.runner.Submit(ctx, def, agentRefs, initialInput)
	if err != nil {
		return nil, err
	}
	return t.runner.Wait(ctx, executionID)
}

// GetStatus returns a snapshot of the execution's lifecycle state and
// progress.
func (t *TeamFlow) GetStatus(executionID string) (*core.TeamExecution, error) {
	return t.runner.GetStatus(executionID)
}

// GetResult returns the aggregated result of a terminal execution.
func (t *TeamFlow) GetResult(executionID string) (*core.TeamExecutionResult, error) {
	return t.runner.GetResult(executionID)
}

// Stop requests cancellation of a running execution. Stopping a terminal
// execution is an acknowledged no-op.
func (t *TeamFlow) Stop(executionID string) error {
	return t.runner.Stop(executionID)
}

// Watch subscribes to the execution's status event stream.
func (t *TeamFlow) Watch(executionID string) (chan status.Event, error) {
	return t.runner.Watch(executionID)
}

// Unwatch removes a status subscription obtained from Watch.
func (t *TeamFlow) Unwatch(executionID string, ch chan status.Event) {
	t.runner.Unwatch(executionID, ch)
}

// GetLogs returns the execution's message log narrowed by the filter.
func (t *TeamFlow) GetLogs(executionID string, filter core.LogFilter) ([]core.Message, error) {
	return t.runner.GetLogs(executionID, filter)
}
