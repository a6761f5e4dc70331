package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/teamflow/bus"
	"github.com/hupe1980/teamflow/core"
	"github.com/hupe1980/teamflow/dispatch"
	"github.com/hupe1980/teamflow/logging"
	"github.com/hupe1980/teamflow/sharedstate"
	"github.com/hupe1980/teamflow/status"
	"github.com/hupe1980/teamflow/store"
	"github.com/hupe1980/teamflow/strategy"
	"github.com/hupe1980/teamflow/workflow"
)

// Options holds dependency + configuration overrides passed to New().
type Options struct {
	// MaxConcurrentExecutions caps the number of runs driving their strategy
	// at once; further submissions queue on the limiter. <= 0 means no cap.
	MaxConcurrentExecutions int
	// EventBufferSize sets the default subscriber buffer for status events.
	EventBufferSize int
	// MessageBufferSize sets the per-agent inbox buffer on the message bus.
	MessageBufferSize int
	// ChangeBufferSize sets the subscriber buffer for shared context changes.
	ChangeBufferSize int
	// DefaultStepTimeout bounds steps that declare no timeout of their own.
	DefaultStepTimeout time.Duration
	// DefaultRetryPolicy applies to steps that declare no retry policy.
	DefaultRetryPolicy core.RetryPolicy
	// Credentials are forwarded verbatim on every dispatch request.
	Credentials core.Credentials
	// Persistence services.
	Store core.ExecutionStore
	// Logging services.
	Logger logging.Logger
}

// handle is the coordinator's private bookkeeping for one run.
type handle struct {
	mu        sync.Mutex
	execution *core.TeamExecution
	result    *core.TeamExecutionResult
	cancel    context.CancelFunc
	done      chan struct{}
}

// Runner coordinates team executions: compiles workflow definitions,
// provisions per-run collaborators (shared context, bus, status channel),
// drives strategies asynchronously and finalizes state and persistence.
// Public methods are safe for concurrent use.
type Runner struct {
	retryer *dispatch.Retryer
	limiter *dispatch.Limiter

	shared    *sharedstate.Store
	bus       *bus.Bus
	statusPub *status.Publisher
	store     core.ExecutionStore
	logger    logging.Logger

	eventBufferSize    int
	defaultStepTimeout time.Duration
	credentials        core.Credentials

	handles map[string]*handle
	mu      sync.RWMutex
}

// New constructs a Runner around the given dispatcher with optional
// overrides.
func New(dispatcher core.Dispatcher, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxConcurrentExecutions: 10,
		EventBufferSize:         100,
		MessageBufferSize:       100,
		ChangeBufferSize:        100,
		DefaultStepTimeout:      5 * time.Minute,
		DefaultRetryPolicy:      dispatch.DefaultRetryPolicy,
		Store:                   store.NewInMemoryStore(),
		Logger:                  logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		retryer: dispatch.NewRetryer(dispatcher, func(o *dispatch.RetryerOptions) {
			o.DefaultPolicy = opts.DefaultRetryPolicy
			o.Logger = opts.Logger
		}),
		limiter: dispatch.NewLimiter(opts.MaxConcurrentExecutions),
		shared: sharedstate.NewStore(func(o *sharedstate.Options) {
			o.ChangeBufferSize = opts.ChangeBufferSize
		}),
		bus: bus.NewBus(func(o *bus.Options) {
			o.BufferSize = opts.MessageBufferSize
		}),
		statusPub: status.NewPublisher(func(o *status.Options) {
			o.DefaultBuffer = opts.EventBufferSize
		}),
		store:              opts.Store,
		logger:             opts.Logger,
		eventBufferSize:    opts.EventBufferSize,
		defaultStepTimeout: opts.DefaultStepTimeout,
		credentials:        opts.Credentials,
		handles:            make(map[string]*handle),
	}
}

// Bus exposes the per-execution message bus so embedding applications can
// subscribe participating agents.
func (r *Runner) Bus() *bus.Bus { return r.bus }

// Shared exposes the shared context store for direct reads and subscriber
// registration.
func (r *Runner) Shared() *sharedstate.Store { return r.shared }

// Submit compiles the workflow, registers a pending execution and launches
// the strategy asynchronously. It returns the new execution id immediately;
// compile errors surface here and nothing is registered on failure.
func (r *Runner) Submit(ctx context.Context, def core.WorkflowDefinition, agentRefs []string, initialInput string) (string, error) {
	plan, err := workflow.Compile(def, agentRefs)
	if err != nil {
		return "", err
	}

	strat, err := strategy.ForKind(plan.Strategy)
	if err != nil {
		return "", err
	}

	executionID := core.NewID()

	execution := &core.TeamExecution{
		ExecutionID: executionID,
		TeamName:    def.Name,
		Strategy:    plan.Strategy,
		Status:      core.ExecutionPending,
		TotalSteps:  len(plan.Steps),
		StartedAt:   time.Now().UTC(),
	}

	if err := r.store.SaveExecution(execution); err != nil {
		return "", fmt.Errorf("failed to persist execution: %w", err)
	}

	if _, err := r.shared.Create(executionID, map[string]any{
		"initial_prompt": initialInput,
	}); err != nil {
		return "", fmt.Errorf("failed to create shared context: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	h := &handle{
		execution: execution,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	r.handles[executionID] = h
	r.mu.Unlock()

	r.statusPub.Publish(executionID, status.Event{
		Type:       status.EventStatusUpdate,
		Status:     core.ExecutionPending,
		TotalSteps: len(plan.Steps),
	})

	r.logger.Info("execution submitted execution_id=%s strategy=%s steps=%d",
		executionID, plan.Strategy, len(plan.Steps))

	go r.drive(runCtx, h, strat, plan, initialInput)

	return executionID, nil
}

// GetStatus returns a snapshot of the execution's current lifecycle state
// and progress.
func (r *Runner) GetStatus(executionID string) (*core.TeamExecution, error) {
	h, err := r.handle(executionID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.execution.Clone(), nil
}

// GetResult returns the aggregated result of a terminal execution. Calling
// it before the run reached a terminal state is an error.
func (r *Runner) GetResult(executionID string) (*core.TeamExecutionResult, error) {
	h, err := r.handle(executionID)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.result == nil {
		return nil, fmt.Errorf("execution %s has not reached a terminal state (%s)", executionID, h.execution.Status)
	}
	result := *h.result
	return &result, nil
}

// Stop requests cancellation of a run. Stopping an already terminal
// execution is a no-op acknowledgement: no state changes and no duplicate
// terminal events are produced.
func (r *Runner) Stop(executionID string) error {
	h, err := r.handle(executionID)
	if err != nil {
		return err
	}

	h.mu.Lock()
	terminal := h.execution.Status.Terminal()
	h.mu.Unlock()
	if terminal {
		return nil
	}

	r.logger.Info("stop requested execution_id=%s", executionID)
	h.cancel()
	return nil
}

// Wait blocks until the execution reaches a terminal state or the context
// is done, then returns its result.
func (r *Runner) Wait(ctx context.Context, executionID string) (*core.TeamExecutionResult, error) {
	h, err := r.handle(executionID)
	if err != nil {
		return nil, err
	}
	select {
	case <-h.done:
		return r.GetResult(executionID)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Watch subscribes to the execution's ordered status event stream. The
// returned channel is closed when the run finalizes; slow consumers lose
// events rather than stalling the run.
func (r *Runner) Watch(executionID string) (chan status.Event, error) {
	if _, err := r.handle(executionID); err != nil {
		return nil, err
	}
	return r.statusPub.Subscribe(executionID, r.eventBufferSize), nil
}

// Unwatch removes a status subscription obtained from Watch.
func (r *Runner) Unwatch(executionID string, ch chan status.Event) {
	r.statusPub.Unsubscribe(executionID, ch)
}

// GetLogs returns the execution's message log narrowed by the filter. Live
// runs are served from the in-memory bus; terminal runs from the store,
// where the log was persisted during finalization.
func (r *Runner) GetLogs(executionID string, filter core.LogFilter) ([]core.Message, error) {
	h, err := r.handle(executionID)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	terminal := h.execution.Status.Terminal()
	h.mu.Unlock()

	if !terminal {
		return r.bus.Log(executionID, filter), nil
	}
	return r.store.ListMessages(executionID, filter)
}

func (r *Runner) handle(executionID string) (*handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, core.ErrNotFound)
	}
	return h, nil
}

// drive runs one execution end to end on its own goroutine.
func (r *Runner) drive(ctx context.Context, h *handle, strat strategy.Strategy, plan *core.ExecutionPlan, initialInput string) {
	executionID := h.execution.ExecutionID

	if err := r.limiter.Acquire(ctx); err != nil {
		r.finalize(ctx, h, nil, nil)
		return
	}
	defer r.limiter.Release()

	if err := r.transition(h, core.ExecutionPending, core.ExecutionRunning); err != nil {
		r.logger.Warn("refusing start execution_id=%s: %v", executionID, err)
		r.finalize(ctx, h, nil, nil)
		return
	}

	r.statusPub.Publish(executionID, status.Event{
		Type:       status.EventStatusUpdate,
		Status:     core.ExecutionRunning,
		TotalSteps: len(plan.Steps),
	})

	ec := &strategy.ExecutionContext{
		Context:        ctx,
		ExecutionID:    executionID,
		Plan:           plan,
		InitialInput:   initialInput,
		Credentials:    r.credentials,
		Shared:         r.shared,
		Bus:            r.bus,
		Status:         r.statusPub,
		Retryer:        r.retryer,
		Store:          r.store,
		Logger:         r.logger,
		DefaultTimeout: r.defaultStepTimeout,
		OnSettled: func(record core.AgentExecutionRecord, settled, total int) {
			r.recordProgress(h, settled, total)
			r.snapshotContext(executionID)
		},
	}

	result, err := strat.Execute(ec)
	if err != nil {
		r.logger.Error("strategy execution failed execution_id=%s: %v", executionID, err)
	}

	r.finalize(ctx, h, result, err)
}

// transition moves the execution between lifecycle states. Terminal states
// are absorbing; any attempt to leave one yields ExecutionTerminalError.
func (r *Runner) transition(h *handle, from, to core.ExecutionStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.execution.Status.Terminal() {
		return &core.ExecutionTerminalError{ExecutionID: h.execution.ExecutionID, Status: h.execution.Status}
	}
	if h.execution.Status != from {
		return fmt.Errorf("execution %s is %s, expected %s", h.execution.ExecutionID, h.execution.Status, from)
	}
	h.execution.Status = to
	return nil
}

func (r *Runner) recordProgress(h *handle, settled, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.execution.Status.Terminal() {
		return
	}
	h.execution.CurrentStep = settled
	if total > 0 {
		h.execution.Progress = float64(settled) / float64(total)
	}
}

func (r *Runner) snapshotContext(executionID string) {
	snapshot, err := r.shared.Snapshot(executionID)
	if err != nil {
		return
	}
	if err := r.store.SaveSnapshot(snapshot); err != nil {
		r.logger.Warn("failed to persist context snapshot execution_id=%s: %v", executionID, err)
	}
}

// finalize moves the execution into its terminal state exactly once,
// persists the outcome, publishes the terminal events and tears down the
// run's transient collaborators. A nil result means the strategy never ran.
func (r *Runner) finalize(ctx context.Context, h *handle, result *strategy.Result, runErr error) {
	defer close(h.done)

	executionID := h.execution.ExecutionID

	terminalStatus := core.ExecutionCompleted
	errorMessage := ""
	switch {
	case runErr != nil:
		terminalStatus = core.ExecutionFailed
		errorMessage = runErr.Error()
	case result != nil && result.Failed:
		terminalStatus = core.ExecutionFailed
		errorMessage = result.ErrorMessage
	case ctx.Err() != nil:
		terminalStatus = core.ExecutionCancelled
		errorMessage = "execution stopped"
	}

	if result == nil {
		result = &strategy.Result{}
	}

	now := time.Now().UTC()

	// Persist the message log and a final snapshot before the status flips:
	// GetLogs serves terminal runs from the store, so the store copy must be
	// complete by the time the run reads as terminal.
	for _, msg := range r.bus.Log(executionID, core.LogFilter{}) {
		if err := r.store.AppendMessage(msg); err != nil {
			r.logger.Warn("failed to persist message log execution_id=%s: %v", executionID, err)
			break
		}
	}
	r.snapshotContext(executionID)

	h.mu.Lock()
	if h.execution.Status.Terminal() {
		h.mu.Unlock()
		return
	}
	h.execution.Status = terminalStatus
	h.execution.CompletedAt = &now
	h.execution.ErrorMessage = errorMessage
	h.execution.FinalResult = result.FinalOutput
	execution := h.execution.Clone()
	finalResult := &core.TeamExecutionResult{
		ExecutionID:   executionID,
		Status:        terminalStatus,
		FinalOutput:   result.FinalOutput,
		ErrorMessage:  errorMessage,
		Records:       result.Records,
		ExecutedSteps: result.ExecutedSteps,
		SkippedSteps:  result.SkippedSteps,
		Usage:         result.Usage,
	}
	h.result = finalResult
	h.mu.Unlock()

	if err := r.store.SaveExecution(execution); err != nil {
		r.logger.Warn("failed to persist terminal execution execution_id=%s: %v", executionID, err)
	}

	var usage *core.Usage
	if result.Usage != (core.Usage{}) {
		u := result.Usage
		usage = &u
	}
	r.statusPub.Publish(executionID, status.Event{
		Type:   status.EventResultUpdate,
		Result: finalResult,
		Usage:  usage,
	})
	r.statusPub.Publish(executionID, status.Event{
		Type:    status.EventStatusUpdate,
		Status:  terminalStatus,
		Message: errorMessage,
		Usage:   usage,
	})

	r.logger.Info("execution finalized execution_id=%s status=%s steps=%d",
		executionID, terminalStatus, len(result.Records))

	r.shared.Destroy(executionID)
	r.bus.Destroy(executionID)
	r.statusPub.Close(executionID)

	h.cancel()
}
