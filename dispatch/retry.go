package dispatch

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/hupe1980/teamflow/core"
	"github.com/hupe1980/teamflow/logging"
)

// RetryerOptions configures a Retryer.
type RetryerOptions struct {
	// DefaultPolicy applies when a step declares no retry policy of its own.
	DefaultPolicy core.RetryPolicy
	// Logger records attempt outcomes. Defaults to NoOpLogger.
	Logger logging.Logger
}

// DefaultRetryPolicy is the fallback per-step policy: three attempts with a
// one second base wait doubling per attempt.
var DefaultRetryPolicy = core.RetryPolicy{
	MaxAttempts: 3,
	BaseWait:    time.Second,
	Multiplier:  2,
}

// Retryer wraps a Dispatcher with data-driven retry of transient failures.
// All strategies call it uniformly instead of scattering retry logic across
// call sites. Permanent failures and context cancellation pass through on
// the first occurrence; exhausting the policy returns the last transient
// error, which the strategy layer converts into a terminal step failure.
type Retryer struct {
	dispatcher    core.Dispatcher
	defaultPolicy core.RetryPolicy
	logger        logging.Logger
}

// NewRetryer wraps dispatcher with retry handling.
func NewRetryer(dispatcher core.Dispatcher, optFns ...func(o *RetryerOptions)) *Retryer {
	opts := RetryerOptions{
		DefaultPolicy: DefaultRetryPolicy,
		Logger:        logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Retryer{
		dispatcher:    dispatcher,
		defaultPolicy: opts.DefaultPolicy,
		logger:        opts.Logger,
	}
}

// Dispatch runs the request under the given policy. A zero policy falls back
// to the retryer's default. Waits between attempts grow exponentially with
// up to 10% jitter and respect context cancellation.
func (r *Retryer) Dispatch(ctx context.Context, req core.DispatchRequest, policy core.RetryPolicy) (*core.DispatchOutcome, error) {
	policy = r.normalize(policy)

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(float64(policy.BaseWait) * math.Pow(policy.Multiplier, float64(attempt-2)))
			jitter := time.Duration(rand.Float64() * float64(backoff) * 0.1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		outcome, err := r.dispatcher.Dispatch(ctx, req)
		if err == nil {
			return outcome, nil
		}
		if !core.IsTransient(err) {
			return nil, err
		}

		lastErr = err
		r.logger.Warn("transient dispatch failure agent_ref=%s attempt=%d/%d: %v",
			req.AgentRef, attempt, policy.MaxAttempts, err)
	}

	return nil, lastErr
}

func (r *Retryer) normalize(policy core.RetryPolicy) core.RetryPolicy {
	if policy.MaxAttempts <= 0 {
		policy = r.defaultPolicy
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.BaseWait <= 0 {
		policy.BaseWait = DefaultRetryPolicy.BaseWait
	}
	if policy.Multiplier <= 0 {
		policy.Multiplier = DefaultRetryPolicy.Multiplier
	}
	return policy
}
