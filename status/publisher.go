package status

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/hupe1980/teamflow/core"
)

// EventType categorizes live monitoring events.
type EventType string

const (
	// EventStatusUpdate reports a run-level status transition.
	EventStatusUpdate EventType = "status_update"
	// EventAgentStatusUpdate reports a per-step status change.
	EventAgentStatusUpdate EventType = "agent_status_update"
	// EventProgressUpdate reports run progress in [0,1].
	EventProgressUpdate EventType = "progress_update"
	// EventResultUpdate carries the aggregated result of a terminal run.
	EventResultUpdate EventType = "result_update"
	// EventErrorUpdate reports a run or step level error.
	EventErrorUpdate EventType = "error_update"
)

// Event is one monitoring record for an execution. Seq increases by 1 per
// published event of that execution.
type Event struct {
	ExecutionID string                    `json:"execution_id"`
	Type        EventType                 `json:"type"`
	Seq         uint64                    `json:"seq"`
	Timestamp   time.Time                 `json:"timestamp"`
	Status      core.ExecutionStatus      `json:"status,omitempty"`
	AgentRef    string                    `json:"agent_ref,omitempty"`
	StepStatus  core.StepStatus           `json:"step_status,omitempty"`
	Progress    float64                   `json:"progress,omitempty"`
	CurrentStep int                       `json:"current_step,omitempty"`
	TotalSteps  int                       `json:"total_steps,omitempty"`
	Message     string                    `json:"message,omitempty"`
	Usage       *core.Usage               `json:"usage,omitempty"`
	Result      *core.TeamExecutionResult `json:"result,omitempty"`
}

// Marshal returns the JSON form of the event for SSE or log sinks.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Options configures a Publisher.
type Options struct {
	// DefaultBuffer is the subscriber channel buffer used when Subscribe is
	// called with a non-positive buffer size.
	DefaultBuffer int
}

// Publisher provides in-memory fan-out of monitoring events per execution.
// Publish never blocks: subscribers that cannot keep up lose events.
type Publisher struct {
	mu            sync.RWMutex
	subscribers   map[string]map[chan Event]struct{}
	seq           map[string]uint64
	defaultBuffer int
}

// NewPublisher constructs an empty publisher.
func NewPublisher(optFns ...func(o *Options)) *Publisher {
	opts := Options{DefaultBuffer: 128}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Publisher{
		subscribers:   make(map[string]map[chan Event]struct{}),
		seq:           make(map[string]uint64),
		defaultBuffer: opts.DefaultBuffer,
	}
}

// Subscribe adds an observer for an execution; the caller must drain the
// returned channel and call Unsubscribe when done.
func (p *Publisher) Subscribe(executionID string, buffer int) chan Event {
	if buffer <= 0 {
		buffer = p.defaultBuffer
	}
	ch := make(chan Event, buffer)
	p.mu.Lock()
	defer p.mu.Unlock()
	subs := p.subscribers[executionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		p.subscribers[executionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the observer channel and closes it.
func (p *Publisher) Unsubscribe(executionID string, ch chan Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subs, ok := p.subscribers[executionID]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(p.subscribers, executionID)
			}
		}
	}
}

// Publish stamps the event with a sequence number and timestamp and delivers
// it to all current subscribers of the execution without blocking.
func (p *Publisher) Publish(executionID string, evt Event) {
	evt.ExecutionID = executionID
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	// Deliver while holding the lock: sends are non-blocking, and channels
	// are only ever closed under the same lock, so no send can race a close.
	p.mu.Lock()
	defer p.mu.Unlock()
	evt.Seq = p.seq[executionID]
	p.seq[executionID]++
	for ch := range p.subscribers[executionID] {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow.
		}
	}
}

// Close drops all subscribers of an execution and forgets its sequence
// counter. Called by the coordinator after the terminal events went out.
func (p *Publisher) Close(executionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subs, ok := p.subscribers[executionID]; ok {
		for ch := range subs {
			close(ch)
		}
		delete(p.subscribers, executionID)
	}
	delete(p.seq, executionID)
}
