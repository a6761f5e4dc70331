package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/teamflow/core"
)

// Options configures a Bus.
type Options struct {
	// BufferSize sets the per-subscriber channel buffer. A subscriber that
	// falls more than this many messages behind starts losing messages.
	BufferSize int
}

// Bus routes messages between the agents of each execution. All methods are
// safe for unrestricted concurrent producers; the bus never blocks a sender
// on a slow consumer.
type Bus struct {
	mu         sync.RWMutex
	channels   map[string]*channel
	bufferSize int
}

// channel is the routing state of one execution.
type channel struct {
	mu          sync.RWMutex
	subscribers map[string]chan core.Message
	waiters     map[string]chan core.Message
	log         []core.Message
}

// NewBus constructs an empty message bus.
func NewBus(optFns ...func(o *Options)) *Bus {
	opts := Options{BufferSize: 64}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Bus{
		channels:   make(map[string]*channel),
		bufferSize: opts.BufferSize,
	}
}

// Send publishes a direct message. The message is appended to the execution
// log unconditionally; delivery happens only if the recipient is currently
// subscribed. A response (CorrelatesWith set) additionally completes any
// pending request/response exchange waiting on that correlation id.
func (b *Bus) Send(executionID string, msg core.Message) error {
	ch := b.channel(executionID)

	// Deliver while holding the lock: sends are non-blocking, and inboxes
	// are only ever closed under the same lock, so no send can race a close.
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.log = append(ch.log, msg)
	if msg.To != "" {
		if recipient, ok := ch.subscribers[msg.To]; ok {
			deliver(recipient, msg)
		}
	}
	if msg.CorrelatesWith != "" {
		if waiter, ok := ch.waiters[msg.CorrelatesWith]; ok {
			delete(ch.waiters, msg.CorrelatesWith)
			deliver(waiter, msg)
		}
	}

	return nil
}

// Broadcast publishes a message to every currently subscribed agent except
// those named in excluding. Senders typically exclude themselves. There is
// no replay: agents subscribing afterwards never see the message.
func (b *Bus) Broadcast(executionID string, msg core.Message, excluding ...string) error {
	ch := b.channel(executionID)

	skip := make(map[string]bool, len(excluding))
	for _, ref := range excluding {
		skip[ref] = true
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.log = append(ch.log, msg)
	for ref, sub := range ch.subscribers {
		if skip[ref] {
			continue
		}
		deliver(sub, msg)
	}

	return nil
}

// RequestResponse sends a request and blocks until a message correlating with
// it arrives, the timeout elapses, or ctx is cancelled. On timeout it returns
// a ResponseTimeoutError; the original request remains logged as unanswered
// and is never retried automatically.
func (b *Bus) RequestResponse(ctx context.Context, executionID string, req core.Message, timeout time.Duration) (core.Message, error) {
	req.Kind = core.MessageRequest
	req.RequiresResponse = true
	req.ResponseTimeout = timeout

	ch := b.channel(executionID)
	waiter := make(chan core.Message, 1)

	ch.mu.Lock()
	ch.waiters[req.MessageID] = waiter
	ch.mu.Unlock()

	if err := b.Send(executionID, req); err != nil {
		b.dropWaiter(executionID, req.MessageID)
		return core.Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-waiter:
		if !ok {
			// Channel destroyed mid-exchange (run reached a terminal state).
			return core.Message{}, fmt.Errorf("execution %s channel closed while awaiting response", executionID)
		}
		return resp, nil
	case <-timer.C:
		b.dropWaiter(executionID, req.MessageID)
		return core.Message{}, &core.ResponseTimeoutError{RequestID: req.MessageID, Timeout: timeout}
	case <-ctx.Done():
		b.dropWaiter(executionID, req.MessageID)
		return core.Message{}, ctx.Err()
	}
}

// Subscribe registers an agent's inbox for an execution. The caller must
// drain the returned channel and call Unsubscribe when done. A second
// subscription for the same agent replaces (and closes) the first.
func (b *Bus) Subscribe(executionID, agentRef string) chan core.Message {
	ch := b.channel(executionID)
	inbox := make(chan core.Message, b.bufferSize)

	ch.mu.Lock()
	if prev, ok := ch.subscribers[agentRef]; ok {
		close(prev)
	}
	ch.subscribers[agentRef] = inbox
	ch.mu.Unlock()

	return inbox
}

// Unsubscribe removes an agent's inbox and closes it.
func (b *Bus) Unsubscribe(executionID, agentRef string) {
	b.mu.RLock()
	ch := b.channels[executionID]
	b.mu.RUnlock()
	if ch == nil {
		return
	}

	ch.mu.Lock()
	if inbox, ok := ch.subscribers[agentRef]; ok {
		delete(ch.subscribers, agentRef)
		close(inbox)
	}
	ch.mu.Unlock()
}

// Log returns the messages of an execution passing the filter, oldest first.
func (b *Bus) Log(executionID string, filter core.LogFilter) []core.Message {
	b.mu.RLock()
	ch := b.channels[executionID]
	b.mu.RUnlock()
	if ch == nil {
		return nil
	}

	ch.mu.RLock()
	defer ch.mu.RUnlock()
	out := make([]core.Message, 0, len(ch.log))
	for _, msg := range ch.log {
		if !filter.Matches(msg) {
			continue
		}
		out = append(out, msg)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// Destroy tears down the execution's channel: all inboxes and pending
// request waiters are closed and the log is released. Called by the
// coordinator once the run is terminal.
func (b *Bus) Destroy(executionID string) {
	b.mu.Lock()
	ch := b.channels[executionID]
	delete(b.channels, executionID)
	b.mu.Unlock()
	if ch == nil {
		return
	}

	ch.mu.Lock()
	for _, inbox := range ch.subscribers {
		close(inbox)
	}
	ch.subscribers = make(map[string]chan core.Message)
	for _, waiter := range ch.waiters {
		close(waiter)
	}
	ch.waiters = make(map[string]chan core.Message)
	ch.mu.Unlock()
}

// channel returns the routing state for an execution, creating it lazily.
func (b *Bus) channel(executionID string) *channel {
	b.mu.RLock()
	ch := b.channels[executionID]
	b.mu.RUnlock()
	if ch != nil {
		return ch
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ch = b.channels[executionID]; ch == nil {
		ch = &channel{
			subscribers: make(map[string]chan core.Message),
			waiters:     make(map[string]chan core.Message),
		}
		b.channels[executionID] = ch
	}
	return ch
}

func (b *Bus) dropWaiter(executionID, requestID string) {
	b.mu.RLock()
	ch := b.channels[executionID]
	b.mu.RUnlock()
	if ch == nil {
		return
	}
	ch.mu.Lock()
	delete(ch.waiters, requestID)
	ch.mu.Unlock()
}

// deliver performs a non-blocking send; a full inbox drops the message for
// that subscriber only.
func deliver(inbox chan core.Message, msg core.Message) {
	select {
	case inbox <- msg:
	default:
	}
}
