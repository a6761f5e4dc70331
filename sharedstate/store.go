package sharedstate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/teamflow/core"
)

// NoVersionCheck selects last-writer-wins semantics for SetVariable. The
// parallel and conditional strategies rely on this to merge round results,
// while sequential logic supplies a concrete expected version to detect
// concurrent interference.
const NoVersionCheck int64 = -1

// Options configures a Store.
type Options struct {
	// ChangeBufferSize sets the per-subscriber channel buffer. A subscriber
	// that falls more than this many changes behind starts losing changes.
	ChangeBufferSize int
}

// Store manages the live shared contexts of all in-flight executions. It is
// safe for concurrent access by any number of participating agents.
type Store struct {
	mu         sync.RWMutex
	contexts   map[string]*Context
	subs       map[string]map[chan Change]struct{}
	bufferSize int
}

// NewStore constructs an empty context store.
func NewStore(optFns ...func(o *Options)) *Store {
	opts := Options{ChangeBufferSize: 64}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		contexts:   make(map[string]*Context),
		subs:       make(map[string]map[chan Change]struct{}),
		bufferSize: opts.ChangeBufferSize,
	}
}

// Create allocates the context for a new execution seeded with the given
// variables. Creating an execution that already has a live context is an error.
func (s *Store) Create(executionID string, seed map[string]any) (*Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.contexts[executionID]; exists {
		return nil, fmt.Errorf("context for execution %s already exists", executionID)
	}
	ctx := NewContext(executionID, seed)
	s.contexts[executionID] = ctx
	return ctx, nil
}

// Get returns the live context of an execution.
func (s *Store) Get(executionID string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ctx, ok := s.contexts[executionID]
	if !ok {
		return nil, fmt.Errorf("context for execution %s: %w", executionID, core.ErrNotFound)
	}
	return ctx, nil
}

// SetVariable writes one variable on behalf of actor.
//
// With expectedVersion == NoVersionCheck the write always applies (last
// writer wins). With a concrete expectedVersion the write applies only if the
// context is still at that version; otherwise nothing mutates and a
// VersionConflictError is returned so the caller can re-read and retry.
// Every accepted write increments the version by exactly 1 and notifies all
// active subscribers.
func (s *Store) SetVariable(executionID, key string, value any, actor string, expectedVersion int64) (int64, error) {
	ctx, err := s.Get(executionID)
	if err != nil {
		return 0, err
	}

	ctx.mu.Lock()
	if expectedVersion != NoVersionCheck && ctx.Version != expectedVersion {
		actual := ctx.Version
		ctx.mu.Unlock()
		return 0, &core.VersionConflictError{ExecutionID: executionID, Key: key, Expected: expectedVersion, Actual: actual}
	}
	change := ctx.set(key, value, actor)
	ctx.mu.Unlock()

	s.notify(executionID, change)

	return change.Version, nil
}

// ApplyDelta merges a variable delta with last-writer-wins semantics. Each
// key counts as one write: the version advances once per key and subscribers
// receive one change per key. Keys are applied in sorted order so repeated
// merges of the same delta are deterministic.
func (s *Store) ApplyDelta(executionID string, delta map[string]any, actor string) (int64, error) {
	ctx, err := s.Get(executionID)
	if err != nil {
		return 0, err
	}
	if len(delta) == 0 {
		return ctx.CurrentVersion(), nil
	}

	keys := make([]string, 0, len(delta))
	for k := range delta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ctx.mu.Lock()
	changes := make([]Change, 0, len(keys))
	for _, k := range keys {
		changes = append(changes, ctx.set(k, delta[k], actor))
	}
	version := ctx.Version
	ctx.mu.Unlock()

	for _, change := range changes {
		s.notify(executionID, change)
	}

	return version, nil
}

// GetVariable reads one variable from the live context.
func (s *Store) GetVariable(executionID, key string) (any, error) {
	ctx, err := s.Get(executionID)
	if err != nil {
		return nil, err
	}
	v, ok := ctx.GetVariable(key)
	if !ok {
		return nil, fmt.Errorf("variable %s in execution %s: %w", key, executionID, core.ErrNotFound)
	}
	return v, nil
}

// AppendEntry adds an entry to the context's append-only log.
func (s *Store) AppendEntry(executionID string, entry Entry) error {
	ctx, err := s.Get(executionID)
	if err != nil {
		return err
	}
	ctx.mu.Lock()
	ctx.appendEntry(entry)
	ctx.mu.Unlock()
	return nil
}

// Subscribe registers a change listener for an execution. The caller must
// drain the returned channel and call Unsubscribe when done; cancellation
// simply drops the subscription with no partial-delivery guarantees.
func (s *Store) Subscribe(executionID string) chan Change {
	ch := make(chan Change, s.bufferSize)
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subs[executionID]
	if subs == nil {
		subs = make(map[chan Change]struct{})
		s.subs[executionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (s *Store) Unsubscribe(executionID string, ch chan Change) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if subs, ok := s.subs[executionID]; ok {
		if _, member := subs[ch]; member {
			delete(subs, ch)
			close(ch)
			if len(subs) == 0 {
				delete(s.subs, executionID)
			}
		}
	}
}

// Snapshot returns a durable copy of the live context for persistence.
func (s *Store) Snapshot(executionID string) (core.ContextSnapshot, error) {
	ctx, err := s.Get(executionID)
	if err != nil {
		return core.ContextSnapshot{}, err
	}
	return ctx.Snapshot(), nil
}

// Destroy tears down the live context and all its subscriptions. The
// coordinator calls this once the owning execution reaches a terminal state,
// after handing a final snapshot to the persistence sink.
func (s *Store) Destroy(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, executionID)
	if subs, ok := s.subs[executionID]; ok {
		for ch := range subs {
			close(ch)
		}
		delete(s.subs, executionID)
	}
}

// notify fans a change out to all active subscribers without blocking; a
// full subscriber buffer drops the change for that subscriber only.
func (s *Store) notify(executionID string, change Change) {
	// Send under the read lock: Unsubscribe and Destroy close channels only
	// under the write lock, so no send can race a close.
	s.mu.RLock()
	defer s.mu.RUnlock()
	for ch := range s.subs[executionID] {
		select {
		case ch <- change:
		default:
		}
	}
}
