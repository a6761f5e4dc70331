package store

import (
	"fmt"
	"sync"

	"github.com/hupe1980/teamflow/core"
)

// Compile-time contract check.
var _ core.ExecutionStore = (*InMemoryStore)(nil)

// InMemoryStore is a volatile ExecutionStore implementation keeping all run
// artifacts in process local maps. It is safe for concurrent access and best
// suited for tests or ephemeral demo servers. Each returned execution is
// cloned to prevent external mutation of internal state.
type InMemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*core.TeamExecution
	records    map[string][]core.AgentExecutionRecord
	messages   map[string][]core.Message
	snapshots  map[string][]core.ContextSnapshot
}

// NewInMemoryStore constructs an empty in-memory execution store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		executions: make(map[string]*core.TeamExecution),
		records:    make(map[string][]core.AgentExecutionRecord),
		messages:   make(map[string][]core.Message),
		snapshots:  make(map[string][]core.ContextSnapshot),
	}
}

// SaveExecution stores a clone of the provided execution, overwriting any
// prior state for the same id.
func (s *InMemoryStore) SaveExecution(execution *core.TeamExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executions[execution.ExecutionID] = execution.Clone()
	return nil
}

// SaveRecord appends a closed step record to the execution's record list.
func (s *InMemoryStore) SaveRecord(record core.AgentExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ExecutionID] = append(s.records[record.ExecutionID], record)
	return nil
}

// AppendMessage adds a message to the execution's append-only log.
func (s *InMemoryStore) AppendMessage(message core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[message.ExecutionID] = append(s.messages[message.ExecutionID], message)
	return nil
}

// SaveSnapshot stores a context snapshot.
func (s *InMemoryStore) SaveSnapshot(snapshot core.ContextSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snapshot.ExecutionID] = append(s.snapshots[snapshot.ExecutionID], snapshot)
	return nil
}

// GetExecution returns a clone of the stored execution.
func (s *InMemoryStore) GetExecution(executionID string) (*core.TeamExecution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	execution, ok := s.executions[executionID]
	if !ok {
		return nil, fmt.Errorf("execution %s: %w", executionID, core.ErrNotFound)
	}
	return execution.Clone(), nil
}

// ListRecords returns the step records persisted for an execution in
// insertion order.
func (s *InMemoryStore) ListRecords(executionID string) ([]core.AgentExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.records[executionID]
	out := make([]core.AgentExecutionRecord, len(records))
	copy(out, records)
	return out, nil
}

// ListMessages returns the execution's message log narrowed by the filter.
func (s *InMemoryStore) ListMessages(executionID string, filter core.LogFilter) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Message
	for _, m := range s.messages[executionID] {
		if !filter.Matches(m) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// ListSnapshots returns all snapshots taken for an execution in
// chronological order.
func (s *InMemoryStore) ListSnapshots(executionID string) ([]core.ContextSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshots := s.snapshots[executionID]
	out := make([]core.ContextSnapshot, len(snapshots))
	copy(out, snapshots)
	return out, nil
}
