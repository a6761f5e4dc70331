package core

import "time"

// ContextSnapshot is a point-in-time durable copy of a shared context, taken
// periodically and at run finalization for audit. The live context remains
// authoritative during execution; snapshots are never read back mid-run.
type ContextSnapshot struct {
	ExecutionID   string         `json:"execution_id"`
	Version       int64          `json:"version"`
	Variables     map[string]any `json:"variables"`
	LastUpdatedBy string         `json:"last_updated_by,omitempty"`
	TakenAt       time.Time      `json:"taken_at"`
}

// LogFilter narrows the message log returned by getLogs style queries.
// Zero values match everything.
type LogFilter struct {
	From  string      `json:"from,omitempty"`
	Kind  MessageKind `json:"kind,omitempty"`
	Since time.Time   `json:"since,omitempty"`
	Limit int         `json:"limit,omitempty"`
}

// Matches reports whether the message passes the filter.
func (f LogFilter) Matches(m Message) bool {
	if f.From != "" && m.From != f.From {
		return false
	}
	if f.Kind != "" && m.Kind != f.Kind {
		return false
	}
	if !f.Since.IsZero() && m.SentAt.Before(f.Since) {
		return false
	}
	return true
}

// ExecutionStore persists executions, per-step records, the append-only
// message log and periodic context snapshots. The core treats it as a
// write-through sink: it never reads persisted state back during a live run.
type ExecutionStore interface {
	SaveExecution(execution *TeamExecution) error
	SaveRecord(record AgentExecutionRecord) error
	AppendMessage(message Message) error
	SaveSnapshot(snapshot ContextSnapshot) error

	GetExecution(executionID string) (*TeamExecution, error)
	ListRecords(executionID string) ([]AgentExecutionRecord, error)
	ListMessages(executionID string, filter LogFilter) ([]Message, error)
	ListSnapshots(executionID string) ([]ContextSnapshot, error)
}
