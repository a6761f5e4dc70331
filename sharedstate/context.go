package sharedstate

import (
	"sync"
	"time"

	"github.com/hupe1980/teamflow/core"
)

// Entry is one record in a context's append-only log. Agents use it for
// lightweight audit trails (context updates, coordination notes) that ride
// alongside the variable map.
type Entry struct {
	EntryID string    `json:"entry_id"`
	Actor   string    `json:"actor"`
	Kind    string    `json:"kind,omitempty"`
	Payload string    `json:"payload"`
	At      time.Time `json:"at"`
}

// NewEntry creates a log entry authored by actor.
func NewEntry(actor, kind, payload string) Entry {
	return Entry{EntryID: core.NewID(), Actor: actor, Kind: kind, Payload: payload, At: time.Now().UTC()}
}

// Change describes one accepted variable write, delivered to subscribers.
type Change struct {
	ExecutionID string    `json:"execution_id"`
	Key         string    `json:"key"`
	Value       any       `json:"value"`
	Version     int64     `json:"version"`
	Actor       string    `json:"actor"`
	At          time.Time `json:"at"`
}

// Context is the live shared state of one execution. It is safe for
// concurrent access. Its lifetime is bound to the owning run; the store
// destroys it when the run reaches a terminal state.
//
// Contract:
//   - every accepted write increments Version by exactly 1
//   - Variables and Entries accessors return defensive copies
//   - Snapshot produces a durable copy for the persistence sink
type Context struct {
	ExecutionID   string
	Variables     map[string]any
	Entries       []Entry
	Version       int64
	LastUpdatedBy string
	Created       time.Time
	Updated       time.Time
	mu            sync.RWMutex
}

// NewContext creates a context seeded with the given variables at version 0.
func NewContext(executionID string, seed map[string]any) *Context {
	now := time.Now().UTC()
	vars := make(map[string]any, len(seed))
	for k, v := range seed {
		vars[k] = v
	}
	return &Context{
		ExecutionID: executionID,
		Variables:   vars,
		Entries:     []Entry{},
		Created:     now,
		Updated:     now,
	}
}

// GetVariable returns the value and existence flag for a variable.
func (c *Context) GetVariable(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.Variables[key]
	return v, ok
}

// VariablesSnapshot returns a copy of the whole variable map.
func (c *Context) VariablesSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vars := make(map[string]any, len(c.Variables))
	for k, v := range c.Variables {
		vars[k] = v
	}
	return vars
}

// CurrentVersion returns the context version.
func (c *Context) CurrentVersion() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Version
}

// GetEntries returns a defensive copy of the append-only entry log.
func (c *Context) GetEntries() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]Entry, len(c.Entries))
	copy(entries, c.Entries)
	return entries
}

// set applies one variable write under the lock; the caller has already
// performed version checking. Returns the resulting change.
func (c *Context) set(key string, value any, actor string) Change {
	c.Variables[key] = value
	c.Version++
	c.LastUpdatedBy = actor
	c.Updated = time.Now().UTC()
	return Change{
		ExecutionID: c.ExecutionID,
		Key:         key,
		Value:       value,
		Version:     c.Version,
		Actor:       actor,
		At:          c.Updated,
	}
}

// appendEntry adds an entry under the lock.
func (c *Context) appendEntry(e Entry) {
	c.Entries = append(c.Entries, e)
	c.Updated = time.Now().UTC()
}

// Snapshot returns a durable point-in-time copy for the persistence sink.
func (c *Context) Snapshot() core.ContextSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	vars := make(map[string]any, len(c.Variables))
	for k, v := range c.Variables {
		vars[k] = v
	}
	return core.ContextSnapshot{
		ExecutionID:   c.ExecutionID,
		Version:       c.Version,
		Variables:     vars,
		LastUpdatedBy: c.LastUpdatedBy,
		TakenAt:       time.Now().UTC(),
	}
}
