// Package redis implements the core.ExecutionStore contract on top of a
// Redis server. Executions are stored as JSON strings; records, messages and
// snapshots live in per-execution lists so appends stay O(1).
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/teamflow/core"
)

// Compile-time contract check.
var _ core.ExecutionStore = (*Store)(nil)

// Options holds configuration overrides passed to New().
type Options struct {
	// KeyPrefix namespaces all keys written by the store.
	KeyPrefix string
	// TTL, when positive, bounds the lifetime of all keys for an execution.
	TTL time.Duration
	// OpTimeout bounds each individual Redis round trip.
	OpTimeout time.Duration
}

// Store is a durable ExecutionStore backed by Redis. It is safe for
// concurrent use; all synchronization is delegated to the Redis client.
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	opTimeout time.Duration
}

// New constructs a Redis backed execution store with optional overrides.
func New(client redis.UniversalClient, optFns ...func(o *Options)) *Store {
	opts := Options{
		KeyPrefix: "teamflow",
		OpTimeout: 5 * time.Second,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		client:    client,
		keyPrefix: opts.KeyPrefix,
		ttl:       opts.TTL,
		opTimeout: opts.OpTimeout,
	}
}

func (s *Store) executionKey(executionID string) string {
	return fmt.Sprintf("%s:execution:%s", s.keyPrefix, executionID)
}

func (s *Store) recordsKey(executionID string) string {
	return fmt.Sprintf("%s:records:%s", s.keyPrefix, executionID)
}

func (s *Store) messagesKey(executionID string) string {
	return fmt.Sprintf("%s:messages:%s", s.keyPrefix, executionID)
}

func (s *Store) snapshotsKey(executionID string) string {
	return fmt.Sprintf("%s:snapshots:%s", s.keyPrefix, executionID)
}

func (s *Store) opContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opTimeout)
}

// SaveExecution overwrites the execution document.
func (s *Store) SaveExecution(execution *core.TeamExecution) error {
	ctx, cancel := s.opContext()
	defer cancel()

	data, err := json.Marshal(execution)
	if err != nil {
		return fmt.Errorf("failed to marshal execution: %w", err)
	}

	key := s.executionKey(execution.ExecutionID)
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save execution %s: %w", execution.ExecutionID, err)
	}
	return nil
}

// SaveRecord appends a closed step record to the execution's record list.
func (s *Store) SaveRecord(record core.AgentExecutionRecord) error {
	return s.appendJSON(s.recordsKey(record.ExecutionID), record)
}

// AppendMessage adds a message to the execution's append-only log.
func (s *Store) AppendMessage(message core.Message) error {
	return s.appendJSON(s.messagesKey(message.ExecutionID), message)
}

// SaveSnapshot stores a context snapshot.
func (s *Store) SaveSnapshot(snapshot core.ContextSnapshot) error {
	return s.appendJSON(s.snapshotsKey(snapshot.ExecutionID), snapshot)
}

func (s *Store) appendJSON(key string, v any) error {
	ctx, cancel := s.opContext()
	defer cancel()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal entry for %s: %w", key, err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append to %s: %w", key, err)
	}
	return nil
}

// GetExecution returns the stored execution document.
func (s *Store) GetExecution(executionID string) (*core.TeamExecution, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	data, err := s.client.Get(ctx, s.executionKey(executionID)).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("execution %s: %w", executionID, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	var execution core.TeamExecution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", executionID, err)
	}
	return &execution, nil
}

// ListRecords returns the step records persisted for an execution in
// insertion order.
func (s *Store) ListRecords(executionID string) ([]core.AgentExecutionRecord, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	vals, err := s.client.LRange(ctx, s.recordsKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records for %s: %w", executionID, err)
	}

	records := make([]core.AgentExecutionRecord, 0, len(vals))
	for _, v := range vals {
		var record core.AgentExecutionRecord
		if err := json.Unmarshal([]byte(v), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record for %s: %w", executionID, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// ListMessages returns the execution's message log narrowed by the filter.
func (s *Store) ListMessages(executionID string, filter core.LogFilter) ([]core.Message, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	vals, err := s.client.LRange(ctx, s.messagesKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list messages for %s: %w", executionID, err)
	}

	var messages []core.Message
	for _, v := range vals {
		var message core.Message
		if err := json.Unmarshal([]byte(v), &message); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message for %s: %w", executionID, err)
		}
		if !filter.Matches(message) {
			continue
		}
		messages = append(messages, message)
		if filter.Limit > 0 && len(messages) >= filter.Limit {
			break
		}
	}
	return messages, nil
}

// ListSnapshots returns all snapshots taken for an execution in
// chronological order.
func (s *Store) ListSnapshots(executionID string) ([]core.ContextSnapshot, error) {
	ctx, cancel := s.opContext()
	defer cancel()

	vals, err := s.client.LRange(ctx, s.snapshotsKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots for %s: %w", executionID, err)
	}

	snapshots := make([]core.ContextSnapshot, 0, len(vals))
	for _, v := range vals {
		var snapshot core.ContextSnapshot
		if err := json.Unmarshal([]byte(v), &snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot for %s: %w", executionID, err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, nil
}
