package core

import "time"

// MessageKind categorizes inter-agent messages on the per-execution bus.
type MessageKind string

const (
	// MessageInfo is a one-way informational message.
	MessageInfo MessageKind = "info"
	// MessageRequest expects a correlated response within a timeout.
	MessageRequest MessageKind = "request"
	// MessageResponse answers a prior request via CorrelatesWith.
	MessageResponse MessageKind = "response"
	// MessageError reports an agent-local error condition to peers.
	MessageError MessageKind = "error"
	// MessageContextUpdate announces a shared context change.
	MessageContextUpdate MessageKind = "context_update"
)

// Message is the unit of point-to-point and broadcast communication between
// agents participating in one execution. After publication it must be
// treated as immutable. An empty To means broadcast.
type Message struct {
	MessageID        string        `json:"message_id"`
	ExecutionID      string        `json:"execution_id"`
	From             string        `json:"from"`
	To               string        `json:"to,omitempty"`
	Kind             MessageKind   `json:"kind"`
	Payload          string        `json:"payload"`
	RequiresResponse bool          `json:"requires_response,omitempty"`
	ResponseTimeout  time.Duration `json:"response_timeout,omitempty"`
	CorrelatesWith   string        `json:"correlates_with,omitempty"`
	SentAt           time.Time     `json:"sent_at"`
}

// NewMessage creates a message authored by 'from' bound to an execution.
// Leave to empty for broadcast delivery.
func NewMessage(executionID, from, to string, kind MessageKind, payload string) Message {
	return Message{
		MessageID:   NewID(),
		ExecutionID: executionID,
		From:        from,
		To:          to,
		Kind:        kind,
		Payload:     payload,
		SentAt:      time.Now().UTC(),
	}
}

// NewResponse creates a response correlated with the given request.
func NewResponse(request Message, from, payload string) Message {
	m := NewMessage(request.ExecutionID, from, request.From, MessageResponse, payload)
	m.CorrelatesWith = request.MessageID
	return m
}

// IsBroadcast reports whether the message has no direct recipient.
func (m Message) IsBroadcast() bool { return m.To == "" }
