// Package bus implements the agent's message bus layer: wire envelopes,
// subject construction, the dedup window, and the Gateway that owns the
// single bus connection.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the structured message unit exchanged over the bus.
// Commands carry CommandType/Payload, queries carry QueryType/Parameters.
// ID is unique per envelope and is the key for dedup and reply correlation;
// Timestamp is informational only and must not drive ordering decisions.
type Envelope struct {
	ID          string         `json:"id"`
	CommandType string         `json:"command_type,omitempty"`
	QueryType   string         `json:"query_type,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Origin      string         `json:"origin"`

	// ReplyTo is the subject the sender listens on for the response.
	// Empty for fire-and-forget commands.
	ReplyTo string `json:"reply_to,omitempty"`
}

// TypeTag returns the command or query type, whichever is set.
func (e *Envelope) TypeTag() string {
	if e.CommandType != "" {
		return e.CommandType
	}
	return e.QueryType
}

// Body returns the payload for commands or the parameters for queries.
func (e *Envelope) Body() map[string]any {
	if e.CommandType != "" {
		return e.Payload
	}
	return e.Parameters
}

// NewCommand builds a fire-and-forget command envelope.
func NewCommand(commandType, origin string, payload map[string]any) *Envelope {
	return &Envelope{
		ID:          uuid.NewString(),
		CommandType: commandType,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
		Origin:      origin,
	}
}

// NewQuery builds a request-reply query envelope. The Gateway fills in
// ReplyTo when the query is sent through Request.
func NewQuery(queryType, origin string, parameters map[string]any) *Envelope {
	return &Envelope{
		ID:         uuid.NewString(),
		QueryType:  queryType,
		Parameters: parameters,
		Timestamp:  time.Now().UTC(),
		Origin:     origin,
	}
}

// DialogMessage is addressed to a specific conversation session.
type DialogMessage struct {
	ID        string         `json:"id"`
	DialogID  string         `json:"dialog_id"`
	Sender    string         `json:"sender"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	ReplyTo   string         `json:"reply_to,omitempty"`
}

// Event is published by the agent on the events subject, either as the
// outcome of a command or as a dialog turn notification.
type Event struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	AgentID   string         `json:"agent_id"`
}

// NewEvent builds an event with a fresh id.
func NewEvent(eventType, agentID string, payload map[string]any) *Event {
	return &Event{
		ID:        uuid.NewString(),
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		AgentID:   agentID,
	}
}

// ErrorInfo describes a failure in a response envelope.
type ErrorInfo struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Response mirrors the id of the envelope it answers.
type Response struct {
	ID        string         `json:"id"`
	Success   bool           `json:"success"`
	Result    map[string]any `json:"result,omitempty"`
	Error     *ErrorInfo     `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// OK builds a success response correlated to requestID.
func OK(requestID string, result map[string]any) *Response {
	return &Response{
		ID:        requestID,
		Success:   true,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
}

// Fail builds an error response correlated to requestID.
func Fail(requestID, kind, message string, retryable bool) *Response {
	return &Response{
		ID:      requestID,
		Success: false,
		Error: &ErrorInfo{
			Kind:      kind,
			Message:   message,
			Retryable: retryable,
		},
		Timestamp: time.Now().UTC(),
	}
}
