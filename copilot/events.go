package copilot

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of an Event.
type EventType string

const (
	EventAssistantReasoning      EventType = "assistant.reasoning"
	EventAssistantReasoningDelta EventType = "assistant.reasoning_delta"
	EventAssistantMessage        EventType = "assistant.message"
	EventAssistantMessageDelta   EventType = "assistant.message_delta"
	EventToolExecutionStart      EventType = "tool.execution_start"
	EventToolExecutionComplete   EventType = "tool.execution_complete"
	EventPermissionRequest       EventType = "permission.request"
	EventSessionCreated          EventType = "session.created"
	EventSessionIdle             EventType = "session.idle"
	EventSessionError            EventType = "session.error"
	EventModelsListResult        EventType = "models.list.result"
	EventError                   EventType = "error"

	// EventDecodeError is synthesized by the decoder for malformed frames.
	// It never appears on the wire.
	EventDecodeError EventType = "decode_error"
)

// Event is a typed notification decoded from one frame of subprocess output.
// Events are values and are never mutated after decoding.
type Event struct {
	Type      EventType
	SessionID string
	RequestID string
	Timestamp time.Time
	Data      EventData

	// Raw is the original frame.
	Raw json.RawMessage

	// Err is set only for EventDecodeError and holds a *DecodeError.
	Err error
}

// EventData is the union of payload fields used by the event types.
// Fields not relevant to a given type are left zero.
type EventData struct {
	Content      string          `json:"content,omitempty"`
	DeltaContent string          `json:"delta_content,omitempty"`
	ToolName     string          `json:"tool_name,omitempty"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	Arguments    json.RawMessage `json:"arguments,omitempty"`
	Success      *bool           `json:"success,omitempty"`
	Result       string          `json:"result,omitempty"`
	Message      string          `json:"message,omitempty"`
	PermissionID string          `json:"permission_id,omitempty"`
	Kind         string          `json:"kind,omitempty"`
	Models       []ModelInfo     `json:"models,omitempty"`
}

// ModelInfo describes one model offered by the subprocess.
type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// IsTerminal reports whether the event ends the turn of the request it belongs to.
func (e Event) IsTerminal() bool {
	return e.Type == EventSessionIdle || e.Type == EventSessionError
}
