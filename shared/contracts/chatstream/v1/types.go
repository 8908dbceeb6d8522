// Package v1 defines the chat stream wire contract shared by the SSE and
// WebSocket transports.
//
// Over SSE every event is one frame:
//
//	event: snapshot
//	data: {"conversation":{...},"request_message":{...},"response_message":{...}}
//
//	data: {"conversation_id":"...","message_id":"...","delta":"Hel","done":false}
//
// Deltas carry no event line. Over WebSocket every event is a JSON text
// frame of the form {"v":"v1","type":"delta","payload":{...}}.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Version is embedded into every WebSocket frame.
const Version = "v1"

// Event types (wire-stable).
const (
	TypeSnapshot = "snapshot"
	TypeDelta    = "delta"
	TypeError    = "error"
)

// Terminal statuses carried by the done:true delta.
const (
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Error codes carried by error events.
const (
	CodeGeneratorFailed   = "generator_failed"
	CodePersistenceFailed = "persistence_failed"
	CodeTimeout           = "timeout"
	CodeShutdown          = "shutdown"
	CodeCancelled         = "cancelled"
)

type Conversation struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Title        string    `json:"title,omitempty"`
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Visibility   string    `json:"visibility"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Seq            int64          `json:"seq"`
	Role           string         `json:"role"`
	Content        string         `json:"content"`
	AuthorID       string         `json:"author_id,omitempty"`
	Tokens         int            `json:"tokens"`
	Status         string         `json:"status"`
	ProviderMeta   map[string]any `json:"provider_meta,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Snapshot is the baseline sent before any delta.
type Snapshot struct {
	Conversation    Conversation `json:"conversation"`
	RequestMessage  Message      `json:"request_message"`
	ResponseMessage Message      `json:"response_message"`
}

// Delta is one fragment. The last delta of a session has Done set, an
// empty Delta and a Status of complete or failed.
type Delta struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Delta          string `json:"delta"`
	Done           bool   `json:"done"`
	Status         string `json:"status,omitempty"`
}

type Error struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Code           string `json:"code"`
	Message        string `json:"message"`
}

// Event is a tagged union; exactly one payload matches Type.
type Event struct {
	Type     string
	Snapshot *Snapshot
	Delta    *Delta
	Error    *Error
}

func SnapshotEvent(s Snapshot) Event { return Event{Type: TypeSnapshot, Snapshot: &s} }

func DeltaEvent(d Delta) Event { return Event{Type: TypeDelta, Delta: &d} }

func ErrorEvent(e Error) Event { return Event{Type: TypeError, Error: &e} }

// Terminal reports whether e is the final done:true delta.
func (e Event) Terminal() bool {
	return e.Type == TypeDelta && e.Delta != nil && e.Delta.Done
}

// Validate checks that the payload matches the type.
func (e Event) Validate() error {
	switch e.Type {
	case TypeSnapshot:
		if e.Snapshot == nil {
			return errors.New("snapshot event without payload")
		}
	case TypeDelta:
		if e.Delta == nil {
			return errors.New("delta event without payload")
		}
		if e.Delta.Done && e.Delta.Delta != "" {
			return errors.New("terminal delta must be empty")
		}
	case TypeError:
		if e.Error == nil {
			return errors.New("error event without payload")
		}
		if e.Error.Code == "" {
			return errors.New("missing field: code")
		}
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

func (e Event) payload() any {
	switch e.Type {
	case TypeSnapshot:
		return e.Snapshot
	case TypeDelta:
		return e.Delta
	default:
		return e.Error
	}
}

// frame is the WebSocket wrapper.
type frame struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON renders the WebSocket frame.
func (e Event) MarshalJSON() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(e.payload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(frame{V: Version, Type: e.Type, Payload: raw})
}

// UnmarshalJSON parses a WebSocket frame. Clients use it; the server only
// writes events.
func (e *Event) UnmarshalJSON(b []byte) error {
	var f frame
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	if f.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", f.V)
	}

	out := Event{Type: f.Type}
	var target any
	switch f.Type {
	case TypeSnapshot:
		out.Snapshot = &Snapshot{}
		target = out.Snapshot
	case TypeDelta:
		out.Delta = &Delta{}
		target = out.Delta
	case TypeError:
		out.Error = &Error{}
		target = out.Error
	default:
		return fmt.Errorf("unknown type: %q", f.Type)
	}
	if err := json.Unmarshal(f.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", f.Type, err)
	}
	*e = out
	return nil
}
