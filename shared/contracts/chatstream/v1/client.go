package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Client frame types (client -> server, WebSocket only).
const (
	TypeChatStart  = "chat.start"
	TypeChatCancel = "chat.cancel"
)

// ClientFrame is the inbound WebSocket wrapper.
type ClientFrame struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation only; payloads are decoded by type.
func (f ClientFrame) Validate() error {
	if strings.TrimSpace(f.V) == "" {
		return errors.New("missing field: v")
	}
	if f.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", f.V)
	}
	switch f.Type {
	case TypeChatStart:
		if len(f.Payload) == 0 {
			return errors.New("missing field: payload")
		}
		return nil
	case TypeChatCancel:
		return nil
	case "":
		return errors.New("missing field: type")
	default:
		return fmt.Errorf("unknown type: %q", f.Type)
	}
}

// StartPayload opens a turn. An empty ConversationID starts a new
// conversation.
type StartPayload struct {
	ConversationID string         `json:"conversation_id,omitempty"`
	Text           string         `json:"text"`
	Tags           []string       `json:"tags,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}
