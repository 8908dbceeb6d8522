package chat

import (
	"strings"
	"time"
	"unicode/utf8"

	v1 "parley/shared/contracts/chatstream/v1"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

type Visibility string

const (
	VisibilityPrivate  Visibility = "private"
	VisibilityUnlisted Visibility = "unlisted"
	VisibilityPublic   Visibility = "public"
)

type Conversation struct {
	ID           string
	UserID       string
	Title        string
	Model        string
	SystemPrompt string
	Visibility   Visibility
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Message is one turn. Seq is assigned by the Store and orders messages
// within a conversation.
type Message struct {
	ID             string
	ConversationID string
	Seq            int64
	AuthorID       string
	Role           Role
	Content        string
	Status         Status
	Tokens         int
	ProviderMeta   map[string]any
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MessagePatch replaces the mutable fields of a message. A nil ProviderMeta
// leaves the stored value alone.
type MessagePatch struct {
	Content      string
	Status       Status
	Tokens       int
	ProviderMeta map[string]any
	At           time.Time
}

// Request is one prompt. ConversationID may be empty to start a new
// conversation; AuthorID defaults to UserID.
type Request struct {
	UserID         string
	ConversationID string
	Text           string
	AuthorID       string
	Tags           []string
	Metadata       map[string]any
}

// Result is a finished turn.
type Result struct {
	Conversation Conversation
	Request      Message
	Response     Message
}

// countTokens approximates tokens as whitespace-separated words.
func countTokens(s string) int { return len(strings.Fields(s)) }

// titleFrom returns the first n runes of text.
func titleFrom(text string, n int) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	r := []rune(text)
	return string(r[:n])
}

func (c Conversation) Wire() v1.Conversation {
	return v1.Conversation{
		ID:           c.ID,
		UserID:       c.UserID,
		Title:        c.Title,
		Model:        c.Model,
		SystemPrompt: c.SystemPrompt,
		Visibility:   string(c.Visibility),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}

func (m Message) Wire() v1.Message {
	return v1.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Seq:            m.Seq,
		Role:           string(m.Role),
		Content:        m.Content,
		AuthorID:       m.AuthorID,
		Tokens:         m.Tokens,
		Status:         string(m.Status),
		ProviderMeta:   m.ProviderMeta,
		CreatedAt:      m.CreatedAt,
	}
}
