package chat

import (
	"context"
)

// Store persists conversations and messages.
type Store interface {
	CreateConversation(ctx context.Context, c Conversation) error

	// GetConversation returns ErrConversationNotFound when id is unknown.
	GetConversation(ctx context.Context, id string) (Conversation, error)

	// ListConversations returns userID's conversations, most recently updated first.
	ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error)

	// AppendMessage assigns the next Seq of the conversation and bumps its
	// UpdatedAt.
	AppendMessage(ctx context.Context, m Message) (Message, error)

	UpdateMessage(ctx context.Context, id string, p MessagePatch) error

	// ListMessages returns the conversation's messages ordered by Seq.
	ListMessages(ctx context.Context, conversationID string) ([]Message, error)
}
