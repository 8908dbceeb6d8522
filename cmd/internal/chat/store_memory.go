package chat

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"
)

const memMaxMessagesPerConversation = 2000

// MemoryStore is a Store for development and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	convs map[string]*memConv
	msgs  map[string]*Message
}

type memConv struct {
	conv Conversation
	seq  int64
	ids  []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs: make(map[string]*memConv),
		msgs:  make(map[string]*Message),
	}
}

func (s *MemoryStore) CreateConversation(ctx context.Context, c Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.convs[c.ID]; ok {
		return errors.New("conversation already exists")
	}
	s.convs[c.ID] = &memConv{conv: c}
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	if err := ctx.Err(); err != nil {
		return Conversation{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrConversationNotFound
	}
	return c.conv, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID string, limit int) ([]Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Conversation
	for _, c := range s.convs {
		if c.conv.UserID == userID {
			out = append(out, c.conv)
		}
	}
	slices.SortFunc(out, func(a, b Conversation) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) AppendMessage(ctx context.Context, m Message) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[m.ConversationID]
	if !ok {
		return Message{}, ErrConversationNotFound
	}
	if _, dup := s.msgs[m.ID]; dup {
		return Message{}, errors.New("message already exists")
	}

	c.seq++
	m.Seq = c.seq
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	m.ProviderMeta = maps.Clone(m.ProviderMeta)
	stored := m
	s.msgs[m.ID] = &stored
	c.ids = append(c.ids, m.ID)
	if m.CreatedAt.After(c.conv.UpdatedAt) {
		c.conv.UpdatedAt = m.CreatedAt
	}

	// Bound memory in long-running dev processes.
	if len(c.ids) > memMaxMessagesPerConversation {
		for _, id := range c.ids[:len(c.ids)-memMaxMessagesPerConversation] {
			delete(s.msgs, id)
		}
		c.ids = slices.Clone(c.ids[len(c.ids)-memMaxMessagesPerConversation:])
	}
	return m, nil
}

func (s *MemoryStore) UpdateMessage(ctx context.Context, id string, p MessagePatch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.msgs[id]
	if !ok {
		return errMessageNotFound
	}
	m.Content = p.Content
	m.Status = p.Status
	m.Tokens = p.Tokens
	if p.ProviderMeta != nil {
		m.ProviderMeta = maps.Clone(p.ProviderMeta)
	}
	if !p.At.IsZero() {
		m.UpdatedAt = p.At
		if c := s.convs[m.ConversationID]; c != nil && p.At.After(c.conv.UpdatedAt) {
			c.conv.UpdatedAt = p.At
		}
	}
	return nil
}

func (s *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	out := make([]Message, 0, len(c.ids))
	for _, id := range c.ids {
		m := *s.msgs[id]
		m.ProviderMeta = maps.Clone(m.ProviderMeta)
		out = append(out, m)
	}
	return out, nil
}
