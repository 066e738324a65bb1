package chat

import (
	"context"
	"sort"
	"sync"
)

// memoryStore mirrors Repository semantics in memory.
type memoryStore struct {
	mu       sync.Mutex
	convs    map[string]Conversation
	messages map[string][]Message
	seq      int64
	creates  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		convs:    make(map[string]Conversation),
		messages: make(map[string][]Message),
	}
}

func (m *memoryStore) Create(ctx context.Context, conv Conversation) (Conversation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.convs[conv.ID]; ok {
		return existing, false, nil
	}
	m.creates++
	m.convs[conv.ID] = conv
	return conv, true, nil
}

func (m *memoryStore) Get(ctx context.Context, id string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c, nil
}

func (m *memoryStore) ListForActor(ctx context.Context, actor string) ([]Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Conversation
	for _, c := range m.convs {
		if c.IsParticipant(actor) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryStore) AppendMessage(ctx context.Context, msg Message) (Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[msg.ConversationID]
	if !ok {
		return Message{}, ErrNotFound
	}
	m.seq++
	msg.Seq = m.seq
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], msg)
	if !msg.CreatedAt.Before(c.LastMessageAt) {
		c.LastMessage = msg.Text
		c.LastMessageAt = msg.CreatedAt
		m.convs[c.ID] = c
	}
	return msg, nil
}

func (m *memoryStore) ListMessages(ctx context.Context, id string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]Message(nil), m.messages[id]...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}
