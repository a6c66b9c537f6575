package store

import (
	"sort"
	"sync"
)

// Memory is the in-process fallback Store used when the durable backend is
// unavailable. It implements the same merge semantics as the SQLite backend
// so callers cannot tell the strategies apart.
type Memory struct {
	mu       sync.RWMutex
	settings *Settings
	chats    map[string]Chat
	messages map[string]Message
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		chats:    make(map[string]Chat),
		messages: make(map[string]Message),
	}
}

// Backend names the active storage strategy.
func (m *Memory) Backend() string { return "memory" }

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// GetSettings returns the settings, seeding defaults on first read.
func (m *Memory) GetSettings() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings == nil {
		s := DefaultSettings()
		m.settings = &s
	}
	return *m.settings, nil
}

// UpdateSettings applies a partial update and returns the merged settings.
func (m *Memory) UpdateSettings(in SettingsUpdate) (Settings, error) {
	current, _ := m.GetSettings()
	m.mu.Lock()
	defer m.mu.Unlock()
	merged := mergeSettings(current, in)
	m.settings = &merged
	return merged, nil
}

// ListChats returns chats sorted by last message timestamp descending.
func (m *Memory) ListChats() ([]Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chats := make([]Chat, 0, len(m.chats))
	for _, c := range m.chats {
		chats = append(chats, c)
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].LastMessageAt > chats[j].LastMessageAt
	})
	if len(chats) == 0 {
		return nil, nil
	}
	return chats, nil
}

// GetChat returns a chat by JID, or nil if not found.
func (m *Memory) GetChat(jid string) (*Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.chats[jid]; ok {
		out := c
		return &out, nil
	}
	return nil, nil
}

// UpsertChat merges a partial write into the chat record (idempotent on jid).
func (m *Memory) UpsertChat(in ChatUpsert) (*Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var existing *Chat
	if c, ok := m.chats[in.JID]; ok {
		existing = &c
	}
	merged := mergeChat(existing, in)
	m.chats[in.JID] = merged
	out := merged
	return &out, nil
}

// ListMessages returns all messages for a chat, newest first.
func (m *Memory) ListMessages(chatJID string) ([]Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var msgs []Message
	for _, msg := range m.messages {
		if msg.ChatJID == chatJID {
			msgs = append(msgs, msg)
		}
	}
	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Timestamp > msgs[j].Timestamp
	})
	return msgs, nil
}

// GetMessage returns a message by id, or nil if not found.
func (m *Memory) GetMessage(id string) (*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if msg, ok := m.messages[id]; ok {
		out := msg
		return &out, nil
	}
	return nil, nil
}

// UpsertMessage inserts or updates a message in place (idempotent on id).
func (m *Memory) UpsertMessage(in *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var existing *Message
	if msg, ok := m.messages[in.ID]; ok {
		existing = &msg
	}
	m.messages[in.ID] = mergeMessage(existing, in)
	return nil
}

// SetMessageStatus rewrites only the status field of an existing message.
func (m *Memory) SetMessageStatus(id, status string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return false, nil
	}
	msg.Status = status
	m.messages[id] = msg
	return true, nil
}

// ToggleStar sets the starred flag on a message. Idempotent.
func (m *Memory) ToggleStar(id string, starred bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return false, nil
	}
	msg.IsStarred = starred
	m.messages[id] = msg
	return true, nil
}

// DeleteMessage removes a message record.
func (m *Memory) DeleteMessage(id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[id]; !ok {
		return false, nil
	}
	delete(m.messages, id)
	return true, nil
}
