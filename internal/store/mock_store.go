// ABOUTME: Mock Directory implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Directory implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	conversations map[string]*Conversation // keyed by conversation ID
	pairIndex     map[string]string        // keyed by pairKey -> conversation ID
	messages      []*Message               // insertion order
	bots          map[string]*BotProfile   // keyed by bot ID
	contacts      map[string]bool          // keyed by "a\x00b"

	// AppendErr, when set, is returned by AppendMessage.
	AppendErr error
}

var _ Directory = (*MockStore)(nil)

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		conversations: make(map[string]*Conversation),
		pairIndex:     make(map[string]string),
		bots:          make(map[string]*BotProfile),
		contacts:      make(map[string]bool),
	}
}

func copyConversation(c *Conversation) *Conversation {
	out := *c
	out.Participants = slices.Clone(c.Participants)
	return &out
}

// FindConversationsByParticipant returns conversations identity belongs to.
func (m *MockStore) FindConversationsByParticipant(ctx context.Context, identity string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(identity) {
			out = append(out, copyConversation(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

// FindConversationByExactParticipants returns the direct conversation for a pair.
func (m *MockStore) FindConversationByExactParticipants(ctx context.Context, participants []string) (*Conversation, error) {
	ids := normalizeParticipants(participants)
	if len(ids) != 2 {
		return nil, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.pairIndex[pairKey(ids[0], ids[1])]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(m.conversations[id]), nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyConversation(c), nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	conv.Participants = normalizeParticipants(conv.Participants)
	if len(conv.Participants) < 2 {
		return fmt.Errorf("conversation needs at least 2 participants")
	}
	if !conv.IsGroup && len(conv.Participants) != 2 {
		return fmt.Errorf("direct conversation needs exactly 2 participants")
	}
	if conv.ID == "" {
		conv.ID = uuid.New().String()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !conv.IsGroup {
		key := pairKey(conv.Participants[0], conv.Participants[1])
		if _, exists := m.pairIndex[key]; exists {
			return ErrDuplicateConversation
		}
		m.pairIndex[key] = conv.ID
	}
	m.conversations[conv.ID] = copyConversation(conv)
	return nil
}

// AddParticipant adds identity to a conversation.
func (m *MockStore) AddParticipant(ctx context.Context, conversationID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	if !c.HasParticipant(identity) {
		c.Participants = append(c.Participants, identity)
	}
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// RemoveParticipant removes identity from a conversation.
func (m *MockStore) RemoveParticipant(ctx context.Context, conversationID, identity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok || !c.HasParticipant(identity) {
		return ErrNotFound
	}
	c.Participants = slices.DeleteFunc(c.Participants, func(p string) bool { return p == identity })
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// RenameConversation sets a conversation's name.
func (m *MockStore) RenameConversation(ctx context.Context, conversationID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.Name = name
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// SetLastMessage records a conversation's latest message.
func (m *MockStore) SetLastMessage(ctx context.Context, conversationID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.LastMessageID = messageID
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendMessage stores a message.
func (m *MockStore) AppendMessage(ctx context.Context, msg *Message) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	msgCopy := *msg
	m.messages = append(m.messages, &msgCopy)
	return nil
}

// FindMessages returns a conversation's messages in insertion order.
func (m *MockStore) FindMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages {
		if msg.ConversationID == conversationID {
			msgCopy := *msg
			out = append(out, &msgCopy)
		}
	}
	return out, nil
}

// FindDirectMessages returns messages between a and b.
func (m *MockStore) FindDirectMessages(ctx context.Context, a, b string, limit int, newestFirst bool) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Message
	for _, msg := range m.messages {
		if (msg.SenderID == a && msg.ReceiverID == b) || (msg.SenderID == b && msg.ReceiverID == a) {
			msgCopy := *msg
			out = append(out, &msgCopy)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	if newestFirst {
		slices.Reverse(out)
	}
	return out, nil
}

// CreateBotProfile stores a bot profile.
func (m *MockStore) CreateBotProfile(ctx context.Context, bot *BotProfile) error {
	if bot.ID == "" {
		bot.ID = uuid.New().String()
	}
	if bot.CreatedAt.IsZero() {
		bot.CreatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if bot.IsDefault {
		for _, existing := range m.bots {
			if existing.IsDefault {
				return fmt.Errorf("bot profile conflicts with an existing one: default already exists")
			}
		}
	}
	botCopy := *bot
	m.bots[bot.ID] = &botCopy
	return nil
}

// GetBotProfile retrieves a bot profile by ID.
func (m *MockStore) GetBotProfile(ctx context.Context, id string) (*BotProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bot, ok := m.bots[id]
	if !ok {
		return nil, ErrNotFound
	}
	botCopy := *bot
	return &botCopy, nil
}

// FindDefaultBotProfile retrieves the default bot.
func (m *MockStore) FindDefaultBotProfile(ctx context.Context) (*BotProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, bot := range m.bots {
		if bot.IsDefault {
			botCopy := *bot
			return &botCopy, nil
		}
	}
	return nil, ErrNotFound
}

// ListBotProfiles returns the default bot followed by ownerID's bots.
func (m *MockStore) ListBotProfiles(ctx context.Context, ownerID string) ([]*BotProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*BotProfile
	for _, bot := range m.bots {
		if bot.IsDefault || bot.OwnerID == ownerID {
			botCopy := *bot
			out = append(out, &botCopy)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteBotProfile deletes a non-default bot owned by ownerID.
func (m *MockStore) DeleteBotProfile(ctx context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bot, ok := m.bots[id]
	if !ok || bot.IsDefault || bot.OwnerID != ownerID {
		return ErrNotFound
	}
	delete(m.bots, id)
	return nil
}

// AddContact records a mutual contact relationship.
func (m *MockStore) AddContact(ctx context.Context, a, b string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.contacts[a+"\x00"+b] = true
	m.contacts[b+"\x00"+a] = true
	return nil
}

// AreContacts reports whether b is in a's contacts.
func (m *MockStore) AreContacts(ctx context.Context, a, b string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.contacts[a+"\x00"+b], nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}
