// ABOUTME: Directory interface and data models for conversations, messages, and bots
// ABOUTME: Defines the persistence contract the messaging fabric consumes

package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when a direct conversation for the
// same pair of identities already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// ErrInvalidMessage is returned when a message does not name exactly one
// of a conversation or a direct receiver
var ErrInvalidMessage = errors.New("message must target exactly one of conversation or receiver")

// SenderKind tags who authored a message.
type SenderKind string

const (
	SenderHuman SenderKind = "human"
	SenderBot   SenderKind = "bot"
)

// Conversation is a direct or group chat between participants.
type Conversation struct {
	ID            string
	Participants  []string
	IsGroup       bool
	Name          string
	AdminID       string
	LastMessageID string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HasParticipant reports whether identity is a member of the conversation.
func (c *Conversation) HasParticipant(identity string) bool {
	return slices.Contains(c.Participants, identity)
}

// Message is a single chat message. Exactly one of ConversationID and
// ReceiverID is set.
type Message struct {
	ID             string     `json:"id"`
	SenderID       string     `json:"sender_id"`
	SenderKind     SenderKind `json:"sender_kind"`
	ConversationID string     `json:"conversation_id,omitempty"`
	ReceiverID     string     `json:"receiver_id,omitempty"`
	Text           string     `json:"text,omitempty"`
	Attachment     string     `json:"attachment,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// IsDirect reports whether the message is addressed to a single receiver.
func (m *Message) IsDirect() bool {
	return m.ReceiverID != ""
}

// Validate checks the conversation/receiver exclusivity and sender fields.
func (m *Message) Validate() error {
	if (m.ConversationID == "") == (m.ReceiverID == "") {
		return ErrInvalidMessage
	}
	if m.SenderID == "" {
		return fmt.Errorf("sender is required")
	}
	if m.SenderKind != SenderHuman && m.SenderKind != SenderBot {
		return fmt.Errorf("unknown sender kind %q", m.SenderKind)
	}
	return nil
}

// BotProfile is a chatbot persona bound to a provider model. The default
// bot has no owner and uses the platform credential.
type BotProfile struct {
	ID           string
	OwnerID      string
	Name         string
	Model        string
	EncryptedKey string
	IsDefault    bool
	CreatedAt    time.Time
}

// Directory is the persistence surface consumed by the messaging fabric.
type Directory interface {
	// Conversations
	FindConversationsByParticipant(ctx context.Context, identity string) ([]*Conversation, error)
	FindConversationByExactParticipants(ctx context.Context, participants []string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	CreateConversation(ctx context.Context, conv *Conversation) error
	AddParticipant(ctx context.Context, conversationID, identity string) error
	RemoveParticipant(ctx context.Context, conversationID, identity string) error
	RenameConversation(ctx context.Context, conversationID, name string) error
	SetLastMessage(ctx context.Context, conversationID, messageID string) error

	// Messages
	AppendMessage(ctx context.Context, msg *Message) error
	FindMessages(ctx context.Context, conversationID string) ([]*Message, error)
	FindDirectMessages(ctx context.Context, a, b string, limit int, newestFirst bool) ([]*Message, error)

	// Bot profiles
	CreateBotProfile(ctx context.Context, bot *BotProfile) error
	GetBotProfile(ctx context.Context, id string) (*BotProfile, error)
	FindDefaultBotProfile(ctx context.Context) (*BotProfile, error)
	ListBotProfiles(ctx context.Context, ownerID string) ([]*BotProfile, error)
	DeleteBotProfile(ctx context.Context, id, ownerID string) error

	// Contacts
	AddContact(ctx context.Context, a, b string) error
	AreContacts(ctx context.Context, a, b string) (bool, error)

	Close() error
}

// pairKey returns an order-independent key for a direct conversation.
func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}

// normalizeParticipants returns a sorted copy with duplicates removed.
func normalizeParticipants(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
