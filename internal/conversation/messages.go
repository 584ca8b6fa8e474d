// ABOUTME: Human-to-human messaging within conversations
// ABOUTME: Persist, update the last-message pointer, then broadcast to the room

package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389/huddle-gateway/internal/store"
)

// SendMessage persists a message from sender into a conversation and
// delivers it to the conversation's room.
func (s *Service) SendMessage(ctx context.Context, sender, conversationID, text, attachment string) (*store.Message, error) {
	if strings.TrimSpace(text) == "" && attachment == "" {
		return nil, fmt.Errorf("%w: text or attachment is required", ErrInvalidInput)
	}

	conv, err := s.dir.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(sender) {
		return nil, ErrNotParticipant
	}

	msg := &store.Message{
		SenderID:       sender,
		SenderKind:     store.SenderHuman,
		ConversationID: conversationID,
		Text:           text,
		Attachment:     attachment,
	}
	if err := s.dir.AppendMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	if err := s.dir.SetLastMessage(ctx, conversationID, msg.ID); err != nil {
		s.logger.Warn("failed to update last message",
			"conversation_id", conversationID,
			"message_id", msg.ID,
			"error", err)
	}

	delivered := s.router.Deliver(msg)
	s.logger.Debug("message sent",
		"conversation_id", conversationID,
		"message_id", msg.ID,
		"sender", sender,
		"delivered", delivered)
	return msg, nil
}

// Messages returns a conversation's history for a participant.
func (s *Service) Messages(ctx context.Context, identity, conversationID string) ([]*store.Message, error) {
	if _, err := s.GetConversation(ctx, identity, conversationID); err != nil {
		return nil, err
	}
	msgs, err := s.dir.FindMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	return msgs, nil
}
