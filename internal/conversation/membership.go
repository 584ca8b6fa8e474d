// ABOUTME: Conversation creation and group membership rules
// ABOUTME: Direct chats are unique per pair; groups have an admin who controls membership

package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/2389/huddle-gateway/internal/store"
)

// DefaultGroupName is used when a group is created without a name.
const DefaultGroupName = "New Group"

// CreateRequest describes a new conversation from the creator's point of view.
type CreateRequest struct {
	Creator      string
	Participants []string
	Name         string
	IsGroup      bool
}

// CreateConversation creates a direct or group conversation. The creator is
// always a participant and every other participant must be a contact of
// the creator. More than two participants always makes a group. For a
// direct conversation that already exists, the existing one is returned
// with created=false.
func (s *Service) CreateConversation(ctx context.Context, req CreateRequest) (conv *store.Conversation, created bool, err error) {
	if req.Creator == "" {
		return nil, false, fmt.Errorf("%w: creator is required", ErrInvalidInput)
	}

	others := make([]string, 0, len(req.Participants))
	for _, p := range req.Participants {
		p = strings.TrimSpace(p)
		if p != "" && p != req.Creator && !slices.Contains(others, p) {
			others = append(others, p)
		}
	}
	if len(others) == 0 {
		return nil, false, fmt.Errorf("%w: at least 2 participants are required", ErrInvalidInput)
	}

	for _, p := range others {
		ok, err := s.dir.AreContacts(ctx, req.Creator, p)
		if err != nil {
			return nil, false, fmt.Errorf("checking contacts: %w", err)
		}
		if !ok {
			return nil, false, fmt.Errorf("%w: %s is not a contact", ErrMembership, p)
		}
	}

	all := append([]string{req.Creator}, others...)
	isGroup := req.IsGroup || len(all) > 2

	if !isGroup {
		existing, err := s.dir.FindConversationByExactParticipants(ctx, all)
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, fmt.Errorf("looking up direct conversation: %w", err)
		}
	}

	conv = &store.Conversation{
		Participants: all,
		IsGroup:      isGroup,
	}
	if isGroup {
		conv.Name = strings.TrimSpace(req.Name)
		if conv.Name == "" {
			conv.Name = DefaultGroupName
		}
		conv.AdminID = req.Creator
	}

	if err := s.dir.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrDuplicateConversation) {
			// Lost a race with a concurrent create for the same pair.
			existing, findErr := s.dir.FindConversationByExactParticipants(ctx, all)
			if findErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Info("conversation created",
		"conversation_id", conv.ID,
		"creator", req.Creator,
		"group", conv.IsGroup,
		"participants", len(conv.Participants))

	s.reconcile(ctx, conv.Participants...)
	return conv, true, nil
}

// ListConversations returns identity's conversations, most recent first.
func (s *Service) ListConversations(ctx context.Context, identity string) ([]*store.Conversation, error) {
	convs, err := s.dir.FindConversationsByParticipant(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	return convs, nil
}

// GetConversation returns a conversation the caller participates in.
func (s *Service) GetConversation(ctx context.Context, identity, conversationID string) (*store.Conversation, error) {
	conv, err := s.dir.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(identity) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// RenameGroup renames a group. Only the admin may rename.
func (s *Service) RenameGroup(ctx context.Context, actor, conversationID, name string) (*store.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if _, err := s.adminGroup(ctx, actor, conversationID); err != nil {
		return nil, err
	}
	if err := s.dir.RenameConversation(ctx, conversationID, name); err != nil {
		return nil, fmt.Errorf("renaming conversation: %w", err)
	}
	return s.dir.GetConversation(ctx, conversationID)
}

// AddMember adds identity to a group. Only the admin may add members.
func (s *Service) AddMember(ctx context.Context, actor, conversationID, identity string) (*store.Conversation, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return nil, fmt.Errorf("%w: member is required", ErrInvalidInput)
	}
	conv, err := s.adminGroup(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.HasParticipant(identity) {
		return nil, fmt.Errorf("%w: user is already in the group", ErrMembership)
	}

	if err := s.dir.AddParticipant(ctx, conversationID, identity); err != nil {
		return nil, fmt.Errorf("adding member: %w", err)
	}
	s.logger.Info("group member added",
		"conversation_id", conversationID,
		"identity", identity,
		"by", actor)

	s.reconcile(ctx, identity)
	return s.dir.GetConversation(ctx, conversationID)
}

// RemoveMember removes identity from a group. Only the admin may remove
// members, and the admin cannot remove themselves.
func (s *Service) RemoveMember(ctx context.Context, actor, conversationID, identity string) (*store.Conversation, error) {
	conv, err := s.adminGroup(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(identity) {
		return nil, fmt.Errorf("%w: user is not in the group", ErrMembership)
	}
	if identity == conv.AdminID {
		return nil, fmt.Errorf("%w: admin cannot remove themselves", ErrMembership)
	}

	if err := s.dir.RemoveParticipant(ctx, conversationID, identity); err != nil {
		return nil, fmt.Errorf("removing member: %w", err)
	}
	s.logger.Info("group member removed",
		"conversation_id", conversationID,
		"identity", identity,
		"by", actor)

	s.reconcile(ctx, identity)
	return s.dir.GetConversation(ctx, conversationID)
}

// AddContact records a mutual contact relationship. The friend-request
// workflow that normally precedes this lives outside the gateway.
func (s *Service) AddContact(ctx context.Context, identity, contact string) error {
	contact = strings.TrimSpace(contact)
	if contact == "" || contact == identity {
		return fmt.Errorf("%w: contact must be another identity", ErrInvalidInput)
	}
	if err := s.dir.AddContact(ctx, identity, contact); err != nil {
		return fmt.Errorf("adding contact: %w", err)
	}
	return nil
}

// adminGroup loads a group conversation and checks actor is its admin.
func (s *Service) adminGroup(ctx context.Context, actor, conversationID string) (*store.Conversation, error) {
	conv, err := s.dir.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup {
		return nil, fmt.Errorf("%w: not a group conversation", ErrMembership)
	}
	if conv.AdminID != actor {
		return nil, ErrNotAdmin
	}
	return conv, nil
}
