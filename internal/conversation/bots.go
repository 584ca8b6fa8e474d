// ABOUTME: Chatbot profiles and the human-to-bot dialog flow
// ABOUTME: Human turn is recorded and echoed before dispatch; the reply is recorded before delivery

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/huddle-gateway/internal/dispatch"
	"github.com/2389/huddle-gateway/internal/store"
)

// Default bot identity, provisioned at startup when a platform key is configured.
const (
	DefaultBotName  = "Gemini Assistant"
	DefaultBotModel = string(dispatch.ModelGeminiFlash)

	// placeholderKey is the value shipped in sample env files.
	placeholderKey = "your_gemini_api_key_here"
)

// EnsureDefaultBot returns the default bot, creating it if it does not
// exist and apiKey is usable. Returns nil without error when no usable
// key is configured.
func (s *Service) EnsureDefaultBot(ctx context.Context, apiKey string) (*store.BotProfile, error) {
	s.defaultBotMu.Lock()
	defer s.defaultBotMu.Unlock()

	existing, err := s.dir.FindDefaultBotProfile(ctx)
	if err == nil {
		s.logger.Debug("default bot already exists", "bot_id", existing.ID)
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up default bot: %w", err)
	}

	if apiKey == "" || apiKey == placeholderKey {
		s.logger.Info("no default bot API key configured, skipping default bot creation")
		return nil, nil
	}

	envelope, err := s.keys.Seal(apiKey)
	if err != nil {
		return nil, fmt.Errorf("sealing default bot key: %w", err)
	}

	bot := &store.BotProfile{
		Name:         DefaultBotName,
		Model:        DefaultBotModel,
		EncryptedKey: envelope,
		IsDefault:    true,
	}
	if err := s.dir.CreateBotProfile(ctx, bot); err != nil {
		return nil, fmt.Errorf("creating default bot: %w", err)
	}

	s.logger.Info("default bot created", "bot_id", bot.ID, "model", bot.Model)
	return bot, nil
}

// CreateBot stores a new bot for owner with its API key encrypted.
func (s *Service) CreateBot(ctx context.Context, owner, name, model, apiKey string) (*store.BotProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" || model == "" || apiKey == "" {
		return nil, fmt.Errorf("%w: name, model, and API key are required", ErrInvalidInput)
	}
	if !s.dispatcher.Supports(model) {
		return nil, fmt.Errorf("%w: %q", dispatch.ErrUnsupportedModel, model)
	}

	envelope, err := s.keys.Seal(apiKey)
	if err != nil {
		return nil, fmt.Errorf("sealing bot key: %w", err)
	}

	bot := &store.BotProfile{
		OwnerID:      owner,
		Name:         name,
		Model:        model,
		EncryptedKey: envelope,
	}
	if err := s.dir.CreateBotProfile(ctx, bot); err != nil {
		return nil, fmt.Errorf("creating bot: %w", err)
	}

	s.logger.Info("bot created", "bot_id", bot.ID, "owner", owner, "model", model)
	return bot, nil
}

// ListBots returns the default bot plus owner's bots.
func (s *Service) ListBots(ctx context.Context, owner string) ([]*store.BotProfile, error) {
	bots, err := s.dir.ListBotProfiles(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing bots: %w", err)
	}
	return bots, nil
}

// DeleteBot deletes one of owner's bots. The default bot cannot be deleted.
func (s *Service) DeleteBot(ctx context.Context, owner, botID string) error {
	if err := s.dir.DeleteBotProfile(ctx, botID, owner); err != nil {
		return fmt.Errorf("deleting bot: %w", err)
	}
	s.logger.Info("bot deleted", "bot_id", botID, "owner", owner)
	return nil
}

// BotMessages returns identity's dialog with a bot, oldest first.
func (s *Service) BotMessages(ctx context.Context, identity, botID string) ([]*store.Message, error) {
	if _, err := s.visibleBot(ctx, identity, botID); err != nil {
		return nil, err
	}
	msgs, err := s.dir.FindDirectMessages(ctx, identity, botID, 0, false)
	if err != nil {
		return nil, fmt.Errorf("loading bot messages: %w", err)
	}
	return msgs, nil
}

// BotExchange is the result of one human turn with a bot. Reply is nil
// when dispatch failed.
type BotExchange struct {
	Human *store.Message
	Reply *store.Message
}

// SendToBot runs one dialog turn: record and echo the human message, ask
// the provider with recent history, then record and deliver the reply.
// On dispatch failure the human message stays recorded and delivered, no
// reply is stored, and the dispatch error is returned alongside the
// exchange: a *dispatch.ProviderError, or secret.ErrConfiguration when the
// bot has no usable credential.
//
// Dispatch and the reply write run detached from ctx's cancellation so a
// client that disconnects mid-call still gets the reply in its history.
func (s *Service) SendToBot(ctx context.Context, identity, botID, text string) (*BotExchange, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: message text is required", ErrInvalidInput)
	}
	bot, err := s.visibleBot(ctx, identity, botID)
	if err != nil {
		return nil, err
	}
	if !s.dispatcher.Supports(bot.Model) {
		return nil, fmt.Errorf("%w: %q", dispatch.ErrUnsupportedModel, bot.Model)
	}

	human := &store.Message{
		SenderID:   identity,
		SenderKind: store.SenderHuman,
		ReceiverID: bot.ID,
		Text:       text,
	}
	if err := s.dir.AppendMessage(ctx, human); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}
	s.router.DeliverTo(identity, human)
	exchange := &BotExchange{Human: human}

	detached := context.WithoutCancel(ctx)

	history, err := s.recentHistory(detached, identity, bot.ID, human.ID)
	if err != nil {
		return exchange, err
	}

	replyText, err := s.dispatcher.Dispatch(detached, bot, text, history)
	if err != nil {
		return exchange, err
	}

	reply := &store.Message{
		SenderID:   bot.ID,
		SenderKind: store.SenderBot,
		ReceiverID: identity,
		Text:       replyText,
	}
	if err := s.dir.AppendMessage(detached, reply); err != nil {
		return exchange, fmt.Errorf("failed to record reply: %w", err)
	}
	s.router.Deliver(reply)
	exchange.Reply = reply

	s.logger.Debug("bot exchange completed",
		"bot_id", bot.ID,
		"identity", identity,
		"human_message_id", human.ID,
		"reply_message_id", reply.ID)
	return exchange, nil
}

// recentHistory returns the most recent prior messages between identity
// and the bot, excluding the message just sent.
func (s *Service) recentHistory(ctx context.Context, identity, botID, excludeID string) ([]*store.Message, error) {
	limit := s.dispatcher.HistoryLimit()
	msgs, err := s.dir.FindDirectMessages(ctx, identity, botID, limit+1, true)
	if err != nil {
		return nil, fmt.Errorf("loading bot history: %w", err)
	}
	out := make([]*store.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != excludeID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// visibleBot returns a bot identity may talk to: the default bot or one it owns.
func (s *Service) visibleBot(ctx context.Context, identity, botID string) (*store.BotProfile, error) {
	bot, err := s.dir.GetBotProfile(ctx, botID)
	if err != nil {
		return nil, err
	}
	if !bot.IsDefault && bot.OwnerID != identity {
		return nil, store.ErrNotFound
	}
	return bot, nil
}
