// ABOUTME: Provider-agnostic chatbot dispatch: model lookup, key resolution, context window
// ABOUTME: Routes a bounded conversation history to the provider bound to the bot's model

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/huddle-gateway/internal/metrics"
	"github.com/2389/huddle-gateway/internal/secret"
	"github.com/2389/huddle-gateway/internal/store"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultSystemPrompt = "You are a helpful assistant."
	DefaultMaxTokens    = 1500
	DefaultTemperature  = 0.7
	DefaultHistoryLimit = 10
	DefaultTimeout      = 30 * time.Second
)

// ErrUnsupportedModel is returned before any key resolution or network call
// when a bot names a model with no provider binding.
var ErrUnsupportedModel = errors.New("unsupported model")

// ErrProviderDispatch matches every *ProviderError via errors.Is.
var ErrProviderDispatch = errors.New("provider dispatch failed")

// errEmptyReply marks a provider call that succeeded without any text.
var errEmptyReply = errors.New("provider returned an empty reply")

// ProviderError describes a failed provider call. Its message names only the
// model, provider, and status or failure class: provider response bodies can
// echo credential fragments, so Err is reachable through Unwrap but never
// rendered.
type ProviderError struct {
	Model      Model
	Provider   string
	StatusCode int // 0 when the failure happened before an HTTP response
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s via %s: status %d", e.Model, e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s via %s: %s", e.Model, e.Provider, e.cause())
}

// cause classifies a failure that produced no HTTP status.
func (e *ProviderError) cause() string {
	switch {
	case errors.Is(e.Err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(e.Err, context.Canceled):
		return "canceled"
	case errors.Is(e.Err, errEmptyReply):
		return "empty reply"
	default:
		return "request failed"
	}
}

func (e *ProviderError) Unwrap() []error {
	return []error{ErrProviderDispatch, e.Err}
}

// Role is a speaker role in a provider conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of provider-facing history.
type Turn struct {
	Role Role
	Text string
}

// Request is everything a provider needs for one completion.
type Request struct {
	Model        Model
	APIKey       string
	SystemPrompt string
	History      []Turn
	Prompt       string
	MaxTokens    int
	Temperature  float64
}

// Provider turns a Request into a single reply.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// KeyOpener decrypts stored provider credentials.
type KeyOpener interface {
	Open(envelope string) (string, error)
}

// Config tunes dispatch requests.
type Config struct {
	DefaultAPIKey string
	SystemPrompt  string
	MaxTokens     int
	Temperature   *float64 // nil selects DefaultTemperature; 0 is honored
	HistoryLimit  int
	Timeout       time.Duration
}

func (c Config) withDefaults() Config {
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.Temperature == nil {
		t := DefaultTemperature
		c.Temperature = &t
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// Gateway dispatches bot turns to providers.
type Gateway struct {
	cfg       Config
	keys      KeyOpener
	providers map[Model]Provider
	logger    *slog.Logger
}

// NewGateway creates a Gateway over the given model bindings. Pass nil logger for default.
func NewGateway(cfg Config, keys KeyOpener, providers map[Model]Provider, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:       cfg.withDefaults(),
		keys:      keys,
		providers: providers,
		logger:    logger.With("component", "dispatch"),
	}
}

// HistoryLimit is the number of prior messages the gateway will use.
func (g *Gateway) HistoryLimit() int {
	return g.cfg.HistoryLimit
}

// Supports reports whether model has a provider binding.
func (g *Gateway) Supports(model string) bool {
	_, ok := g.providers[Model(model)]
	return ok
}

// Dispatch sends prompt plus bounded history to the provider bound to
// bot.Model and returns the reply text. The caller owns ctx; dispatch adds
// its own timeout on top of it.
func (g *Gateway) Dispatch(ctx context.Context, bot *store.BotProfile, prompt string, history []*store.Message) (string, error) {
	model := Model(bot.Model)
	provider, ok := g.providers[model]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, bot.Model)
	}

	apiKey, err := g.resolveKey(bot)
	if err != nil {
		return "", err
	}

	req := Request{
		Model:        model,
		APIKey:       apiKey,
		SystemPrompt: g.cfg.SystemPrompt,
		History:      BuildContext(history, g.cfg.HistoryLimit),
		Prompt:       prompt,
		MaxTokens:    g.cfg.MaxTokens,
		Temperature:  *g.cfg.Temperature,
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	start := time.Now()
	reply, err := provider.Complete(ctx, req)
	elapsed := time.Since(start)
	metrics.DispatchDuration.WithLabelValues(provider.Name()).Observe(elapsed.Seconds())

	if err == nil && reply == "" {
		err = errEmptyReply
	}
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(provider.Name(), "error").Inc()
		perr := &ProviderError{
			Model:      model,
			Provider:   provider.Name(),
			StatusCode: statusCode(err),
			Err:        err,
		}
		g.logger.Warn("bot dispatch failed",
			"bot_id", bot.ID,
			"model", model,
			"provider", provider.Name(),
			"status", perr.StatusCode,
			"duration_ms", elapsed.Milliseconds(),
			"error", perr)
		return "", perr
	}

	metrics.DispatchTotal.WithLabelValues(provider.Name(), "ok").Inc()
	g.logger.Debug("bot dispatch completed",
		"bot_id", bot.ID,
		"model", model,
		"provider", provider.Name(),
		"history", len(req.History),
		"duration_ms", elapsed.Milliseconds())
	return reply, nil
}

// resolveKey returns the platform credential for the default bot and the
// decrypted owner credential otherwise.
func (g *Gateway) resolveKey(bot *store.BotProfile) (string, error) {
	if bot.IsDefault {
		if g.cfg.DefaultAPIKey == "" {
			return "", fmt.Errorf("%w: default bot credential is not configured", secret.ErrConfiguration)
		}
		return g.cfg.DefaultAPIKey, nil
	}
	if g.keys == nil {
		return "", fmt.Errorf("%w: no key opener configured", secret.ErrConfiguration)
	}
	key, err := g.keys.Open(bot.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("opening key for bot %s: %w", bot.ID, err)
	}
	return key, nil
}

// BuildContext keeps the limit most recent messages with text, oldest
// first, and maps human senders to the user role and bots to assistant.
func BuildContext(history []*store.Message, limit int) []Turn {
	msgs := make([]*store.Message, 0, len(history))
	for _, m := range history {
		if m != nil && m.Text != "" {
			msgs = append(msgs, m)
		}
	}
	sortChronological(msgs)
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}

	turns := make([]Turn, len(msgs))
	for i, m := range msgs {
		role := RoleUser
		if m.SenderKind == store.SenderBot {
			role = RoleAssistant
		}
		turns[i] = Turn{Role: role, Text: m.Text}
	}
	return turns
}
