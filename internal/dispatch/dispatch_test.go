// ABOUTME: Tests for the dispatch gateway's model lookup, key resolution, and context window
// ABOUTME: Uses a recording fake provider so no network is involved

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huddle-gateway/internal/secret"
	"github.com/2389/huddle-gateway/internal/store"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeProvider struct {
	reply string
	err   error
	delay time.Duration
	calls []Request
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req Request) (string, error) {
	f.calls = append(f.calls, req)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

type countingOpener struct {
	codec *secret.Codec
	calls int
}

func (c *countingOpener) Open(envelope string) (string, error) {
	c.calls++
	return c.codec.Open(envelope)
}

func newTestGateway(t *testing.T, p Provider, cfg Config) (*Gateway, *secret.Codec, *countingOpener) {
	t.Helper()
	codec, err := secret.NewCodec(testKeyHex)
	require.NoError(t, err)
	opener := &countingOpener{codec: codec}
	g := NewGateway(cfg, opener, map[Model]Provider{ModelGPT4o: p, ModelGeminiFlash: p}, nil)
	return g, codec, opener
}

func history(n int) []*store.Message {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]*store.Message, n)
	for i := range n {
		kind := store.SenderHuman
		if i%2 == 1 {
			kind = store.SenderBot
		}
		out[i] = &store.Message{
			ID:         fmt.Sprintf("m%d", i),
			SenderKind: kind,
			Text:       fmt.Sprintf("t%d", i),
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func TestDispatch_UnsupportedModelBeforeKeyResolution(t *testing.T) {
	p := &fakeProvider{reply: "hi"}
	g, _, opener := newTestGateway(t, p, Config{})

	bot := &store.BotProfile{ID: "b1", OwnerID: "alice", Model: "llama-99", EncryptedKey: "garbage"}
	_, err := g.Dispatch(t.Context(), bot, "hello", nil)

	assert.ErrorIs(t, err, ErrUnsupportedModel)
	assert.Zero(t, opener.calls, "key must not be resolved for unsupported models")
	assert.Empty(t, p.calls, "no provider call for unsupported models")
}

func TestDispatch_OwnerKeyDecrypted(t *testing.T) {
	p := &fakeProvider{reply: "pong"}
	g, codec, _ := newTestGateway(t, p, Config{DefaultAPIKey: "platform-key"})

	env, err := codec.Seal("sk-owner")
	require.NoError(t, err)
	bot := &store.BotProfile{ID: "b1", OwnerID: "alice", Model: string(ModelGPT4o), EncryptedKey: env}

	reply, err := g.Dispatch(t.Context(), bot, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", reply)
	require.Len(t, p.calls, 1)
	assert.Equal(t, "sk-owner", p.calls[0].APIKey)
	assert.Equal(t, "ping", p.calls[0].Prompt)
	assert.Equal(t, DefaultSystemPrompt, p.calls[0].SystemPrompt)
	assert.Equal(t, DefaultMaxTokens, p.calls[0].MaxTokens)
	assert.InDelta(t, DefaultTemperature, p.calls[0].Temperature, 1e-9)
}

func TestDispatch_DefaultBotUsesPlatformKey(t *testing.T) {
	p := &fakeProvider{reply: "pong"}
	g, _, opener := newTestGateway(t, p, Config{DefaultAPIKey: "platform-key"})

	bot := &store.BotProfile{ID: "def", Model: string(ModelGeminiFlash), EncryptedKey: "not-used", IsDefault: true}
	_, err := g.Dispatch(t.Context(), bot, "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, "platform-key", p.calls[0].APIKey)
	assert.Zero(t, opener.calls)
}

func TestDispatch_TamperedKey(t *testing.T) {
	p := &fakeProvider{reply: "pong"}
	g, _, _ := newTestGateway(t, p, Config{})

	bot := &store.BotProfile{ID: "b1", OwnerID: "alice", Model: string(ModelGPT4o), EncryptedKey: "00ff"}
	_, err := g.Dispatch(t.Context(), bot, "ping", nil)
	assert.ErrorIs(t, err, secret.ErrIntegrity)
	assert.Empty(t, p.calls)
}

func TestDispatch_ProviderFailure(t *testing.T) {
	boom := errors.New("upstream exploded")
	p := &fakeProvider{err: boom}
	g, codec, _ := newTestGateway(t, p, Config{})

	env, err := codec.Seal("sk-secret-value")
	require.NoError(t, err)
	bot := &store.BotProfile{ID: "b1", OwnerID: "alice", Model: string(ModelGPT4o), EncryptedKey: env}

	_, err = g.Dispatch(t.Context(), bot, "ping", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderDispatch)
	assert.ErrorIs(t, err, boom)
	assert.NotContains(t, err.Error(), "sk-secret-value")

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ModelGPT4o, perr.Model)
}

func TestDispatch_EmptyReplyIsFailure(t *testing.T) {
	p := &fakeProvider{reply: ""}
	g, _, _ := newTestGateway(t, p, Config{DefaultAPIKey: "k"})

	bot := &store.BotProfile{ID: "def", Model: string(ModelGPT4o), IsDefault: true}
	_, err := g.Dispatch(t.Context(), bot, "ping", nil)
	assert.ErrorIs(t, err, ErrProviderDispatch)
}

func TestDispatch_Timeout(t *testing.T) {
	p := &fakeProvider{reply: "late", delay: time.Second}
	g, _, _ := newTestGateway(t, p, Config{DefaultAPIKey: "k", Timeout: 20 * time.Millisecond})

	bot := &store.BotProfile{ID: "def", Model: string(ModelGPT4o), IsDefault: true}
	_, err := g.Dispatch(t.Context(), bot, "ping", nil)
	assert.ErrorIs(t, err, ErrProviderDispatch)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatch_DefaultBotWithoutCredential(t *testing.T) {
	p := &fakeProvider{reply: "x"}
	g, _, _ := newTestGateway(t, p, Config{})

	bot := &store.BotProfile{ID: "def", Model: string(ModelGPT4o), IsDefault: true}
	_, err := g.Dispatch(t.Context(), bot, "ping", nil)
	assert.ErrorIs(t, err, secret.ErrConfiguration)
	assert.NotErrorIs(t, err, ErrProviderDispatch)
	assert.Empty(t, p.calls)
}

func TestDispatch_OwnerBotWithoutKeyOpener(t *testing.T) {
	p := &fakeProvider{reply: "x"}
	g := NewGateway(Config{}, nil, map[Model]Provider{ModelGPT4o: p}, nil)

	bot := &store.BotProfile{ID: "b1", OwnerID: "alice", Model: string(ModelGPT4o), EncryptedKey: "00"}
	_, err := g.Dispatch(t.Context(), bot, "ping", nil)
	assert.ErrorIs(t, err, secret.ErrConfiguration)
	assert.Empty(t, p.calls)
}

func TestDispatch_ZeroTemperatureHonored(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	zero := 0.0
	g, _, _ := newTestGateway(t, p, Config{DefaultAPIKey: "k", Temperature: &zero})

	bot := &store.BotProfile{ID: "def", Model: string(ModelGPT4o), IsDefault: true}
	_, err := g.Dispatch(t.Context(), bot, "ping", nil)
	require.NoError(t, err)
	assert.Zero(t, p.calls[0].Temperature)
}

func TestProviderError_MessageOmitsUpstreamDetail(t *testing.T) {
	leak := errors.New("Incorrect API key provided: sk-ab****yz")
	tests := []struct {
		name string
		err  *ProviderError
		want string
	}{
		{
			name: "with status",
			err:  &ProviderError{Model: ModelGPT4o, Provider: "openai", StatusCode: 401, Err: leak},
			want: "gpt-4o via openai: status 401",
		},
		{
			name: "transport failure",
			err:  &ProviderError{Model: ModelGPT4o, Provider: "openai", Err: leak},
			want: "gpt-4o via openai: request failed",
		},
		{
			name: "timeout",
			err:  &ProviderError{Model: ModelGPT4o, Provider: "openai", Err: fmt.Errorf("post: %w", context.DeadlineExceeded)},
			want: "gpt-4o via openai: timed out",
		},
		{
			name: "empty reply",
			err:  &ProviderError{Model: ModelGPT4o, Provider: "openai", Err: errEmptyReply},
			want: "gpt-4o via openai: empty reply",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
			assert.ErrorIs(t, tt.err, ErrProviderDispatch)
			assert.ErrorIs(t, tt.err, tt.err.Err)
		})
	}
}

func TestDispatch_HistoryWindowPassedToProvider(t *testing.T) {
	p := &fakeProvider{reply: "ok"}
	g, _, _ := newTestGateway(t, p, Config{DefaultAPIKey: "k"})

	bot := &store.BotProfile{ID: "def", Model: string(ModelGPT4o), IsDefault: true}
	_, err := g.Dispatch(t.Context(), bot, "next", history(25))
	require.NoError(t, err)

	turns := p.calls[0].History
	require.Len(t, turns, DefaultHistoryLimit)
	assert.Equal(t, "t15", turns[0].Text)
	assert.Equal(t, "t24", turns[9].Text)
}

func TestBuildContext(t *testing.T) {
	t.Run("fewer than limit", func(t *testing.T) {
		turns := BuildContext(history(3), 10)
		require.Len(t, turns, 3)
		assert.Equal(t, []Turn{{RoleUser, "t0"}, {RoleAssistant, "t1"}, {RoleUser, "t2"}}, turns)
	})

	t.Run("most recent in chronological order", func(t *testing.T) {
		h := history(15)
		// Present newest first; output must still be chronological.
		for i, j := 0, len(h)-1; i < j; i, j = i+1, j-1 {
			h[i], h[j] = h[j], h[i]
		}
		turns := BuildContext(h, 10)
		require.Len(t, turns, 10)
		assert.Equal(t, "t5", turns[0].Text)
		assert.Equal(t, "t14", turns[9].Text)
	})

	t.Run("skips empty text", func(t *testing.T) {
		h := history(4)
		h[1].Text = ""
		turns := BuildContext(h, 10)
		assert.Len(t, turns, 3)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, BuildContext(nil, 10))
	})
}

func TestParseModel(t *testing.T) {
	for _, m := range Models() {
		got, err := ParseModel(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	_, err := ParseModel("gpt-2")
	assert.ErrorIs(t, err, ErrUnsupportedModel)
}

func TestDefaultBindingsCoverEveryModel(t *testing.T) {
	bindings := DefaultBindings(Endpoints{}, nil)
	for _, m := range Models() {
		assert.Contains(t, bindings, m)
	}
	assert.Equal(t, "mistral", bindings[ModelMistralLarge].Name())
	assert.Equal(t, "deepseek", bindings[ModelDeepSeekChat].Name())
}
