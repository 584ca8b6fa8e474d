// ABOUTME: Closed set of supported chatbot models and their provider bindings
// ABOUTME: Maps each model to an SDK-backed Provider with an overridable base URL

package dispatch

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"

	"github.com/2389/huddle-gateway/internal/store"
)

// Model is a supported chatbot model identifier.
type Model string

const (
	ModelGeminiFlash  Model = "gemini-2.0-flash"
	ModelGPT4o        Model = "gpt-4o"
	ModelMistralLarge Model = "mistral-large-latest"
	ModelDeepSeekChat Model = "deepseek-chat"
	ModelClaudeSonnet Model = "claude-sonnet-4-5"
)

// Models returns every supported model in display order.
func Models() []Model {
	return []Model{ModelGeminiFlash, ModelGPT4o, ModelMistralLarge, ModelDeepSeekChat, ModelClaudeSonnet}
}

// ParseModel validates s against the supported set.
func ParseModel(s string) (Model, error) {
	m := Model(s)
	if !slices.Contains(Models(), m) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedModel, s)
	}
	return m, nil
}

// Endpoints overrides provider base URLs. Empty fields use the provider default.
type Endpoints struct {
	OpenAI    string
	Mistral   string
	DeepSeek  string
	Gemini    string
	Anthropic string
}

const (
	defaultMistralURL  = "https://api.mistral.ai/v1"
	defaultDeepSeekURL = "https://api.deepseek.com"
)

// DefaultBindings returns the provider for every supported model.
// httpClient may be nil.
func DefaultBindings(ep Endpoints, httpClient *http.Client) map[Model]Provider {
	mistral := ep.Mistral
	if mistral == "" {
		mistral = defaultMistralURL
	}
	deepseek := ep.DeepSeek
	if deepseek == "" {
		deepseek = defaultDeepSeekURL
	}

	return map[Model]Provider{
		ModelGeminiFlash:  NewGeminiProvider(ep.Gemini, httpClient),
		ModelGPT4o:        NewOpenAIProvider("openai", ep.OpenAI, httpClient),
		ModelMistralLarge: NewOpenAIProvider("mistral", mistral, httpClient),
		ModelDeepSeekChat: NewOpenAIProvider("deepseek", deepseek, httpClient),
		ModelClaudeSonnet: NewAnthropicProvider(ep.Anthropic, httpClient),
	}
}

// statusCode extracts an HTTP status from SDK errors when one is available.
func statusCode(err error) int {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode
	}
	return 0
}

func sortChronological(msgs []*store.Message) {
	slices.SortStableFunc(msgs, func(a, b *store.Message) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
