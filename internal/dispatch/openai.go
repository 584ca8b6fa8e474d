// ABOUTME: Chat-completions provider for OpenAI and OpenAI-compatible APIs
// ABOUTME: Serves gpt-4o directly and Mistral/DeepSeek through their compatible endpoints

package dispatch

import (
	"context"
	"errors"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider calls a chat-completions endpoint with the openai-go SDK.
type OpenAIProvider struct {
	name       string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIProvider creates a provider. An empty baseURL uses the SDK default.
func NewOpenAIProvider(name, baseURL string, httpClient *http.Client) *OpenAIProvider {
	return &OpenAIProvider{name: name, baseURL: baseURL, httpClient: httpClient}
}

func (p *OpenAIProvider) Name() string { return p.name }

// Complete sends the system prompt, history, and prompt as one chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(req.APIKey),
		option.WithMaxRetries(0),
	}
	if p.baseURL != "" {
		opts = append(opts, option.WithBaseURL(p.baseURL))
	}
	if p.httpClient != nil {
		opts = append(opts, option.WithHTTPClient(p.httpClient))
	}
	client := openai.NewClient(opts...)

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	for _, turn := range req.History {
		if turn.Role == RoleAssistant {
			messages = append(messages, openai.AssistantMessage(turn.Text))
		} else {
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       string(req.Model),
		Messages:    messages,
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}
