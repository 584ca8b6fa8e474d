// ABOUTME: Gemini provider using the google.golang.org/genai SDK
// ABOUTME: Maps assistant turns to the model role and passes the persona as a system instruction

package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

// GeminiProvider calls the Gemini generateContent API.
type GeminiProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewGeminiProvider creates a provider. An empty baseURL uses the SDK default.
func NewGeminiProvider(baseURL string, httpClient *http.Client) *GeminiProvider {
	return &GeminiProvider{baseURL: baseURL, httpClient: httpClient}
}

func (p *GeminiProvider) Name() string { return "gemini" }

// Complete sends history plus prompt as a single generateContent call.
func (p *GeminiProvider) Complete(ctx context.Context, req Request) (string, error) {
	cfg := &genai.ClientConfig{
		APIKey:     req.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return "", fmt.Errorf("creating genai client: %w", err)
	}

	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, turn := range req.History {
		var role genai.Role = genai.RoleUser
		if turn.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	resp, err := client.Models.GenerateContent(ctx, string(req.Model), contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens:   int32(req.MaxTokens),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
