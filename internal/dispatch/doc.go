// Package dispatch sends a chatbot turn to the provider behind the bot's model.
//
// # Models
//
// The set of models is closed. Each Model is bound to a Provider by
// DefaultBindings: Gemini through google.golang.org/genai, GPT-4o, Mistral
// and DeepSeek through the OpenAI chat-completions API, and Claude through
// the Anthropic Messages API. A bot naming any other model fails with
// ErrUnsupportedModel before a key is touched.
//
// # Credentials
//
// The default bot uses the platform credential from configuration; every
// other bot's key is opened from its sealed envelope. A missing credential
// is a secret.ErrConfiguration.
//
// # Failures
//
// Provider, network, and timeout failures surface as *ProviderError, which
// matches ErrProviderDispatch. Its message carries the model, provider, and
// HTTP status only.
package dispatch
