// Package llm defines the Provider interface for language model backends.
//
// A provider wraps a chat-completion API (an Open WebUI instance, a hosted
// OpenAI-compatible endpoint, or any backend supported by any-llm-go) and
// exposes a uniform non-streaming interface: the voice pipeline sends the
// whole conversation and waits for the whole reply, because the reply is
// synthesised to speech in one piece anyway.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Message is a single conversation turn sent to the model.
type Message struct {
	// Role is "system", "user" or "assistant".
	Role string

	// Content is the message text.
	Content string
}

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit; zero values mean the backend reported nothing.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history, oldest first. The last
	// message is the user's transcribed query.
	Messages []Message

	// SystemPrompt is an optional standing instruction injected before the
	// history. Providers that lack a dedicated system field prepend it as a
	// system-role message.
	SystemPrompt string

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	// Content is the assistant's reply text.
	Content string

	// Model is the backend's reported model identifier, when available.
	Model string

	// Usage contains token accounting for this exchange.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the full response. Errors carry a
	// fault kind: transport failures and timeouts are retryable, a rejected
	// request is not.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ConnectivityChecker is implemented by providers that can probe their
// backing service without running a completion. Used by readiness checks.
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) error
}
