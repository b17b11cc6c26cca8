// Package llm defines the Provider interface for the response-generation
// backends earshot replies through.
//
// An LLM provider wraps a remote or local model API (e.g., a local Ollama
// instance, OpenAI, or Anthropic) and exposes a uniform completion call.
// The pipeline issues exactly one completion per matched utterance and
// never streams — a short reply is either available or it is not, and a
// half-streamed reply has no use downstream.
//
// Implementations must be safe for concurrent use and must propagate
// context cancellation promptly.
package llm

import (
	"context"
	"errors"
)

// ErrUnavailable is returned when the backing model service cannot be
// reached at all (connection refused, DNS failure, HTTP 503). It is a
// per-utterance failure for the pipeline but also feeds the degraded-mode
// counter, so implementations should return it (wrapped) rather than a
// bare transport error where they can tell the difference.
var ErrUnavailable = errors.New("llm: backing service unreachable")

// Message represents a single message in a completion conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name attached to the message.
	Name string
}

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the model needs to produce a reply.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is an optional high-priority instruction injected before
	// the conversation. Providers without native system-prompt support
	// prepend it as a "system"-role message.
	SystemPrompt string

	// Messages is the ordered conversation. The last message is typically
	// from the "user" role and drives the response.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0]. Zero requests
	// the provider default.
	Temperature float64

	// MaxTokens caps the completion length. Zero means provider default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the full text of the reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns ErrUnavailable (wrapped) when the backing service cannot be
	// reached, or another error if the request fails or ctx is cancelled
	// before the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
