// Package llm defines the provider-agnostic chat completion contract used by
// the Director and Generator to talk to language models.
//
// The Director and Generator never call a provider SDK directly; they hold an
// LLMProvider and exchange CompletionRequest/CompletionChunk values. This
// keeps both components testable against a fake provider and lets the
// orchestrator swap Anthropic, OpenAI, or any future backend without touching
// loop logic.
package llm

import (
	"context"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations must be safe for concurrent use: the orchestrator's
// admission semaphore allows multiple in-flight Complete calls at once.
//
// See Also:
//   - providers.AnthropicProvider
//   - providers.OpenAIProvider
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The channel
	// is closed once the final chunk (Done or Error) has been delivered.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider identifier used in logging and tracing.
	Name() string

	// Models returns the models this provider exposes.
	Models() []Model
}

// CompletionRequest contains all parameters for a single completion call.
//
// Director and Generator calls are both single-turn: Messages typically
// holds one user message plus, for the Director, the accumulated evidence
// from prior attempts folded into that single message's content.
type CompletionRequest struct {
	// Model selects which model to use. If empty, the provider's default applies.
	Model string `json:"model"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Messages is the conversation, in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// MaxTokens limits the length of the generated response. 0 means the
	// provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single turn in a conversation.
type CompletionMessage struct {
	// Role is "user", "assistant", or "system".
	Role string `json:"role"`

	// Content is the message text.
	Content string `json:"content,omitempty"`
}

// CompletionChunk is a single piece of a streaming response.
//
// Consumers should accumulate Text until Done is true, or stop immediately
// if Error is set.
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// Done is true on the final chunk of a successful stream.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream; no further chunks follow.
	Error error `json:"-"`

	// InputTokens and OutputTokens are populated on the final chunk when the
	// provider reports usage.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Model describes an available LLM model.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Collect drains a completion stream into a single string, returning the
// first error encountered, if any.
func Collect(chunks <-chan *CompletionChunk) (string, error) {
	var text string
	for chunk := range chunks {
		if chunk.Error != nil {
			return text, chunk.Error
		}
		text += chunk.Text
		if chunk.Done {
			break
		}
	}
	return text, nil
}
