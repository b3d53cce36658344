// Package providers implements LLM provider integrations for the orchestrator.
//
// This package provides production-ready implementations of llm.LLMProvider
// for Anthropic's Claude and OpenAI's GPT models. Each provider handles the
// complexities of API integration, streaming responses, error handling,
// retries, and format conversion.
//
// Key Features:
//   - Streaming responses for real-time token delivery
//   - Automatic retry logic with exponential backoff
//   - Structured error classification via ProviderError/FailoverReason
//
// Example Usage:
//
//	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
//	    APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
//	    MaxRetries:   3,
//	    RetryDelay:   time.Second,
//	    DefaultModel: "claude-sonnet-4-20250514",
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	chunks, err := provider.Complete(ctx, &llm.CompletionRequest{
//	    Model:     "claude-sonnet-4-20250514",
//	    System:    "You are a helpful assistant.",
//	    Messages:  []llm.CompletionMessage{{Role: "user", Content: "Hello!"}},
//	    MaxTokens: 1024,
//	})
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/agentforge/internal/llm"
)

// maxEmptyStreamEvents is the maximum number of consecutive empty events
// before a stream is treated as malformed. Based on patterns from
// sashabaranov/go-openai's stream_reader implementation.
const maxEmptyStreamEvents = 300

// AnthropicProvider implements llm.LLMProvider for Anthropic's Claude API.
//
// Thread Safety: AnthropicProvider is safe for concurrent use. Each Complete
// call creates an independent stream and goroutine.
type AnthropicProvider struct {
	client anthropic.Client

	apiKey string

	// maxRetries defines the maximum number of retry attempts for failed
	// requests. Applies to retryable errors like rate limits (429), server
	// errors (5xx), and timeouts. Default: 3
	maxRetries int

	// retryDelay is the base delay between retry attempts, scaled by
	// retryDelay * 2^attempt. Default: 1 second.
	retryDelay time.Duration

	// defaultModel is used when CompletionRequest.Model is empty.
	defaultModel string
}

// AnthropicConfig holds configuration for NewAnthropicProvider.
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// MaxRetries sets the maximum retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts. Default: 1s
	RetryDelay time.Duration

	// DefaultModel sets the model used when a request doesn't specify one.
	DefaultModel string
}

// NewAnthropicProvider creates a new Anthropic provider instance.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	client := anthropic.NewClient(options...)

	return &AnthropicProvider{
		client:       client,
		apiKey:       config.APIKey,
		maxRetries:   config.MaxRetries,
		retryDelay:   config.RetryDelay,
		defaultModel: config.DefaultModel,
	}, nil
}

// Name returns the provider identifier used in logging and tracing.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Models returns the list of available Claude models.
func (p *AnthropicProvider) Models() []llm.Model {
	return []llm.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-opus-20240229", Name: "Claude 3 Opus", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-haiku-20240307", Name: "Claude 3 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

// Complete sends a completion request to Claude and returns a streaming
// response channel. The channel is closed once the final chunk has been
// delivered.
func (p *AnthropicProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	chunks := make(chan *llm.CompletionChunk)

	go func() {
		defer close(chunks)

		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		var err error

		for attempt := 0; attempt <= p.maxRetries; attempt++ {
			stream, err = p.createStream(ctx, req)
			if err == nil {
				break
			}

			wrapped := p.wrapError(err, p.getModel(req.Model))
			if !p.isRetryableError(wrapped) {
				chunks <- &llm.CompletionChunk{Error: wrapped}
				return
			}
			if attempt < p.maxRetries {
				backoff := p.retryDelay * time.Duration(math.Pow(2, float64(attempt)))
				select {
				case <-ctx.Done():
					chunks <- &llm.CompletionChunk{Error: ctx.Err()}
					return
				case <-time.After(backoff):
				}
			}
		}

		if err != nil {
			chunks <- &llm.CompletionChunk{Error: fmt.Errorf("anthropic: max retries exceeded: %w", p.wrapError(err, p.getModel(req.Model)))}
			return
		}

		p.processStream(stream, chunks, p.getModel(req.Model))
	}()

	return chunks, nil
}

func (p *AnthropicProvider) createStream(ctx context.Context, req *llm.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages := p.convertMessages(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// processStream consumes Server-Sent Events from Anthropic's streaming API
// and converts them into llm.CompletionChunk values.
//
// Stream Health Protection: the method tracks consecutive empty events to
// detect malformed streams and aborts after maxEmptyStreamEvents.
func (p *AnthropicProvider) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *llm.CompletionChunk, model string) {
	emptyEventCount := 0
	var inputTokens, outputTokens int

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			if messageStart.Message.Usage.InputTokens > 0 {
				inputTokens = int(messageStart.Message.Usage.InputTokens)
			}
			eventProcessed = true

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type == "text_delta" && delta.Text != "" {
				chunks <- &llm.CompletionChunk{Text: delta.Text}
				eventProcessed = true
			}

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				outputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			chunks <- &llm.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
			return

		case "error":
			chunks <- &llm.CompletionChunk{Error: p.wrapError(errors.New("anthropic stream error"), model)}
			return
		}

		if eventProcessed {
			emptyEventCount = 0
		} else {
			emptyEventCount++
			if emptyEventCount >= maxEmptyStreamEvents {
				chunks <- &llm.CompletionChunk{Error: p.wrapError(
					fmt.Errorf("stream appears malformed: received %d consecutive empty events", emptyEventCount), model)}
				return
			}
		}
	}

	if err := stream.Err(); err != nil {
		chunks <- &llm.CompletionChunk{Error: p.wrapError(err, model)}
	}
}

func (p *AnthropicProvider) convertMessages(messages []llm.CompletionMessage) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		var content []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		if msg.Role == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result
}

func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// getMaxTokens returns the maximum tokens to generate, defaulting to 4096
// when the request doesn't specify one.
func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

// isRetryableError classifies errors into retryable (rate limits, server
// errors, timeouts, connection resets) and non-retryable categories.
func (p *AnthropicProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if providerErr, ok := GetProviderError(err); ok {
		return providerErr.Reason.IsRetryable()
	}

	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "rate_limit"), strings.Contains(errMsg, "429"),
		strings.Contains(errMsg, "too many requests"):
		return true
	case strings.Contains(errMsg, "500"), strings.Contains(errMsg, "502"),
		strings.Contains(errMsg, "503"), strings.Contains(errMsg, "504"),
		strings.Contains(errMsg, "internal server error"), strings.Contains(errMsg, "bad gateway"),
		strings.Contains(errMsg, "service unavailable"), strings.Contains(errMsg, "gateway timeout"):
		return true
	case strings.Contains(errMsg, "timeout"), strings.Contains(errMsg, "deadline exceeded"):
		return true
	case strings.Contains(errMsg, "connection reset"), strings.Contains(errMsg, "connection refused"),
		strings.Contains(errMsg, "no such host"):
		return true
	default:
		return false
	}
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   FailoverUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		var message, code, requestID string
		requestID = apiErr.RequestID
		if raw := apiErr.RawJSON(); raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				message = payload.Error.Message
				code = payload.Error.Type
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}

		if message != "" {
			providerErr = providerErr.WithMessage(message)
		} else if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return NewProviderError("anthropic", model, err)
}
