package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/agentforge/internal/llm"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements llm.LLMProvider for OpenAI's chat completion API.
type OpenAIProvider struct {
	client     *openai.Client
	apiKey     string
	maxRetries int
	retryDelay time.Duration
}

// NewOpenAIProvider creates a new OpenAI provider. An empty apiKey produces a
// provider whose Complete calls always fail; this lets the provider be
// constructed speculatively from config before credentials are known.
func NewOpenAIProvider(apiKey string) *OpenAIProvider {
	p := &OpenAIProvider{
		apiKey:     apiKey,
		maxRetries: 3,
		retryDelay: time.Second,
	}
	if apiKey != "" {
		p.client = openai.NewClient(apiKey)
	}
	return p
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Models returns available OpenAI models.
func (p *OpenAIProvider) Models() []llm.Model {
	return []llm.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-3.5-turbo", Name: "GPT-3.5 Turbo", ContextSize: 16385},
		{ID: "gpt-4", Name: "GPT-4", ContextSize: 8192},
	}
}

// Complete sends a completion request and returns a streaming response.
func (p *OpenAIProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	if p.client == nil {
		return nil, errors.New("openai: API key not configured")
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: p.convertMessages(req.Messages, req.System),
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(p.retryDelay * time.Duration(attempt)):
			}
		}

		stream, lastErr = p.client.CreateChatCompletionStream(ctx, chatReq)
		if lastErr == nil {
			break
		}
		if !p.isRetryableError(lastErr) {
			return nil, fmt.Errorf("openai: non-retryable error: %w", lastErr)
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("openai: max retries exceeded: %w", lastErr)
	}

	chunks := make(chan *llm.CompletionChunk)
	go p.processStream(ctx, stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *llm.CompletionChunk) {
	defer close(chunks)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			chunks <- &llm.CompletionChunk{Error: ctx.Err(), Done: true}
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				chunks <- &llm.CompletionChunk{Done: true}
				return
			}
			chunks <- &llm.CompletionChunk{Error: err, Done: true}
			return
		}

		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			chunks <- &llm.CompletionChunk{Text: delta}
		}
	}
}

func (p *OpenAIProvider) convertMessages(messages []llm.CompletionMessage, system string) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		result = append(result, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}
	return result
}

// isRetryableError checks if an error should be retried.
func (p *OpenAIProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errMsg, "rate limit"), strings.Contains(errMsg, "429"):
		return true
	case strings.Contains(errMsg, "500"), strings.Contains(errMsg, "502"),
		strings.Contains(errMsg, "503"), strings.Contains(errMsg, "504"):
		return true
	case strings.Contains(errMsg, "timeout"), strings.Contains(errMsg, "deadline exceeded"):
		return true
	default:
		return false
	}
}
