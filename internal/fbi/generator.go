package fbi

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/haasonsaas/agentforge/internal/admission"
	"github.com/haasonsaas/agentforge/internal/llm"
	"github.com/haasonsaas/agentforge/internal/observability"
	"github.com/haasonsaas/agentforge/internal/retry"
)

// codeTagRe and fenceRe are tried in this order when extracting code from a
// Generator response: an explicit <code> tag first, a markdown fence second.
var (
	codeTagRe = regexp.MustCompile(`(?s)<code>(.*?)</code>`)
	fenceRe   = regexp.MustCompile("(?s)```[a-zA-Z0-9]*\\n?(.*?)```")
)

// GenerationResult is the Generator's output for one Attempt: the raw LLM
// text, the extracted code (if any), and how many underlying LLM calls the
// extraction-retry loop used.
type GenerationResult struct {
	RawResponse       string
	ExtractedCode     string
	ExtractionSuccess bool
	InnerCallCount    int
	Error             string
}

// Generator produces executable source code from a prompt. It does not
// execute, parse, or semantically validate the code it returns.
type Generator struct {
	provider llm.LLMProvider
	model    string
	sem      *admission.Semaphore
	tracer   *observability.Tracer
	logger   *observability.Logger
	retry    retry.Config
}

type GeneratorOption func(*Generator)

func WithGeneratorModel(model string) GeneratorOption {
	return func(g *Generator) { g.model = model }
}

func WithGeneratorSemaphore(sem *admission.Semaphore) GeneratorOption {
	return func(g *Generator) { g.sem = sem }
}

func WithGeneratorTracer(t *observability.Tracer) GeneratorOption {
	return func(g *Generator) { g.tracer = t }
}

func WithGeneratorLogger(l *observability.Logger) GeneratorOption {
	return func(g *Generator) { g.logger = l }
}

func WithGeneratorRetry(cfg retry.Config) GeneratorOption {
	return func(g *Generator) { g.retry = cfg }
}

// NewGenerator builds a Generator backed by provider.
func NewGenerator(provider llm.LLMProvider, opts ...GeneratorOption) *Generator {
	noopTracer, _ := observability.NewTracer(observability.TraceConfig{})
	g := &Generator{
		provider: provider,
		sem:      admission.New(10),
		tracer:   noopTracer,
		retry:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate sends a single chat completion carrying the language contract
// and the registry's injected API docs, then extracts code from the
// response. On extraction failure it re-prompts with an appended
// instruction to wrap the answer in <code> tags, up to maxRetries times
// total; each underlying LLM call increments InnerCallCount. It never
// returns an error for extraction failure - that is reported on the result.
func (g *Generator) Generate(ctx context.Context, prompt, language, utilityDocs string, maxRetries int) *GenerationResult {
	if maxRetries < 1 {
		maxRetries = 1
	}

	result := &GenerationResult{}
	currentPrompt := prompt

	for attempt := 1; attempt <= maxRetries; attempt++ {
		result.InnerCallCount = attempt

		req := &llm.CompletionRequest{
			Model:  g.model,
			System: buildGeneratorSystemPrompt(language, utilityDocs),
			Messages: []llm.CompletionMessage{
				{Role: "user", Content: currentPrompt},
			},
		}

		text, err := g.complete(ctx, "generator_call", req)
		if err != nil {
			result.Error = err.Error()
			if g.logger != nil {
				g.logger.Warn(ctx, "generator_call transport failure", "attempt", attempt, "error", err)
			}
			continue
		}
		result.RawResponse = text

		if code, ok := extractCode(text); ok {
			result.ExtractedCode = code
			result.ExtractionSuccess = true
			result.Error = ""
			return result
		}

		result.Error = "no code block found in response"
		currentPrompt = currentPrompt + "\n\nYour previous response did not contain a <code>...</code> block. " +
			"Please wrap the complete solution in <code>...</code> tags."
	}

	return result
}

func (g *Generator) complete(ctx context.Context, spanName string, req *llm.CompletionRequest) (string, error) {
	var text string
	err := withDecorators(ctx, g.sem, g.tracer, spanName, func(ctx context.Context) error {
		result := retry.Do(ctx, g.retry, func() error {
			chunks, err := g.provider.Complete(ctx, req)
			if err != nil {
				return classifyForRetry(err)
			}
			collected, err := llm.Collect(chunks)
			if err != nil {
				return classifyForRetry(err)
			}
			text = collected
			return nil
		})
		return result.Err
	})
	return text, err
}

func buildGeneratorSystemPrompt(language, utilityDocs string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a code generator. Write a complete, runnable %s program that solves the user's task.\n", language)
	b.WriteString("Wrap the complete solution in a single <code>...</code> block; include no prose outside the tags.\n")
	if strings.TrimSpace(utilityDocs) != "" {
		b.WriteString("\nThe following capabilities already exist and may be called directly:\n")
		b.WriteString(utilityDocs)
	}
	return b.String()
}

func extractCode(text string) (string, bool) {
	if m := codeTagRe.FindStringSubmatch(text); m != nil {
		code := strings.TrimSpace(m[1])
		if code != "" {
			return code, true
		}
	}
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		code := strings.TrimSpace(m[1])
		if code != "" {
			return code, true
		}
	}
	return "", false
}
