package fbi

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/agentforge/internal/admission"
	"github.com/haasonsaas/agentforge/internal/llm"
	"github.com/haasonsaas/agentforge/internal/llm/providers"
	"github.com/haasonsaas/agentforge/internal/observability"
	"github.com/haasonsaas/agentforge/internal/retry"
)

// DirectorContext carries the per-iteration facts the Director needs to
// improve a prompt: the target language/agent, optional steering text, and
// the previous Attempt's evidence (nil on the first iteration).
type DirectorContext struct {
	Language        string
	AgentName       string
	SystemPrompt    string
	JudgingCriteria string
	Previous        *Attempt
}

// Director performs the three LLM-mediated judgment duties of the
// refinement loop: prompt improvement, verdict, and description. It never
// sees or modifies utility source, keeping the Generator a pure synthesizer
// and the Executor a pure observer.
type Director struct {
	provider llm.LLMProvider
	model    string
	sem      *admission.Semaphore
	tracer   *observability.Tracer
	logger   *observability.Logger
	retry    retry.Config
}

// DirectorOption configures a Director at construction time.
type DirectorOption func(*Director)

func WithDirectorModel(model string) DirectorOption {
	return func(d *Director) { d.model = model }
}

func WithDirectorSemaphore(sem *admission.Semaphore) DirectorOption {
	return func(d *Director) { d.sem = sem }
}

func WithDirectorTracer(t *observability.Tracer) DirectorOption {
	return func(d *Director) { d.tracer = t }
}

func WithDirectorLogger(l *observability.Logger) DirectorOption {
	return func(d *Director) { d.logger = l }
}

func WithDirectorRetry(cfg retry.Config) DirectorOption {
	return func(d *Director) { d.retry = cfg }
}

// NewDirector builds a Director backed by provider. A nil semaphore disables
// admission control (every call proceeds immediately); a nil tracer
// degrades tracing to a no-op, matching observability.Tracer's own
// no-exporter behavior.
func NewDirector(provider llm.LLMProvider, opts ...DirectorOption) *Director {
	noopTracer, _ := observability.NewTracer(observability.TraceConfig{})
	d := &Director{
		provider: provider,
		sem:      admission.New(10),
		tracer:   noopTracer,
		retry:    retry.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// ImprovePrompt is duty (a): refine the task into a sharper prompt given
// context and, from iteration 2 onward, the previous Attempt's evidence.
// A parse or transport failure degrades to the original prompt verbatim
// rather than propagating - Director failure must never kill the loop.
func (d *Director) ImprovePrompt(ctx context.Context, task string, dctx DirectorContext) *PromptRefinement {
	fallback := &PromptRefinement{OriginalPrompt: task, ImprovedPrompt: task, Success: false}

	req := &llm.CompletionRequest{
		Model:  d.model,
		System: improvePromptSystemPrompt,
		Messages: []llm.CompletionMessage{
			{Role: "user", Content: buildImprovePromptUserMessage(task, dctx)},
		},
	}

	text, err := d.complete(ctx, "director_call", req)
	if err != nil {
		d.logError(ctx, "improve_prompt", err)
		return fallback
	}

	var parsed struct {
		ImprovedPrompt   string   `json:"improvedPrompt"`
		Improvements     []string `json:"improvements"`
		CriticalFeedback string   `json:"criticalFeedback"`
	}
	if !extractJSON(text, &parsed) {
		return fallback
	}

	improved := parsed.ImprovedPrompt
	if strings.TrimSpace(improved) == "" {
		improved = task
	}
	return &PromptRefinement{
		OriginalPrompt:   task,
		ImprovedPrompt:   improved,
		Improvements:     parsed.Improvements,
		CriticalFeedback: parsed.CriticalFeedback,
		Success:          true,
	}
}

// Verdict is duty (b): decide whether the loop should retry given the full
// Attempt history so far. Parse or transport failure defaults to
// shouldRetry=false, since an undecidable Director never forces more spend.
func (d *Director) Verdict(ctx context.Context, task string, session *Session, currentIteration, maxIterations int) *Verdict {
	fallback := &Verdict{ShouldRetry: false}

	req := &llm.CompletionRequest{
		Model:  d.model,
		System: verdictSystemPrompt,
		Messages: []llm.CompletionMessage{
			{Role: "user", Content: buildVerdictUserMessage(task, session, currentIteration, maxIterations)},
		},
	}

	text, err := d.complete(ctx, "director_call", req)
	if err != nil {
		d.logError(ctx, "verdict", err)
		return fallback
	}

	var parsed struct {
		ShouldRetry bool   `json:"shouldRetry"`
		Reasoning   string `json:"reasoning"`
	}
	if !extractJSON(text, &parsed) {
		return fallback
	}
	return &Verdict{ShouldRetry: parsed.ShouldRetry, Reasoning: parsed.Reasoning}
}

// Describe is duty (c): produce a one-line human description of the final
// agent. Parse or transport failure falls back to a deterministic
// "<agent name>: <first 60 chars of task>" summary.
func (d *Director) Describe(ctx context.Context, agentName, task, finalCode string) string {
	fallback := deterministicDescription(agentName, task)

	req := &llm.CompletionRequest{
		Model:  d.model,
		System: describeSystemPrompt,
		Messages: []llm.CompletionMessage{
			{Role: "user", Content: buildDescribeUserMessage(agentName, task, finalCode)},
		},
	}

	text, err := d.complete(ctx, "director_call", req)
	if err != nil {
		d.logError(ctx, "describe", err)
		return fallback
	}

	var parsed struct {
		Description string `json:"description"`
	}
	if extractJSON(text, &parsed) && strings.TrimSpace(parsed.Description) != "" {
		return parsed.Description
	}

	trimmed := strings.TrimSpace(text)
	if trimmed != "" && !strings.Contains(trimmed, "{") {
		return trimmed
	}
	return fallback
}

func deterministicDescription(agentName, task string) string {
	summary := task
	if len(summary) > 60 {
		summary = summary[:60]
	}
	return fmt.Sprintf("%s: %s", agentName, summary)
}

// complete runs one admission-gated, traced, retried completion call and
// collects it into a single string.
func (d *Director) complete(ctx context.Context, spanName string, req *llm.CompletionRequest) (string, error) {
	var text string
	err := withDecorators(ctx, d.sem, d.tracer, spanName, func(ctx context.Context) error {
		result := retry.Do(ctx, d.retry, func() error {
			chunks, err := d.provider.Complete(ctx, req)
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

func (d *Director) logError(ctx context.Context, duty string, err error) {
	if d.logger != nil {
		d.logger.Warn(ctx, "director_call failed, degrading to safe default", "duty", duty, "error", err)
	}
}

// classifyForRetry short-circuits retry.Do when the underlying transport
// error is an auth or billing failure - no amount of waiting fixes a bad
// API key.
func classifyForRetry(err error) error {
	reason := providers.ClassifyError(err)
	if reason == providers.FailoverAuth || reason == providers.FailoverBilling {
		return retry.Permanent(err)
	}
	return err
}

// withDecorators composes the two ambient decorators every external call
// passes through: the admission semaphore, then the silent tracer.
func withDecorators(ctx context.Context, sem *admission.Semaphore, tracer *observability.Tracer, spanName string, fn func(context.Context) error) error {
	if sem != nil {
		release, err := sem.Acquire(ctx)
		if err != nil {
			return err
		}
		defer release()
	}
	if tracer == nil {
		return fn(ctx)
	}
	return observability.WithSpan(ctx, tracer, spanName, func(ctx context.Context, _ trace.Span) error {
		return fn(ctx)
	})
}
