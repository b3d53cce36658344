package fbi

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentforge/internal/observability"
	"github.com/haasonsaas/agentforge/internal/registry"
)

// Options configures one Orchestrate call. Zero values fall back to the
// defaults documented per field.
type Options struct {
	// MaxIterations bounds full refinement rounds. Default 3.
	MaxIterations int
	// MaxRetries bounds the Generator's inner code-extraction retry loop.
	// Default 3.
	MaxRetries int
	// Language is the target language passed to the Generator and
	// Executor. Default "typescript".
	Language string
	Model    string
	// AgentName is used for file paths and trace namespacing.
	AgentName       string
	SystemPrompt    string
	JudgingCriteria string
	// LogCallback optionally receives one Event per suspension point, in
	// addition to the Orchestrator's own structured logger.
	LogCallback func(Event)
	// Prior, when non-nil, is an existing Session to continue: its
	// Attempts and continuation timeline are preserved, and new Attempts
	// are appended with monotonically continuing attemptNumber.
	Prior *Session
}

func (o Options) withDefaults() Options {
	if o.MaxIterations < 1 {
		o.MaxIterations = 3
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 3
	}
	if o.Language == "" {
		o.Language = "typescript"
	}
	return o
}

// Orchestrator drives the bounded Director->Generator->Executor refinement
// loop, accumulates Attempts, decides termination, and returns the Session.
// Exactly one Session is in flight per Orchestrate call; independent calls
// share only the read-only Registry cache and whatever admission semaphore
// the Director/Generator were constructed with.
type Orchestrator struct {
	director  *Director
	generator *Generator
	executor  *Executor
	registry  *registry.Registry
	logger    *observability.Logger
}

type OrchestratorOption func(*Orchestrator)

func WithOrchestratorLogger(l *observability.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator wires the four components a run needs.
func NewOrchestrator(director *Director, generator *Generator, executor *Executor, reg *registry.Registry, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{director: director, generator: generator, executor: executor, registry: reg}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Orchestrate runs the refinement loop for task and returns the completed
// Session. It always returns a usable Session, even on error: a failed run
// retains every Attempt, the last error classification, and the last
// execution output.
func (o *Orchestrator) Orchestrate(ctx context.Context, task string, opts Options) (session *Session, err error) {
	opts = opts.withDefaults()

	session = &Session{
		VersionID:       uuid.NewString(),
		AgentName:       opts.AgentName,
		OriginalTask:    task,
		Timestamp:       time.Now(),
		SystemPrompt:    opts.SystemPrompt,
		JudgingCriteria: opts.JudgingCriteria,
	}
	baseAttempts := 0
	if opts.Prior != nil {
		session.Attempts = append(session.Attempts, opts.Prior.Attempts...)
		session.Sessions = append(session.Sessions, opts.Prior.Sessions...)
		session.FinalCode = opts.Prior.FinalCode
		session.AgentDescription = opts.Prior.AgentDescription
		baseAttempts = len(opts.Prior.Attempts)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("orchestrator: panic: %v", r)
			session.Error = err.Error()
			session.StackTrace = string(debug.Stack())
		}
	}()

	var lastAttempt *Attempt
	if baseAttempts > 0 {
		lastAttempt = session.Attempts[baseAttempts-1]
	}

	for i := 1; i <= opts.MaxIterations; i++ {
		attemptNumber := baseAttempts + i

		refinement := o.director.ImprovePrompt(ctx, task, DirectorContext{
			Language:        opts.Language,
			AgentName:       opts.AgentName,
			SystemPrompt:    opts.SystemPrompt,
			JudgingCriteria: opts.JudgingCriteria,
			Previous:        lastAttempt,
		})
		o.emit(ctx, opts, "director_call", map[string]any{
			"session_id": session.VersionID, "attempt": attemptNumber, "phase": "improve_prompt",
		})

		utilityDocs := ""
		if o.registry != nil {
			utilityDocs = o.registry.GenerateUtilityPrompt()
		}
		genResult := o.generator.Generate(ctx, refinement.ImprovedPrompt, opts.Language, utilityDocs, opts.MaxRetries)
		o.emit(ctx, opts, "generator_call", map[string]any{
			"session_id": session.VersionID, "attempt": attemptNumber, "extraction_success": genResult.ExtractionSuccess,
		})

		attempt := &Attempt{
			AttemptNumber:     attemptNumber,
			Timestamp:         time.Now(),
			Prompt:            refinement.ImprovedPrompt,
			ExtractionSuccess: genResult.ExtractionSuccess,
			RawResponse:       genResult.RawResponse,
			ExtractedCode:     genResult.ExtractedCode,
			Error:             genResult.Error,
			Recommendation:    refinement.CriticalFeedback,
			InnerCallCount:    genResult.InnerCallCount,
		}
		session.Attempts = append(session.Attempts, attempt)
		lastAttempt = attempt

		if !genResult.ExtractionSuccess {
			if i == opts.MaxIterations {
				break
			}
			continue
		}

		var detected []string
		if o.registry != nil {
			detected = o.registry.Detect(genResult.ExtractedCode)
		}
		injected := genResult.ExtractedCode
		if o.registry != nil {
			injectedCode, injectErr := o.registry.Inject(genResult.ExtractedCode, detected)
			if injectErr != nil {
				return session, fmt.Errorf("orchestrator: injection: %w", injectErr)
			}
			injected = injectedCode
		}
		session.FinalCode = injected

		execution, _ := o.executor.Execute(ctx, injected, opts.Language)
		attempt.Execution = execution
		session.WasExecuted = true
		o.emit(ctx, opts, "executor_call", map[string]any{
			"session_id": session.VersionID, "attempt": attemptNumber, "success": execution.Success, "error_type": execution.ErrorType,
		})

		verdict := o.director.Verdict(ctx, task, session, i, opts.MaxIterations)
		if !verdict.ShouldRetry || i == opts.MaxIterations {
			break
		}
	}

	if last := session.LastAttempt(); last != nil && last.Execution != nil {
		session.Success = last.Execution.Success
	}

	session.AgentDescription = o.director.Describe(ctx, opts.AgentName, task, session.FinalCode)

	session.Sessions = append(session.Sessions, ContinuationEntry{
		Timestamp:    session.Timestamp,
		Prompt:       task,
		AttemptCount: len(session.Attempts) - baseAttempts,
	})

	if o.logger != nil {
		o.logger.Info(ctx, "orchestrate_complete",
			"session_id", session.VersionID,
			"attempts", len(session.Attempts),
			"success", session.Success,
		)
	}

	return session, nil
}

func (o *Orchestrator) emit(ctx context.Context, opts Options, name string, fields map[string]any) {
	if o.logger != nil {
		args := make([]any, 0, len(fields)*2)
		for k, v := range fields {
			args = append(args, k, v)
		}
		o.logger.Info(ctx, name, args...)
	}
	if opts.LogCallback != nil {
		opts.LogCallback(Event{Name: name, Fields: fields})
	}
}
