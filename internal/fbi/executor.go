package fbi

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/haasonsaas/agentforge/internal/observability"
	"github.com/haasonsaas/agentforge/internal/sandbox"
)

// sandboxSentinels and compilationSentinels are checked, in this order,
// against captured stdout before falling back to the runtime JSON
// convention. The first match wins.
var (
	sandboxSentinels     = []string{"DaytonaError", "Sandbox Error", "API Error"}
	compilationSentinels = []string{"error TS", "SyntaxError:", "Cannot find name"}
)

// sandboxRunner is the subset of *sandbox.Executor this package depends on,
// narrowed to allow a fake runner in tests that exercise the orchestrator
// loop without a live sandbox backend.
type sandboxRunner interface {
	Run(ctx context.Context, params *sandbox.ExecuteParams) (*sandbox.ExecuteResult, error)
}

// Executor runs already-injected code in the external sandbox and
// classifies the outcome. It never returns a non-nil error for a failing
// program; transport failures are folded into a sandbox-type Execution.
type Executor struct {
	sandbox sandboxRunner
	tracer  *observability.Tracer
	logger  *observability.Logger
}

type ExecutorOption func(*Executor)

func WithExecutorTracer(t *observability.Tracer) ExecutorOption {
	return func(e *Executor) { e.tracer = t }
}

func WithExecutorLogger(l *observability.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor wraps sb with outcome classification.
func NewExecutor(sb sandboxRunner, opts ...ExecutorOption) *Executor {
	noopTracer, _ := observability.NewTracer(observability.TraceConfig{})
	e := &Executor{sandbox: sb, tracer: noopTracer}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs code in the sandbox and classifies the result. The returned
// error is always nil: every failure mode is represented on the Execution.
func (e *Executor) Execute(ctx context.Context, code, language string) (*Execution, error) {
	var raw *sandbox.ExecuteResult
	err := withDecorators(ctx, nil, e.tracer, "executor_call", func(ctx context.Context) error {
		r, err := e.sandbox.Run(ctx, &sandbox.ExecuteParams{Language: language, Code: code})
		if err != nil {
			return err
		}
		raw = r
		return nil
	})
	if err != nil {
		if e.logger != nil {
			e.logger.Warn(ctx, "executor_call transport failure", "error", err)
		}
		return &Execution{ErrorType: ErrorSandbox, Error: err.Error()}, nil
	}
	return classifyOutcome(raw), nil
}

func classifyOutcome(r *sandbox.ExecuteResult) *Execution {
	if r == nil {
		return &Execution{ErrorType: ErrorSandbox, Error: "empty sandbox result"}
	}
	if r.Timeout {
		return &Execution{ErrorType: ErrorSandbox, Error: "execution timeout", Output: r.Stdout}
	}
	if r.Error != "" {
		return &Execution{ErrorType: ErrorSandbox, Error: r.Error, Output: r.Stdout}
	}

	for _, sentinel := range sandboxSentinels {
		if strings.Contains(r.Stdout, sentinel) {
			return &Execution{ErrorType: ErrorSandbox, Error: sentinel, Output: r.Stdout}
		}
	}
	for _, sentinel := range compilationSentinels {
		if strings.Contains(r.Stdout, sentinel) {
			return &Execution{ErrorType: ErrorCompilation, Error: sentinel, Output: r.Stdout}
		}
	}

	if parsed, ok := firstJSONObjectLine(r.Stdout); ok {
		if success, exists := parsed["success"]; exists {
			if b, isBool := success.(bool); isBool && !b {
				return &Execution{ErrorType: ErrorRuntime, Error: "execution reported success=false", Output: r.Stdout, ParsedJSON: parsed}
			}
		}
		return &Execution{Success: true, Output: r.Stdout, ParsedJSON: parsed}
	}

	return &Execution{Success: true, Output: r.Stdout}
}

// firstJSONObjectLine returns the first line of output that parses as a
// JSON object, for runtime-failure classification and downstream
// inspection.
func firstJSONObjectLine(output string) (map[string]any, bool) {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var obj map[string]any
		if json.Unmarshal([]byte(line), &obj) == nil {
			return obj, true
		}
	}
	return nil, false
}
