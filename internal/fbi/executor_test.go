package fbi

import (
	"context"
	"testing"

	"github.com/haasonsaas/agentforge/internal/sandbox"
)

func TestClassifyOutcome_TimeoutIsSandboxError(t *testing.T) {
	outcome := classifyOutcome(&sandbox.ExecuteResult{Timeout: true, Stdout: "partial"})
	if outcome.ErrorType != ErrorSandbox {
		t.Errorf("errorType = %q, want sandbox", outcome.ErrorType)
	}
	if outcome.Success {
		t.Error("timeout must not be classified as success")
	}
}

func TestClassifyOutcome_TransportErrorIsSandboxError(t *testing.T) {
	outcome := classifyOutcome(&sandbox.ExecuteResult{Error: "daytona: connection refused"})
	if outcome.ErrorType != ErrorSandbox {
		t.Errorf("errorType = %q, want sandbox", outcome.ErrorType)
	}
}

func TestClassifyOutcome_SandboxSentinelTakesPrecedenceOverCompilationSentinel(t *testing.T) {
	outcome := classifyOutcome(&sandbox.ExecuteResult{Stdout: "DaytonaError: error TS2304: Cannot find name 'foo'"})
	if outcome.ErrorType != ErrorSandbox {
		t.Errorf("errorType = %q, want sandbox (checked before compilation)", outcome.ErrorType)
	}
}

func TestClassifyOutcome_CompilationSentinel(t *testing.T) {
	outcome := classifyOutcome(&sandbox.ExecuteResult{Stdout: "error TS2304: Cannot find name 'foo'"})
	if outcome.ErrorType != ErrorCompilation {
		t.Errorf("errorType = %q, want compilation", outcome.ErrorType)
	}
}

func TestClassifyOutcome_RuntimeFailureFromJSONSuccessFalse(t *testing.T) {
	outcome := classifyOutcome(&sandbox.ExecuteResult{Stdout: `{"success": false, "message": "assertion failed"}`})
	if outcome.ErrorType != ErrorRuntime {
		t.Errorf("errorType = %q, want runtime", outcome.ErrorType)
	}
	if outcome.Success {
		t.Error("success=false output must not classify as success")
	}
	if outcome.ParsedJSON["message"] != "assertion failed" {
		t.Errorf("parsedJSON not retained: %+v", outcome.ParsedJSON)
	}
}

func TestClassifyOutcome_RuntimeSuccessFromJSON(t *testing.T) {
	outcome := classifyOutcome(&sandbox.ExecuteResult{Stdout: `{"success": true, "result": 42}`})
	if !outcome.Success {
		t.Errorf("expected success, got %+v", outcome)
	}
	if outcome.ErrorType != ErrorNone {
		t.Errorf("errorType = %q, want none", outcome.ErrorType)
	}
}

func TestClassifyOutcome_PlainOutputWithoutJSONIsSuccess(t *testing.T) {
	outcome := classifyOutcome(&sandbox.ExecuteResult{Stdout: "hello world\n"})
	if !outcome.Success {
		t.Errorf("expected success for plain non-JSON stdout, got %+v", outcome)
	}
}

func TestExecutor_Execute_WrapsClassifiedOutcome(t *testing.T) {
	runner := &fakeRunner{results: []*sandbox.ExecuteResult{{Stdout: `{"success": true}`}}}
	e := NewExecutor(runner)

	execution, err := e.Execute(context.Background(), "console.log(1)", "typescript")
	if err != nil {
		t.Fatalf("Execute must never return an error, got %v", err)
	}
	if !execution.Success {
		t.Errorf("expected success, got %+v", execution)
	}
}

func TestExecutor_Execute_TransportFailureNeverErrors(t *testing.T) {
	runner := &fakeRunner{results: []*sandbox.ExecuteResult{nil}}
	e := NewExecutor(runner)

	execution, err := e.Execute(context.Background(), "console.log(1)", "typescript")
	if err != nil {
		t.Fatalf("Execute must never return an error, got %v", err)
	}
	if execution.Success {
		t.Error("nil sandbox result must not classify as success")
	}
	if execution.ErrorType != ErrorSandbox {
		t.Errorf("errorType = %q, want sandbox", execution.ErrorType)
	}
}
