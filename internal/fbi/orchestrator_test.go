package fbi

import (
	"context"
	"strings"
	"testing"

	"github.com/haasonsaas/agentforge/internal/registry"
	"github.com/haasonsaas/agentforge/internal/sandbox"
)

func newTestOrchestrator(t *testing.T, director *Director, generator *Generator, runner *fakeRunner) *Orchestrator {
	t.Helper()
	executor := NewExecutor(runner)
	reg := registry.New(registry.WithAgentsDir(t.TempDir()))
	if err := reg.Refresh(); err != nil {
		t.Fatalf("registry refresh: %v", err)
	}
	return NewOrchestrator(director, generator, executor, reg)
}

func TestOrchestrator_SucceedsOnFirstIteration(t *testing.T) {
	director := NewDirector(&fakeProvider{responses: []fakeResponse{
		{text: `{"improvedPrompt":"print hi","improvements":[],"criticalFeedback":""}`},
		{text: `{"description":"prints hi to stdout"}`},
	}}, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	generator := NewGenerator(&fakeProvider{responses: []fakeResponse{
		{text: "<code>console.log('hi')</code>"},
	}}, WithGeneratorSemaphore(nil), WithGeneratorRetry(fastRetry()))

	runner := &fakeRunner{results: []*sandbox.ExecuteResult{{Stdout: `{"success": true}`}}}

	orch := newTestOrchestrator(t, director, generator, runner)

	session, err := orch.Orchestrate(context.Background(), "print hi", Options{AgentName: "greeter"})
	if err != nil {
		t.Fatalf("Orchestrate error: %v", err)
	}
	if len(session.Attempts) != 1 {
		t.Fatalf("expected 1 attempt (verdict defaults to no-retry on a single scripted response), got %d", len(session.Attempts))
	}
	if !session.Success {
		t.Error("expected session.Success = true")
	}
	if session.FinalCode == "" || !strings.HasSuffix(session.FinalCode, session.Attempts[0].ExtractedCode) {
		t.Errorf("FinalCode must end with the last attempt's extracted code verbatim, got %q vs %q", session.FinalCode, session.Attempts[0].ExtractedCode)
	}
	if session.AgentDescription != "prints hi to stdout" {
		t.Errorf("agentDescription = %q", session.AgentDescription)
	}
}

func TestOrchestrator_RetriesUntilVerdictStops(t *testing.T) {
	director := NewDirector(&fakeProvider{responses: []fakeResponse{
		{text: `{"improvedPrompt":"print hi v1"}`},
		{text: `{"shouldRetry":true,"reasoning":"wrong output"}`},
		{text: `{"improvedPrompt":"print hi v2"}`},
		{text: `{"shouldRetry":false,"reasoning":"looks right"}`},
		{text: `{"description":"prints hi"}`},
	}}, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	generator := NewGenerator(&fakeProvider{responses: []fakeResponse{
		{text: "<code>console.log('bye')</code>"},
		{text: "<code>console.log('hi')</code>"},
	}}, WithGeneratorSemaphore(nil), WithGeneratorRetry(fastRetry()))

	runner := &fakeRunner{results: []*sandbox.ExecuteResult{
		{Stdout: `{"success": false, "message": "wrong word"}`},
		{Stdout: `{"success": true}`},
	}}

	orch := newTestOrchestrator(t, director, generator, runner)

	session, err := orch.Orchestrate(context.Background(), "print hi", Options{AgentName: "greeter", MaxIterations: 3})
	if err != nil {
		t.Fatalf("Orchestrate error: %v", err)
	}
	if len(session.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(session.Attempts))
	}
	if session.Attempts[0].Execution.Success {
		t.Error("first attempt should have failed")
	}
	if !session.Attempts[1].Execution.Success {
		t.Error("second attempt should have succeeded")
	}
	if !session.Success {
		t.Error("expected overall session.Success = true")
	}
}

func TestOrchestrator_StopsAtMaxIterationsRegardlessOfVerdict(t *testing.T) {
	director := NewDirector(&fakeProvider{responses: []fakeResponse{
		{text: `{"improvedPrompt":"try"}`},
		{text: `{"shouldRetry":true,"reasoning":"keep trying"}`},
		{text: `{"description":"never quite works"}`},
	}}, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	generator := NewGenerator(&fakeProvider{responses: []fakeResponse{
		{text: "<code>console.log('nope')</code>"},
	}}, WithGeneratorSemaphore(nil), WithGeneratorRetry(fastRetry()))

	runner := &fakeRunner{results: []*sandbox.ExecuteResult{{Stdout: `{"success": false}`}}}

	orch := newTestOrchestrator(t, director, generator, runner)

	session, err := orch.Orchestrate(context.Background(), "try forever", Options{AgentName: "stubborn", MaxIterations: 2})
	if err != nil {
		t.Fatalf("Orchestrate error: %v", err)
	}
	if len(session.Attempts) != 2 {
		t.Fatalf("expected exactly MaxIterations=2 attempts, got %d", len(session.Attempts))
	}
	if session.Success {
		t.Error("expected overall failure")
	}
}

func TestOrchestrator_ExtractionFailureStillProducesDescribedSession(t *testing.T) {
	director := NewDirector(&fakeProvider{responses: []fakeResponse{
		{text: `{"improvedPrompt":"do something impossible"}`},
		{text: `{"description":"could not generate valid code"}`},
	}}, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	generator := NewGenerator(&fakeProvider{responses: []fakeResponse{
		{text: "no code block here at all"},
	}}, WithGeneratorSemaphore(nil), WithGeneratorRetry(fastRetry()))

	runner := &fakeRunner{results: []*sandbox.ExecuteResult{{Stdout: ""}}}

	orch := newTestOrchestrator(t, director, generator, runner)

	session, err := orch.Orchestrate(context.Background(), "do something impossible", Options{AgentName: "confused", MaxIterations: 1, MaxRetries: 2})
	if err != nil {
		t.Fatalf("Orchestrate error: %v", err)
	}
	if session.WasExecuted {
		t.Error("execution must be skipped when extraction failed")
	}
	if session.Success {
		t.Error("session with no successful execution cannot be a success")
	}
	if session.AgentDescription != "could not generate valid code" {
		t.Errorf("describe must still run even after an extraction failure, got %q", session.AgentDescription)
	}
}

func TestOrchestrator_ContinuationAppendsAttemptsWithIncreasingNumbers(t *testing.T) {
	prior := &Session{
		VersionID: "prior-id",
		Attempts: []*Attempt{
			{AttemptNumber: 1, ExtractionSuccess: true, ExtractedCode: "console.log('v1')"},
		},
		FinalCode: "console.log('v1')",
		Sessions:  []ContinuationEntry{{Prompt: "print v1", AttemptCount: 1}},
	}

	director := NewDirector(&fakeProvider{responses: []fakeResponse{
		{text: `{"improvedPrompt":"improve it"}`},
		{text: `{"description":"now prints v2"}`},
	}}, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	generator := NewGenerator(&fakeProvider{responses: []fakeResponse{
		{text: "<code>console.log('v2')</code>"},
	}}, WithGeneratorSemaphore(nil), WithGeneratorRetry(fastRetry()))

	runner := &fakeRunner{results: []*sandbox.ExecuteResult{{Stdout: `{"success": true}`}}}

	orch := newTestOrchestrator(t, director, generator, runner)

	session, err := orch.Orchestrate(context.Background(), "print v2", Options{AgentName: "greeter", MaxIterations: 1, Prior: prior})
	if err != nil {
		t.Fatalf("Orchestrate error: %v", err)
	}
	if len(session.Attempts) != 2 {
		t.Fatalf("expected prior attempt plus one new attempt, got %d", len(session.Attempts))
	}
	if session.Attempts[1].AttemptNumber != 2 {
		t.Errorf("continued attempt number = %d, want 2", session.Attempts[1].AttemptNumber)
	}
	if len(session.Sessions) != 2 {
		t.Fatalf("expected the prior continuation entry plus one new entry for this run, got %d", len(session.Sessions))
	}
}
