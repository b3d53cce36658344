package fbi

import (
	"context"

	"github.com/haasonsaas/agentforge/internal/llm"
	"github.com/haasonsaas/agentforge/internal/sandbox"
)

// fakeProvider is a scripted llm.LLMProvider: each call to Complete pops the
// next response off responses, looping on the last entry once exhausted.
type fakeProvider struct {
	responses []fakeResponse
	calls     int
}

type fakeResponse struct {
	text string
	err  error
}

func (f *fakeProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (<-chan *llm.CompletionChunk, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	resp := f.responses[idx]

	ch := make(chan *llm.CompletionChunk, 1)
	if resp.err != nil {
		ch <- &llm.CompletionChunk{Error: resp.err}
		close(ch)
		return ch, nil
	}
	ch <- &llm.CompletionChunk{Text: resp.text, Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Models() []llm.Model { return nil }

// fakeRunner is a scripted sandboxRunner used to drive the Executor and
// Orchestrator without a live sandbox backend.
type fakeRunner struct {
	results []*sandbox.ExecuteResult
	calls   int
}

func (f *fakeRunner) Run(ctx context.Context, params *sandbox.ExecuteParams) (*sandbox.ExecuteResult, error) {
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	return f.results[idx], nil
}
