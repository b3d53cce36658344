package fbi

import (
	"context"
	"strings"
	"testing"
)

func TestGenerator_ExtractsFromCodeTag(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{text: "here you go:\n<code>console.log('hi')</code>\nenjoy"},
	}}
	g := NewGenerator(provider, WithGeneratorSemaphore(nil), WithGeneratorRetry(fastRetry()))

	result := g.Generate(context.Background(), "print hi", "typescript", "", 3)

	if !result.ExtractionSuccess {
		t.Fatalf("expected extraction success, got %+v", result)
	}
	if result.ExtractedCode != "console.log('hi')" {
		t.Errorf("extracted code = %q", result.ExtractedCode)
	}
	if result.InnerCallCount != 1 {
		t.Errorf("inner call count = %d, want 1", result.InnerCallCount)
	}
}

func TestGenerator_FallsBackToFencedBlock(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{text: "```typescript\nconsole.log('hi')\n```"},
	}}
	g := NewGenerator(provider, WithGeneratorSemaphore(nil), WithGeneratorRetry(fastRetry()))

	result := g.Generate(context.Background(), "print hi", "typescript", "", 3)

	if !result.ExtractionSuccess {
		t.Fatalf("expected extraction success via fence, got %+v", result)
	}
	if result.ExtractedCode != "console.log('hi')" {
		t.Errorf("extracted code = %q", result.ExtractedCode)
	}
}

func TestGenerator_RetriesOnExtractionFailureThenSucceeds(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{text: "sorry, here is a description with no code"},
		{text: "<code>console.log('hi')</code>"},
	}}
	g := NewGenerator(provider, WithGeneratorSemaphore(nil), WithGeneratorRetry(fastRetry()))

	result := g.Generate(context.Background(), "print hi", "typescript", "", 3)

	if !result.ExtractionSuccess {
		t.Fatalf("expected eventual extraction success, got %+v", result)
	}
	if result.InnerCallCount != 2 {
		t.Errorf("inner call count = %d, want 2", result.InnerCallCount)
	}
	if provider.calls != 2 {
		t.Errorf("provider.calls = %d, want 2", provider.calls)
	}
}

func TestGenerator_ExhaustsRetriesWithoutCode(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{text: "no code here"},
	}}
	g := NewGenerator(provider, WithGeneratorSemaphore(nil), WithGeneratorRetry(fastRetry()))

	result := g.Generate(context.Background(), "print hi", "typescript", "", 2)

	if result.ExtractionSuccess {
		t.Fatal("expected extraction failure after exhausting retries")
	}
	if result.InnerCallCount != 2 {
		t.Errorf("inner call count = %d, want 2", result.InnerCallCount)
	}
	if result.Error == "" {
		t.Error("expected a non-empty error on the result")
	}
}

func TestGenerator_SystemPromptIncludesUtilityDocs(t *testing.T) {
	prompt := buildGeneratorSystemPrompt("typescript", "- wandb (builtin): logs chat turns\n")
	if !strings.Contains(prompt, "wandb") {
		t.Errorf("system prompt missing injected utility docs: %q", prompt)
	}
}
