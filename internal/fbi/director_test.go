package fbi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/agentforge/internal/retry"
)

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1}
}

func TestDirectorImprovePrompt_Success(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{
		{text: `{"improvedPrompt":"write a sorted merge","improvements":["be specific"],"criticalFeedback":""}`},
	}}
	d := NewDirector(provider, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	refinement := d.ImprovePrompt(context.Background(), "merge two lists", DirectorContext{Language: "typescript"})

	if !refinement.Success {
		t.Fatalf("expected success, got %+v", refinement)
	}
	if refinement.ImprovedPrompt != "write a sorted merge" {
		t.Errorf("improved prompt = %q", refinement.ImprovedPrompt)
	}
	if len(refinement.Improvements) != 1 {
		t.Errorf("improvements = %v", refinement.Improvements)
	}
}

func TestDirectorImprovePrompt_DegradesOnTransportFailure(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{err: errors.New("network down")}}}
	d := NewDirector(provider, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	refinement := d.ImprovePrompt(context.Background(), "merge two lists", DirectorContext{})

	if refinement.Success {
		t.Fatal("expected degraded fallback, got success")
	}
	if refinement.ImprovedPrompt != "merge two lists" {
		t.Errorf("fallback should echo original task verbatim, got %q", refinement.ImprovedPrompt)
	}
}

func TestDirectorImprovePrompt_DegradesOnUnparsableResponse(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "not json and no fenced block either"}}}
	d := NewDirector(provider, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	refinement := d.ImprovePrompt(context.Background(), "merge two lists", DirectorContext{})

	if refinement.Success {
		t.Fatal("expected degraded fallback on unparsable response")
	}
	if refinement.ImprovedPrompt != "merge two lists" {
		t.Errorf("fallback ImprovedPrompt = %q", refinement.ImprovedPrompt)
	}
}

func TestDirectorVerdict_DefaultsToNoRetryOnFailure(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{err: errors.New("boom")}}}
	d := NewDirector(provider, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	session := &Session{Attempts: []*Attempt{{AttemptNumber: 1}}}
	verdict := d.Verdict(context.Background(), "task", session, 1, 3)

	if verdict.ShouldRetry {
		t.Fatal("an undecidable director must never force a retry")
	}
}

func TestDirectorVerdict_ParsesShouldRetry(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: `{"shouldRetry":true,"reasoning":"output was empty"}`}}}
	d := NewDirector(provider, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	session := &Session{Attempts: []*Attempt{{AttemptNumber: 1}}}
	verdict := d.Verdict(context.Background(), "task", session, 1, 3)

	if !verdict.ShouldRetry {
		t.Fatal("expected ShouldRetry=true")
	}
	if verdict.Reasoning != "output was empty" {
		t.Errorf("reasoning = %q", verdict.Reasoning)
	}
}

func TestDirectorDescribe_FallsBackDeterministically(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{err: errors.New("boom")}}}
	d := NewDirector(provider, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	desc := d.Describe(context.Background(), "sorter", "sort a list of numbers", "const x = 1;")

	if desc != "sorter: sort a list of numbers" {
		t.Errorf("deterministic fallback = %q", desc)
	}
}

func TestDirectorDescribe_UsesPlainTextWhenNotJSON(t *testing.T) {
	provider := &fakeProvider{responses: []fakeResponse{{text: "Sorts numbers in ascending order."}}}
	d := NewDirector(provider, WithDirectorSemaphore(nil), WithDirectorRetry(fastRetry()))

	desc := d.Describe(context.Background(), "sorter", "sort a list of numbers", "const x = 1;")

	if desc != "Sorts numbers in ascending order." {
		t.Errorf("description = %q", desc)
	}
}

func TestClassifyForRetry_AuthErrorIsPermanent(t *testing.T) {
	err := errors.New("401 unauthorized: invalid api key")
	if !retry.IsPermanent(classifyForRetry(err)) {
		t.Fatal("auth failures must short-circuit retry")
	}
}
