package prep

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/haasonsaas/agentforge/internal/fbi"
)

func sampleSession(agentName string) *fbi.Session {
	return &fbi.Session{
		VersionID:    "v1",
		AgentName:    agentName,
		OriginalTask: "sort a list of numbers",
		Timestamp:    time.Unix(1700000000, 0),
		Attempts: []*fbi.Attempt{
			{
				AttemptNumber:     1,
				Timestamp:         time.Unix(1700000001, 0),
				ExtractionSuccess: true,
				ExtractedCode:     "function sortNums(xs){return xs.sort((a,b)=>a-b);}",
				Execution:         &fbi.Execution{Success: true, Output: `{"success":true}`},
			},
		},
		WasExecuted:      true,
		FinalCode:        "function sortNums(xs){return xs.sort((a,b)=>a-b);}",
		AgentDescription: "sorts a list of numbers ascending",
		Success:          true,
	}
}

func TestPersist_WritesIndexAgentJSONAndIterationSnapshot(t *testing.T) {
	base := t.TempDir()
	p := New()

	result, err := p.Persist(sampleSession("sorter"), PersistOptions{BaseDir: base, Language: "typescript"})
	if err != nil {
		t.Fatalf("Persist returned an error: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	if _, err := os.Stat(result.IndexFile); err != nil {
		t.Errorf("index file missing: %v", err)
	}
	if _, err := os.Stat(result.MetadataFile); err != nil {
		t.Errorf("agent.json missing: %v", err)
	}

	entries, err := filepath.Glob(filepath.Join(base, "sorter", "iterations", "iteration-1-*.ts"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one iteration snapshot, got %v", entries)
	}
}

func TestPersist_RefusesOverwriteWithoutFlagOrPrior(t *testing.T) {
	base := t.TempDir()
	p := New()

	if _, err := p.Persist(sampleSession("sorter"), PersistOptions{BaseDir: base}); err != nil {
		t.Fatalf("first persist: %v", err)
	}

	result, err := p.Persist(sampleSession("sorter"), PersistOptions{BaseDir: base})
	if err != nil {
		t.Fatalf("Persist must report failure on the result, not as an error: %v", err)
	}
	if result.Success {
		t.Fatal("expected a failed result when re-persisting without overwrite or a prior session")
	}
}

func TestPersistThenLoad_RoundTrip(t *testing.T) {
	base := t.TempDir()
	p := New()
	session := sampleSession("sorter")

	if _, err := p.Persist(session, PersistOptions{BaseDir: base, Language: "typescript"}); err != nil {
		t.Fatalf("Persist: %v", err)
	}

	loaded, err := p.Load(base, "sorter")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected a loaded session, got nil")
	}
	if loaded.VersionID != session.VersionID {
		t.Errorf("versionID = %q, want %q", loaded.VersionID, session.VersionID)
	}
	if len(loaded.Attempts) != len(session.Attempts) {
		t.Errorf("attempts = %d, want %d", len(loaded.Attempts), len(session.Attempts))
	}
	if loaded.FinalCode != session.FinalCode {
		t.Errorf("finalCode mismatch")
	}
}

func TestLoad_AbsentAgentReturnsNilNil(t *testing.T) {
	p := New()
	session, err := p.Load(t.TempDir(), "never-existed")
	if err != nil {
		t.Fatalf("expected no error for an absent agent, got %v", err)
	}
	if session != nil {
		t.Fatalf("expected nil session, got %+v", session)
	}
}

func TestMerge_AppendsAttemptsWithContinuingNumbersAndUnionsSessions(t *testing.T) {
	prior := sampleSession("fact")
	prior.Sessions = []fbi.ContinuationEntry{{Timestamp: time.Unix(1, 0), Prompt: "compute factorial", AttemptCount: 1}}

	incoming := &fbi.Session{
		VersionID:    "v2",
		AgentName:    "fact",
		OriginalTask: "also handle n=0 returning 1",
		Timestamp:    time.Unix(1700001000, 0),
		Attempts: []*fbi.Attempt{
			{AttemptNumber: 2, ExtractionSuccess: true, ExtractedCode: "function fact(n){return n<=1?1:n*fact(n-1);}"},
		},
		FinalCode:        "function fact(n){return n<=1?1:n*fact(n-1);}",
		AgentDescription: "computes factorial, including n=0",
		Success:          true,
	}

	merged := Merge(prior, incoming)

	if len(merged.Attempts) != 2 {
		t.Fatalf("expected 2 merged attempts, got %d", len(merged.Attempts))
	}
	if merged.Attempts[0].AttemptNumber != 1 || merged.Attempts[1].AttemptNumber != 2 {
		t.Errorf("attempt numbers not monotonic: %d, %d", merged.Attempts[0].AttemptNumber, merged.Attempts[1].AttemptNumber)
	}
	if merged.FinalCode != incoming.FinalCode {
		t.Errorf("merged FinalCode should be the newest, got %q", merged.FinalCode)
	}
	if len(merged.Sessions) != 2 {
		t.Fatalf("expected union of sessions[] plus one new continuation entry, got %d", len(merged.Sessions))
	}
}

func TestPersist_WithPriorMergesBeforeWriting(t *testing.T) {
	base := t.TempDir()
	p := New()
	prior := sampleSession("fact")

	if _, err := p.Persist(prior, PersistOptions{BaseDir: base}); err != nil {
		t.Fatalf("initial persist: %v", err)
	}

	incoming := &fbi.Session{
		AgentName: "fact",
		Timestamp: time.Unix(1700002000, 0),
		Attempts: []*fbi.Attempt{
			{AttemptNumber: 2, ExtractionSuccess: true, ExtractedCode: "function fact(n){return n<=1?1:n*fact(n-1);}"},
		},
		FinalCode: "function fact(n){return n<=1?1:n*fact(n-1);}",
		Success:   true,
	}

	result, err := p.Persist(incoming, PersistOptions{BaseDir: base, Prior: prior})
	if err != nil {
		t.Fatalf("continuation persist: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}

	loaded, err := p.Load(base, "fact")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Attempts) != 2 {
		t.Fatalf("expected the merged session's 2 attempts to be persisted, got %d", len(loaded.Attempts))
	}
}
