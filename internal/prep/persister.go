// Package prep turns a completed fbi.Session into durable artifacts under an
// agent directory, and reloads/merges them to support continuation: a new
// session that starts from a previously persisted agent's code and history.
package prep

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/haasonsaas/agentforge/internal/fbi"
	"github.com/haasonsaas/agentforge/internal/observability"
)

// langExt maps an orchestrator language to the file extension used for
// index.<ext> and iteration snapshots.
var langExt = map[string]string{
	"typescript": "ts",
	"javascript": "js",
	"python":     "py",
	"go":         "go",
	"bash":       "sh",
}

func extFor(language string) string {
	if ext, ok := langExt[language]; ok {
		return ext
	}
	return "txt"
}

// PersistOptions configures one Persist call.
type PersistOptions struct {
	// BaseDir is the root agents directory. Default "agents"; pass "utils"
	// when promoting a successful session into the stdlib pool instead.
	BaseDir string
	// Overwrite allows replacing an existing agent.json/index file for the
	// same agent name without an explicit prior Session to merge with.
	Overwrite bool
	// Language selects the file extension for index/iteration snapshots.
	Language string
	// Prior, when non-nil, is merged with session before writing (see Merge).
	Prior *fbi.Session
}

// PersistResult reports where a session's artifacts were written, or a
// structured failure. Persist never returns an error for a persistence
// failure; it always returns a usable result.
type PersistResult struct {
	Success      bool   `json:"success"`
	AgentDir     string `json:"agentDir,omitempty"`
	IndexFile    string `json:"indexFile,omitempty"`
	MetadataFile string `json:"metadataFile,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Persister writes and reads agent artifact trees. It assumes exclusive
// access to a given agentDir for the duration of one Persist call; callers
// must not invoke Persist concurrently for the same agent name.
type Persister struct {
	logger *observability.Logger
}

type Option func(*Persister)

func WithLogger(l *observability.Logger) Option {
	return func(p *Persister) { p.logger = l }
}

func New(opts ...Option) *Persister {
	p := &Persister{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Persist writes index.<ext>, agent.json, and one iterations/ snapshot per
// Attempt for session under <baseDir>/<agentName>/. A persistence failure
// (filesystem error) is reported on the result rather than returned as an
// error: the in-memory Session is never affected by a failed write.
func (p *Persister) Persist(session *fbi.Session, opts PersistOptions) (*PersistResult, error) {
	if session == nil {
		return &PersistResult{Error: "prep: nil session"}, nil
	}

	baseDir := opts.BaseDir
	if baseDir == "" {
		baseDir = "agents"
	}
	ext := extFor(opts.Language)

	final := session
	if opts.Prior != nil {
		final = Merge(opts.Prior, session)
	}

	agentDir := filepath.Join(baseDir, final.AgentName)
	iterationsDir := filepath.Join(agentDir, "iterations")
	if err := os.MkdirAll(iterationsDir, 0o755); err != nil {
		return p.failf("create agent directory: %v", err), nil
	}

	indexFile := filepath.Join(agentDir, "index."+ext)
	metadataFile := filepath.Join(agentDir, "agent.json")

	if !opts.Overwrite && opts.Prior == nil {
		if _, err := os.Stat(metadataFile); err == nil {
			return p.failf("agent %q already exists and overwrite is false", final.AgentName), nil
		}
	}

	final.Files = fbi.PersistedFiles{IndexFile: indexFile, MetadataFile: metadataFile}

	if err := writeFileAtomic(indexFile, []byte(final.FinalCode), 0o644); err != nil {
		return p.failf("write index file: %v", err), nil
	}

	for _, attempt := range final.Attempts {
		if attempt.ExtractedCode == "" {
			continue
		}
		name := fmt.Sprintf("iteration-%d-%d.%s", attempt.AttemptNumber, attempt.Timestamp.UnixNano(), ext)
		path := filepath.Join(iterationsDir, name)
		if _, err := os.Stat(path); err == nil {
			continue // write-once: never overwrite an existing snapshot
		}
		if err := writeFileAtomic(path, []byte(attempt.ExtractedCode), 0o644); err != nil {
			return p.failf("write iteration snapshot: %v", err), nil
		}
	}

	data, err := json.MarshalIndent(final, "", "  ")
	if err != nil {
		return p.failf("marshal agent.json: %v", err), nil
	}
	if err := writeFileAtomic(metadataFile, data, 0o644); err != nil {
		return p.failf("write agent.json: %v", err), nil
	}

	if p.logger != nil {
		p.logger.Info(context.Background(), "persist", "agent", final.AgentName, "attempts", len(final.Attempts))
	}

	return &PersistResult{Success: true, AgentDir: agentDir, IndexFile: indexFile, MetadataFile: metadataFile}, nil
}

func (p *Persister) failf(format string, args ...any) *PersistResult {
	msg := fmt.Sprintf(format, args...)
	if p.logger != nil {
		p.logger.Warn(context.Background(), "persist failed", "error", msg)
	}
	return &PersistResult{Error: msg}
}

// Load reads <baseDir>/<agentName>/agent.json and returns the prior Session,
// or (nil, nil) if no such agent has been persisted yet.
func (p *Persister) Load(baseDir, agentName string) (*fbi.Session, error) {
	path := filepath.Join(baseDir, agentName, "agent.json")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prep: read %s: %w", path, err)
	}

	var session fbi.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("prep: parse %s: %w", path, err)
	}
	return &session, nil
}

// Merge folds incoming's new Attempts onto prior's history for a
// continuation. Attempt numbering continues monotonically from prior's
// count; the newest final code, description, and agent name win; sessions[]
// entries union with one new continuation entry appended for this merge.
func Merge(prior, incoming *fbi.Session) *fbi.Session {
	if prior == nil {
		return incoming
	}
	if incoming == nil {
		return prior
	}

	merged := *incoming
	merged.Attempts = append(append([]*fbi.Attempt{}, prior.Attempts...), incoming.Attempts...)
	merged.Sessions = append(append([]fbi.ContinuationEntry{}, prior.Sessions...), fbi.ContinuationEntry{
		Timestamp:    incoming.Timestamp,
		Prompt:       incoming.OriginalTask,
		AttemptCount: len(incoming.Attempts),
	})
	if merged.AgentName == "" {
		merged.AgentName = prior.AgentName
	}
	return &merged
}

// writeFileAtomic writes data to a temporary sibling of path, then renames it
// into place, so a crash mid-write never corrupts a previously-valid file.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
