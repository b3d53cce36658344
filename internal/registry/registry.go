package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/haasonsaas/agentforge/internal/observability"
	"github.com/haasonsaas/agentforge/internal/registry/builtins"
)

// Registry maintains the set of utilities available to generated code. It
// is a lazy, cache-with-invalidation map keyed by utility name, refreshed
// via a publish-then-swap of the whole map so concurrent readers always see
// a coherent snapshot.
type Registry struct {
	agentsDir string
	logger    *observability.Logger

	cache atomic.Pointer[map[string]*UtilityDescriptor]
}

type Option func(*Registry)

// WithAgentsDir sets the directory scanned for persisted agent utilities.
func WithAgentsDir(dir string) Option {
	return func(r *Registry) { r.agentsDir = dir }
}

func WithLogger(l *observability.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates a Registry. Call Refresh before first use, or rely on Get/All
// to refresh lazily on an empty cache.
func New(opts ...Option) *Registry {
	r := &Registry{agentsDir: "agents"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh rescans builtins and the agents directory and publishes a new
// snapshot atomically. Name collisions between an agent and a builtin are
// resolved in favor of the builtin.
func (r *Registry) Refresh() error {
	next := map[string]*UtilityDescriptor{}

	builtinDescs, err := loadBuiltins()
	if err != nil {
		return fmt.Errorf("registry: load builtins: %w", err)
	}
	for _, desc := range builtinDescs {
		next[desc.Name] = desc
	}

	agentDescs, err := r.loadAgents()
	if err != nil {
		return fmt.Errorf("registry: load agents: %w", err)
	}
	for _, desc := range agentDescs {
		if _, exists := next[desc.Name]; exists {
			continue // builtin wins
		}
		next[desc.Name] = desc
	}

	r.cache.Store(&next)
	if r.logger != nil {
		r.logger.Info(context.Background(), "registry_refresh", "builtins", len(builtinDescs), "agents", len(agentDescs))
	}
	return nil
}

func (r *Registry) snapshot() map[string]*UtilityDescriptor {
	if m := r.cache.Load(); m != nil {
		return *m
	}
	if err := r.Refresh(); err != nil {
		return map[string]*UtilityDescriptor{}
	}
	if m := r.cache.Load(); m != nil {
		return *m
	}
	return map[string]*UtilityDescriptor{}
}

// Get returns the named utility, refreshing the cache lazily if it has
// never been populated.
func (r *Registry) Get(name string) (*UtilityDescriptor, bool) {
	desc, ok := r.snapshot()[name]
	return desc, ok
}

// All returns every known utility, builtins first, each group alphabetical.
func (r *Registry) All() []*UtilityDescriptor {
	snapshot := r.snapshot()
	descs := make([]*UtilityDescriptor, 0, len(snapshot))
	for _, desc := range snapshot {
		descs = append(descs, desc)
	}
	sort.Slice(descs, func(i, j int) bool {
		if descs[i].Kind != descs[j].Kind {
			return descs[i].Kind == KindBuiltin
		}
		return descs[i].Name < descs[j].Name
	})
	return descs
}

// GenerateUtilityPrompt returns a single text block listing each known
// utility with its name, kind, description, and API docs, for inclusion in
// the Generator's system prompt.
func (r *Registry) GenerateUtilityPrompt() string {
	descs := r.All()
	if len(descs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, desc := range descs {
		fmt.Fprintf(&b, "- %s (%s): %s\n  %s\n", desc.Name, desc.Kind, desc.Description, desc.Docs)
	}
	return b.String()
}

// Detect returns the names of utilities whose declared entry-point
// identifier appears as a substring of code, plus "tracing" whenever any
// other utility is detected - tracing has no declared identifiers of its
// own and is never detected directly.
func (r *Registry) Detect(code string) []string {
	var detected []string
	for _, desc := range r.All() {
		for _, id := range desc.Identifiers {
			if id != "" && strings.Contains(code, id) {
				detected = append(detected, desc.Name)
				break
			}
		}
	}
	if len(detected) > 0 {
		if _, ok := r.Get("tracing"); ok && !contains(detected, "tracing") {
			detected = append(detected, "tracing")
		}
	}
	sort.Strings(detected)
	return detected
}

// Inject composes the final source: an installer preamble, each detected
// utility's source in alphabetical order, a blank separator, then the
// original code verbatim. A detected utility absent from the registry is a
// hard failure. Injection is idempotent on the same input set: if code
// already begins with that exact preamble+sources prefix, Inject returns it
// unchanged instead of prepending a second copy, so re-injecting the output
// of a previous Inject call with the same detected set reproduces it
// exactly with no duplicated utility blocks.
func (r *Registry) Inject(code string, detected []string) (string, error) {
	ordered := append([]string(nil), detected...)
	sort.Strings(ordered)

	depSet := map[string]struct{}{}
	var sourceBlocks []string
	for _, name := range ordered {
		desc, ok := r.Get(name)
		if !ok {
			return "", fmt.Errorf("registry: unknown utility %q requested for injection", name)
		}
		for _, dep := range desc.Deps {
			depSet[dep] = struct{}{}
		}
		sourceBlocks = append(sourceBlocks, desc.Source)
	}

	var b strings.Builder
	b.WriteString(installerPreamble(depSet))
	for _, src := range sourceBlocks {
		b.WriteString(src)
		if !strings.HasSuffix(src, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("\n")
	prefix := b.String()

	if strings.HasPrefix(code, prefix) {
		return code, nil
	}
	return prefix + code, nil
}

func installerPreamble(deps map[string]struct{}) string {
	if len(deps) == 0 {
		return ""
	}
	names := make([]string, 0, len(deps))
	for dep := range deps {
		names = append(names, dep)
	}
	sort.Strings(names)
	return fmt.Sprintf("// dependencies required by injected utilities: %s\n", strings.Join(names, ", "))
}

func contains(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}

func loadBuiltins() ([]*UtilityDescriptor, error) {
	descs := make([]*UtilityDescriptor, 0, len(builtins.Names))
	for _, name := range builtins.Names {
		metaRaw, err := builtins.FS.ReadFile(filepath.ToSlash(filepath.Join(name, "utility.json")))
		if err != nil {
			return nil, fmt.Errorf("read %s/utility.json: %w", name, err)
		}
		meta, err := validateUtilityMetadata(metaRaw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		sourceRaw, err := builtins.FS.ReadFile(filepath.ToSlash(filepath.Join(name, "source.txt")))
		if err != nil {
			return nil, fmt.Errorf("read %s/source.txt: %w", name, err)
		}
		descs = append(descs, &UtilityDescriptor{
			Name:        meta.Name,
			Kind:        KindBuiltin,
			Description: meta.Description,
			Source:      string(sourceRaw),
			Deps:        meta.Deps,
			Docs:        meta.Docs,
			Location:    "builtins/" + name,
			Identifiers: meta.Identifiers,
		})
	}
	return descs, nil
}

// agentManifest is the subset of a persisted agent.json this package reads
// to promote a prior session into a reusable utility.
type agentManifest struct {
	AgentName        string `json:"agentName"`
	OriginalTask     string `json:"ogprompt"`
	FinalCode        string `json:"finalCode"`
	AgentDescription string `json:"agentDescription"`
	WasExecuted      bool   `json:"wasExecuted"`
	Success          bool   `json:"success"`
}

func (r *Registry) loadAgents() ([]*UtilityDescriptor, error) {
	if strings.TrimSpace(r.agentsDir) == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(r.agentsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var descs []*UtilityDescriptor
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		agentDir := filepath.Join(r.agentsDir, entry.Name())
		manifestPath := filepath.Join(agentDir, "agent.json")
		raw, err := os.ReadFile(manifestPath)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", manifestPath, err)
		}

		var manifest agentManifest
		if err := json.Unmarshal(raw, &manifest); err != nil {
			if r.logger != nil {
				r.logger.Warn(context.Background(), "registry_refresh: skipping unreadable agent manifest", "path", manifestPath, "error", err)
			}
			continue
		}
		if !manifest.Success || strings.TrimSpace(manifest.FinalCode) == "" {
			continue
		}

		name := manifest.AgentName
		if name == "" {
			name = entry.Name()
		}
		descs = append(descs, &UtilityDescriptor{
			Name:         name,
			Kind:         KindAgent,
			Description:  manifest.AgentDescription,
			OriginalTask: manifest.OriginalTask,
			Source:       manifest.FinalCode,
			Docs:         manifest.AgentDescription,
			Location:     agentDir,
		})
	}
	return descs, nil
}
