// Package sandbox provides remote code execution behind a small black-box
// contract: submit source code and a language, get back captured stdout and
// an exit code. The orchestrator core classifies the result; this package
// only deals in the transport.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Executor runs code in a sandboxed environment, dispatching to a backend
// (Docker locally, Daytona in production) cached per language.
type Executor struct {
	config *Config

	mu        sync.Mutex
	executors map[string]RuntimeExecutor
}

// ExecuteParams defines the input parameters for code execution including
// the code, language, optional input, additional files, and resource limits.
type ExecuteParams struct {
	Language        string              `json:"language"` // python, nodejs, go, bash, typescript
	Code            string              `json:"code"`
	Stdin           string              `json:"stdin,omitempty"`
	Files           map[string]string   `json:"files,omitempty"`            // filename -> content
	Timeout         int                 `json:"timeout,omitempty"`          // seconds, default 30
	CPULimit        int                 `json:"cpu_limit,omitempty"`        // millicores, default 1000
	MemLimit        int                 `json:"mem_limit,omitempty"`        // MB, default 512
	WorkspaceAccess WorkspaceAccessMode `json:"workspace_access,omitempty"` // none, ro, rw - default ro
}

// ExecuteResult contains the execution output including stdout, exit code,
// and any transport-level error or timeout information.
type ExecuteResult struct {
	Stdout   string `json:"stdout"`
	ExitCode int    `json:"exit_code"`
	Error    string `json:"error,omitempty"`
	Timeout  bool   `json:"timeout,omitempty"`
}

// WorkspaceAccessMode controls how the workspace is mounted in the sandbox.
type WorkspaceAccessMode string

const (
	WorkspaceNone      WorkspaceAccessMode = "none"
	WorkspaceReadOnly  WorkspaceAccessMode = "ro"
	WorkspaceReadWrite WorkspaceAccessMode = "rw"
)

// NewExecutor creates a new sandbox executor with the given options.
func NewExecutor(opts ...Option) (*Executor, error) {
	config := &Config{
		Backend:         BackendDocker,
		DefaultTimeout:  30 * time.Second,
		DefaultCPU:      1000,
		DefaultMemory:   512,
		NetworkEnabled:  false,
		WorkspaceAccess: WorkspaceReadOnly,
	}

	for _, opt := range opts {
		opt(config)
	}

	if config.Backend == BackendDaytona {
		resolved, err := resolveDaytonaConfig(config.Daytona)
		if err != nil {
			return nil, err
		}
		config.Daytona = resolved
		client, err := newDaytonaClient(resolved)
		if err != nil {
			return nil, err
		}
		config.daytonaClient = client
	}

	return &Executor{
		config:    config,
		executors: make(map[string]RuntimeExecutor),
	}, nil
}

// Run executes code in a sandboxed environment and returns the captured
// outcome. It never returns an error for a failing program; transport-level
// failures (sandbox unreachable, timeout) are reported on ExecuteResult.Error
// so the caller can classify the outcome uniformly.
func (e *Executor) Run(ctx context.Context, params *ExecuteParams) (*ExecuteResult, error) {
	if params == nil {
		return nil, errors.New("sandbox: missing execution params")
	}
	if !isValidLanguage(params.Language) {
		return nil, fmt.Errorf("sandbox: unsupported language %q", params.Language)
	}

	params = withDefaults(params, e.config)

	runtime, err := e.runtimeFor(params.Language)
	if err != nil {
		return &ExecuteResult{Error: err.Error()}, nil
	}

	workspace, err := prepareWorkspace(params, e.config.WorkspaceRoot)
	if err != nil {
		return &ExecuteResult{Error: fmt.Sprintf("prepare workspace: %v", err)}, nil
	}
	defer os.RemoveAll(workspace)

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(params.Timeout)*time.Second)
	defer cancel()

	result, err := runtime.Run(execCtx, params, workspace)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			return &ExecuteResult{Error: "execution timeout", Timeout: true}, nil
		}
		return &ExecuteResult{Error: err.Error()}, nil
	}
	return result, nil
}

// Close shuts down any cached backend executors and releases their resources.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var firstErr error
	for _, r := range e.executors {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.executors = make(map[string]RuntimeExecutor)
	return firstErr
}

func (e *Executor) runtimeFor(language string) (RuntimeExecutor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.executors[language]; ok {
		return r, nil
	}

	var r RuntimeExecutor
	var err error
	switch e.config.Backend {
	case BackendDaytona:
		r, err = newDaytonaExecutor(language, e.config)
	default:
		r, err = newDockerExecutor(language, e.config.DefaultCPU, e.config.DefaultMemory, e.config.NetworkEnabled)
	}
	if err != nil {
		return nil, err
	}

	e.executors[language] = r
	return r, nil
}

func withDefaults(params *ExecuteParams, config *Config) *ExecuteParams {
	p := *params
	if p.Timeout == 0 {
		p.Timeout = int(config.DefaultTimeout / time.Second)
	}
	if p.Timeout > 300 {
		p.Timeout = 300
	}
	if p.CPULimit == 0 {
		p.CPULimit = config.DefaultCPU
	}
	if p.MemLimit == 0 {
		p.MemLimit = config.DefaultMemory
	}
	if p.WorkspaceAccess == "" {
		p.WorkspaceAccess = config.WorkspaceAccess
	}
	return &p
}

// prepareWorkspace creates a scratch directory with code and files.
func prepareWorkspace(params *ExecuteParams, workspaceRoot string) (string, error) {
	workspaceRoot = strings.TrimSpace(workspaceRoot)
	if workspaceRoot != "" {
		if err := os.MkdirAll(workspaceRoot, 0o755); err != nil {
			return "", err
		}
	}

	workspace, err := os.MkdirTemp(workspaceRoot, "sandbox-*")
	if err != nil {
		return "", err
	}

	mainFile := getMainFilename(params.Language)
	if err := os.WriteFile(filepath.Join(workspace, mainFile), []byte(params.Code), 0644); err != nil {
		os.RemoveAll(workspace)
		return "", err
	}

	for filename, content := range params.Files {
		filename = filepath.Base(filename)
		if err := os.WriteFile(filepath.Join(workspace, filename), []byte(content), 0644); err != nil {
			os.RemoveAll(workspace)
			return "", err
		}
	}

	if params.Stdin != "" {
		if err := os.WriteFile(filepath.Join(workspace, "stdin.txt"), []byte(params.Stdin), 0644); err != nil {
			os.RemoveAll(workspace)
			return "", err
		}
	}

	return workspace, nil
}

func getMainFilename(language string) string {
	switch language {
	case "python":
		return "main.py"
	case "nodejs", "typescript":
		return "main.js"
	case "go":
		return "main.go"
	case "bash":
		return "main.sh"
	default:
		return "main.txt"
	}
}

func isValidLanguage(language string) bool {
	switch language {
	case "python", "nodejs", "typescript", "go", "bash":
		return true
	default:
		return false
	}
}

// RuntimeExecutor is the interface for language-specific code executors.
type RuntimeExecutor interface {
	Run(ctx context.Context, params *ExecuteParams, workspace string) (*ExecuteResult, error)
	Language() string
	Close() error
}

// dockerExecutor implements RuntimeExecutor using the local docker binary.
// It is the default backend, used for local development and tests where no
// Daytona credentials are configured.
type dockerExecutor struct {
	language       string
	image          string
	cpuLimit       int
	memLimit       int
	networkEnabled bool
}

func newDockerExecutor(language string, cpuLimit, memLimit int, networkEnabled bool) (*dockerExecutor, error) {
	return &dockerExecutor{
		language:       language,
		image:          getDockerImage(language),
		cpuLimit:       cpuLimit,
		memLimit:       memLimit,
		networkEnabled: networkEnabled,
	}, nil
}

func (d *dockerExecutor) Run(ctx context.Context, params *ExecuteParams, workspace string) (*ExecuteResult, error) {
	args := []string{"run", "--rm"}
	if !d.networkEnabled {
		args = append(args, "--network", "none")
	}
	args = append(args,
		"--cpus", fmt.Sprintf("%.2f", float64(params.CPULimit)/1000.0),
		"--memory", fmt.Sprintf("%dm", params.MemLimit),
		"--memory-swap", fmt.Sprintf("%dm", params.MemLimit),
		"--pids-limit", "100",
	)

	switch params.WorkspaceAccess {
	case WorkspaceReadWrite:
		args = append(args, "-v", fmt.Sprintf("%s:/workspace:rw", workspace))
	default:
		args = append(args, "-v", fmt.Sprintf("%s:/workspace:ro", workspace))
	}
	args = append(args, "-w", "/workspace")
	if params.Stdin != "" {
		args = append(args, "-i")
	}
	args = append(args, d.image)
	args = append(args, getRunCommand(params.Language)...)

	cmd := exec.CommandContext(ctx, "docker", args...)
	if params.Stdin != "" {
		cmd.Stdin = strings.NewReader(params.Stdin)
	}

	var out strings.Builder
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	result := &ExecuteResult{Stdout: out.String()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else if ctx.Err() == context.DeadlineExceeded {
			result.Timeout = true
			result.Error = "execution timeout"
		} else {
			result.Error = err.Error()
		}
	}
	return result, nil
}

func (d *dockerExecutor) Language() string { return d.language }
func (d *dockerExecutor) Close() error     { return nil }

func getDockerImage(language string) string {
	switch language {
	case "python":
		return "python:3.11-alpine"
	case "nodejs", "typescript":
		return "node:20-alpine"
	case "go":
		return "golang:1.24-alpine"
	case "bash":
		return "bash:5-alpine"
	default:
		return "alpine:latest"
	}
}

func getRunCommand(language string) []string {
	switch language {
	case "python":
		return []string{"python", "main.py"}
	case "nodejs", "typescript":
		return []string{"node", "main.js"}
	case "go":
		return []string{"sh", "-c", "go run main.go"}
	case "bash":
		return []string{"bash", "main.sh"}
	default:
		return []string{"cat", "main.txt"}
	}
}

// Config holds executor configuration including backend type, resource
// limits, and network access settings.
type Config struct {
	Backend         Backend
	DefaultTimeout  time.Duration
	DefaultCPU      int
	DefaultMemory   int
	NetworkEnabled  bool
	Daytona         *DaytonaConfig
	WorkspaceRoot   string
	WorkspaceAccess WorkspaceAccessMode

	daytonaClient *daytonaClient
}

// Backend represents the sandbox backend technology.
type Backend string

const (
	BackendDocker  Backend = "docker"
	BackendDaytona Backend = "daytona"
)

// Option is a functional option for configuring the executor at creation time.
type Option func(*Config)

func WithBackend(backend Backend) Option {
	return func(c *Config) { c.Backend = backend }
}

func WithDefaultTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.DefaultTimeout = timeout }
}

func WithDefaultCPU(millicores int) Option {
	return func(c *Config) { c.DefaultCPU = millicores }
}

func WithDefaultMemory(megabytes int) Option {
	return func(c *Config) { c.DefaultMemory = megabytes }
}

func WithNetworkEnabled(enabled bool) Option {
	return func(c *Config) { c.NetworkEnabled = enabled }
}

func WithDaytonaConfig(cfg DaytonaConfig) Option {
	return func(c *Config) { c.Daytona = &cfg }
}

func WithWorkspaceRoot(root string) Option {
	return func(c *Config) { c.WorkspaceRoot = root }
}

func WithDefaultWorkspaceAccess(mode WorkspaceAccessMode) Option {
	return func(c *Config) { c.WorkspaceAccess = mode }
}
