// Package main provides the CLI entry point for agentforge, an iterative
// Director-Generator-Executor code synthesis orchestrator.
//
// # Basic Usage
//
// Synthesize a new agent from a task:
//
//	agentforge run --agent greeter --task "print hi to stdout" --config agentforge.yaml
//
// Continuing an existing agent re-runs the loop on top of its persisted
// history; pass the same --agent name with a new --task.
//
// # Environment Variables
//
//   - AGENTFORGE_ANTHROPIC_API_KEY / AGENTFORGE_OPENAI_API_KEY: inference API keys
//   - AGENTFORGE_LLM_PROVIDER: "anthropic" or "openai"
//   - AGENTFORGE_MODEL: model override
//   - AGENTFORGE_MAX_ITERATIONS: iteration cap override
//   - DAYTONA_API_KEY, DAYTONA_API_URL / DAYTONA_SERVER_URL, DAYTONA_ORGANIZATION_ID, DAYTONA_TARGET
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentforge/internal/admission"
	"github.com/haasonsaas/agentforge/internal/config"
	"github.com/haasonsaas/agentforge/internal/fbi"
	"github.com/haasonsaas/agentforge/internal/llm"
	"github.com/haasonsaas/agentforge/internal/llm/providers"
	"github.com/haasonsaas/agentforge/internal/observability"
	"github.com/haasonsaas/agentforge/internal/prep"
	"github.com/haasonsaas/agentforge/internal/registry"
	"github.com/haasonsaas/agentforge/internal/sandbox"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentforge",
		Short:        "agentforge - iterative LLM code synthesis orchestrator",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildRunCmd())
	return rootCmd
}

func buildRunCmd() *cobra.Command {
	var (
		configPath      string
		agentName       string
		task            string
		systemPrompt    string
		judgingCriteria string
		maxIterations   int
		maxRetries      int
		overwrite       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Director-Generator-Executor loop for one task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if agentName == "" {
				return fmt.Errorf("--agent is required")
			}
			if task == "" {
				return fmt.Errorf("--task is required")
			}
			return runOrchestrate(cmd.Context(), runParams{
				configPath:      configPath,
				agentName:       agentName,
				task:            task,
				systemPrompt:    systemPrompt,
				judgingCriteria: judgingCriteria,
				maxIterations:   maxIterations,
				maxRetries:      maxRetries,
				overwrite:       overwrite,
			})
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "agentforge.yaml", "path to the agentforge config file")
	cmd.Flags().StringVar(&agentName, "agent", "", "agent name; reusing an existing name continues that agent's history")
	cmd.Flags().StringVar(&task, "task", "", "natural-language task to synthesize code for")
	cmd.Flags().StringVar(&systemPrompt, "system-prompt", "", "optional steering text for the Director")
	cmd.Flags().StringVar(&judgingCriteria, "judging-criteria", "", "optional success criteria for the Director's verdict")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "override orchestrator.max_iterations (0 = use config)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "override orchestrator.max_retries (0 = use config)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "allow overwriting a non-continued agent's existing artifacts")

	return cmd
}

type runParams struct {
	configPath      string
	agentName       string
	task            string
	systemPrompt    string
	judgingCriteria string
	maxIterations   int
	maxRetries      int
	overwrite       bool
}

func runOrchestrate(ctx context.Context, p runParams) error {
	cfg, err := config.Load(p.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{})
	defer shutdownTracer(ctx) //nolint:errcheck

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("build llm provider: %w", err)
	}

	sb, err := buildSandbox(cfg)
	if err != nil {
		return fmt.Errorf("build sandbox: %w", err)
	}

	sem := admission.New(cfg.Orchestrator.Admission)
	model := cfg.LLM.Providers[cfg.LLM.DefaultProvider].DefaultModel

	director := fbi.NewDirector(provider,
		fbi.WithDirectorModel(model),
		fbi.WithDirectorSemaphore(sem),
		fbi.WithDirectorTracer(tracer),
		fbi.WithDirectorLogger(logger),
	)
	generator := fbi.NewGenerator(provider,
		fbi.WithGeneratorModel(model),
		fbi.WithGeneratorSemaphore(sem),
		fbi.WithGeneratorTracer(tracer),
		fbi.WithGeneratorLogger(logger),
	)
	executor := fbi.NewExecutor(sb,
		fbi.WithExecutorTracer(tracer),
		fbi.WithExecutorLogger(logger),
	)

	reg := registry.New(registry.WithAgentsDir(cfg.Orchestrator.AgentsDir), registry.WithLogger(logger))
	if err := reg.Refresh(); err != nil {
		return fmt.Errorf("registry refresh: %w", err)
	}

	persister := prep.New(prep.WithLogger(logger))
	prior, err := persister.Load(cfg.Orchestrator.AgentsDir, p.agentName)
	if err != nil {
		return fmt.Errorf("load prior agent: %w", err)
	}

	maxIterations := cfg.Orchestrator.MaxIterations
	if p.maxIterations > 0 {
		maxIterations = p.maxIterations
	}
	maxRetries := cfg.Orchestrator.MaxRetries
	if p.maxRetries > 0 {
		maxRetries = p.maxRetries
	}

	orch := fbi.NewOrchestrator(director, generator, executor, reg, fbi.WithOrchestratorLogger(logger))

	session, err := orch.Orchestrate(ctx, p.task, fbi.Options{
		MaxIterations:   maxIterations,
		MaxRetries:      maxRetries,
		Language:        cfg.Orchestrator.Language,
		AgentName:       p.agentName,
		SystemPrompt:    p.systemPrompt,
		JudgingCriteria: p.judgingCriteria,
		Prior:           prior,
	})
	if err != nil {
		return fmt.Errorf("orchestrate: %w", err)
	}

	// session's Attempts/Sessions are already merged with prior by Orchestrate
	// (see fbi.Options.Prior); passing prior here too would merge it a second
	// time and duplicate attempts, so Persist only needs Overwrite permission
	// to replace an existing agent.json for a continuation.
	result, err := persister.Persist(session, prep.PersistOptions{
		BaseDir:   cfg.Orchestrator.AgentsDir,
		Language:  cfg.Orchestrator.Language,
		Overwrite: p.overwrite || prior != nil,
	})
	if err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if !result.Success {
		logger.Warn(ctx, "persist failed", "agent", p.agentName, "error", result.Error)
	}

	logger.Info(ctx, "run_complete",
		"agent", p.agentName,
		"attempts", len(session.Attempts),
		"success", session.Success,
		"agentDir", result.AgentDir,
	)

	if !session.Success {
		return fmt.Errorf("agent %q did not reach a successful execution within %d iterations", p.agentName, maxIterations)
	}
	return nil
}

func buildProvider(cfg *config.Config) (llm.LLMProvider, error) {
	name := cfg.LLM.DefaultProvider
	providerCfg := cfg.LLM.Providers[name]

	switch name {
	case "openai":
		if providerCfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but llm.providers.openai.api_key is empty")
		}
		return providers.NewOpenAIProvider(providerCfg.APIKey), nil
	case "anthropic", "":
		if providerCfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider selected but llm.providers.anthropic.api_key is empty")
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: providerCfg.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", name)
	}
}

func buildSandbox(cfg *config.Config) (*sandbox.Executor, error) {
	backend := sandbox.BackendDocker
	if cfg.Sandbox.Backend == "daytona" {
		backend = sandbox.BackendDaytona
	}

	opts := []sandbox.Option{
		sandbox.WithBackend(backend),
		sandbox.WithDefaultTimeout(cfg.Sandbox.Timeout),
	}
	if backend == sandbox.BackendDaytona {
		opts = append(opts, sandbox.WithDaytonaConfig(sandbox.DaytonaConfig{
			APIKey:         cfg.Sandbox.Daytona.APIKey,
			APIURL:         cfg.Sandbox.Daytona.APIURL,
			OrganizationID: cfg.Sandbox.Daytona.OrganizationID,
			Target:         cfg.Sandbox.Daytona.Target,
		}))
	}

	return sandbox.NewExecutor(opts...)
}
