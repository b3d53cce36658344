// Package config loads and validates agentforge's configuration surface:
// LLM provider credentials, sandbox/Daytona credentials, orchestrator
// iteration caps, and logging.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure for agentforge.
type Config struct {
	LLM         LLMConfig         `yaml:"llm"`
	Sandbox     SandboxConfig     `yaml:"sandbox"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// SandboxConfig configures the remote code-execution backend.
type SandboxConfig struct {
	Backend  string        `yaml:"backend"`
	Timeout  time.Duration `yaml:"timeout"`
	Daytona  DaytonaConfig `yaml:"daytona"`
}

// DaytonaConfig carries Daytona API credentials. Field names mirror
// internal/sandbox.DaytonaConfig so env var names stay drop-in compatible
// with the teacher's existing deployments.
type DaytonaConfig struct {
	APIKey         string `yaml:"api_key"`
	APIURL         string `yaml:"api_url"`
	OrganizationID string `yaml:"organization_id"`
	Target         string `yaml:"target"`
}

// OrchestratorConfig bounds the Director-Generator-Executor refinement loop.
type OrchestratorConfig struct {
	MaxIterations int    `yaml:"max_iterations"`
	MaxRetries    int    `yaml:"max_retries"`
	Language      string `yaml:"language"`
	AgentsDir     string `yaml:"agents_dir"`
	UtilsDir      string `yaml:"utils_dir"`
	Admission     int    `yaml:"admission"`
}

// LoggingConfig controls the observability.Logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, and strictly decodes the config file at path, then
// applies environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	applyLLMDefaults(&cfg.LLM)
	applySandboxDefaults(&cfg.Sandbox)
	applyOrchestratorDefaults(&cfg.Orchestrator)
	applyLoggingDefaults(&cfg.Logging)
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applySandboxDefaults(cfg *SandboxConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "daytona"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
}

func applyOrchestratorDefaults(cfg *OrchestratorConfig) {
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 3
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Language == "" {
		cfg.Language = "typescript"
	}
	if cfg.AgentsDir == "" {
		cfg.AgentsDir = "agents"
	}
	if cfg.UtilsDir == "" {
		cfg.UtilsDir = "utils"
	}
	if cfg.Admission == 0 {
		cfg.Admission = 10
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

// applyEnvOverrides applies the environment precedence documented in
// SPEC_FULL.md section 6: explicit option argument > environment override >
// coded default. Env vars here are the "coded default vs. environment"
// half of that chain; the "explicit option argument" half is applied by
// callers (e.g. cmd/agentforge) after Load returns.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("AGENTFORGE_LLM_PROVIDER")); value != "" {
		cfg.LLM.DefaultProvider = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTFORGE_ANTHROPIC_API_KEY")); value != "" {
		setProviderAPIKey(cfg, "anthropic", value)
	}
	if value := strings.TrimSpace(os.Getenv("AGENTFORGE_OPENAI_API_KEY")); value != "" {
		setProviderAPIKey(cfg, "openai", value)
	}
	if value := strings.TrimSpace(os.Getenv("AGENTFORGE_MODEL")); value != "" {
		setProviderModel(cfg, cfg.LLM.DefaultProvider, value)
	}
	if value := strings.TrimSpace(os.Getenv("AGENTFORGE_MAX_ITERATIONS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Orchestrator.MaxIterations = parsed
		}
	}

	if value := strings.TrimSpace(os.Getenv("DAYTONA_API_KEY")); value != "" {
		cfg.Sandbox.Daytona.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("DAYTONA_API_URL")); value != "" {
		cfg.Sandbox.Daytona.APIURL = value
	}
	if value := strings.TrimSpace(os.Getenv("DAYTONA_SERVER_URL")); value != "" {
		cfg.Sandbox.Daytona.APIURL = value
	}
	if value := strings.TrimSpace(os.Getenv("DAYTONA_ORGANIZATION_ID")); value != "" {
		cfg.Sandbox.Daytona.OrganizationID = value
	}
	if value := strings.TrimSpace(os.Getenv("DAYTONA_TARGET")); value != "" {
		cfg.Sandbox.Daytona.Target = value
	}
}

func setProviderAPIKey(cfg *Config, provider, key string) {
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	entry := cfg.LLM.Providers[provider]
	entry.APIKey = key
	cfg.LLM.Providers[provider] = entry
}

func setProviderModel(cfg *Config, provider, model string) {
	if provider == "" {
		return
	}
	if cfg.LLM.Providers == nil {
		cfg.LLM.Providers = map[string]LLMProviderConfig{}
	}
	entry := cfg.LLM.Providers[provider]
	entry.DefaultModel = model
	cfg.LLM.Providers[provider] = entry
}

// ConfigValidationError aggregates every validation issue found in one pass.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.LLM.DefaultProvider == "" {
		issues = append(issues, "llm.default_provider must be set")
	}
	if cfg.Orchestrator.MaxIterations < 1 {
		issues = append(issues, "orchestrator.max_iterations must be >= 1")
	}
	if cfg.Orchestrator.MaxRetries < 1 {
		issues = append(issues, "orchestrator.max_retries must be >= 1")
	}
	if cfg.Orchestrator.Admission < 1 {
		issues = append(issues, "orchestrator.admission must be >= 1")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}
