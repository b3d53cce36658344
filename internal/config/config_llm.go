package config

// LLMConfig selects and configures the LLM provider(s) the Director and
// Generator use (internal/llm.LLMProvider implementations).
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig carries the credentials and defaults for one provider,
// keyed by provider name ("anthropic", "openai") in LLMConfig.Providers.
type LLMProviderConfig struct {
	APIKey       string                              `yaml:"api_key"`
	DefaultModel string                              `yaml:"default_model"`
	BaseURL      string                              `yaml:"base_url"`
	APIVersion   string                              `yaml:"api_version"`
	Profiles     map[string]LLMProviderProfileConfig `yaml:"profiles"`
}

// LLMProviderProfileConfig overrides provider defaults for a named profile,
// e.g. a distinct API key for a specific session or workload.
type LLMProviderProfileConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	APIVersion   string `yaml:"api_version"`
}
