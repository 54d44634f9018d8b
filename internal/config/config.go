// Package config loads the layered settings file that tunes the Turn
// Engine, providers, sandbox, and heartbeat: environment variables take
// precedence over config_dir/config.yaml, which takes precedence over
// hardcoded defaults. Provider API keys can be referenced as ${VAR} and
// are expanded against the process environment at load time.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full set of tunables read from config.yaml / env.
type Config struct {
	Model           string `yaml:"model"`
	APIKey          string `yaml:"api_key"`
	BaseURL         string `yaml:"base_url,omitempty"`
	ContextWindow   int    `yaml:"context_window"`
	ReserveTokens   int    `yaml:"reserve_tokens"`
	SandboxLevel    string `yaml:"sandbox_level"`    // none, minimal, standard, full
	SandboxEnabled  bool   `yaml:"sandbox_enabled"`
	SandboxTimeout  int    `yaml:"sandbox_timeout_secs"`
	MaxOutputBytes  int    `yaml:"max_output_bytes"`
	SuffixEnabled   bool   `yaml:"suffix_enabled"`
	StrictPolicy    bool   `yaml:"strict_policy"` // fail the turn on integrity errors instead of falling back
	HeartbeatEvery  string `yaml:"heartbeat_interval"`
	HeartbeatCron   string `yaml:"heartbeat_cron,omitempty"` // 5-field cron expression; overrides heartbeat_interval when set
	ActiveHoursFrom int    `yaml:"active_hours_from"` // 0-23, inclusive
	ActiveHoursTo   int    `yaml:"active_hours_to"`   // 0-23, inclusive

	EmbeddingProvider string `yaml:"embedding_provider"` // auto, ollama, openai, none
	EmbeddingModel    string `yaml:"embedding_model,omitempty"`
	EmbeddingBaseURL  string `yaml:"embedding_base_url,omitempty"`

	// ApprovalTools lists tool names that require operator approval before
	// each invocation. Without an approver attached (daemon runs headless),
	// listed tools are denied outright.
	ApprovalTools []string `yaml:"approval_tools,omitempty"`

	// SandboxNetworkDomains switches the bash tool's sandbox network field
	// from deny to allow-proxy: non-empty means sandboxed commands reach
	// exactly these domains (supports "*.example.com" wildcards) through a
	// local domain-filtering proxy; empty means no outbound network at all.
	SandboxNetworkDomains []string `yaml:"sandbox_network_domains,omitempty"`
}

// Default returns the hardcoded baseline every layer overrides.
func Default() Config {
	return Config{
		Model:             "claude-sonnet-4-5",
		ContextWindow:     128000,
		ReserveTokens:     4096,
		SandboxLevel:      "standard",
		SandboxEnabled:    true,
		SandboxTimeout:    120,
		MaxOutputBytes:    65536,
		SuffixEnabled:     true,
		StrictPolicy:      false,
		HeartbeatEvery:    "15m",
		ActiveHoursFrom:   0,
		ActiveHoursTo:     23,
		EmbeddingProvider: "auto",
	}
}

// Load reads configDir/config.yaml over the defaults, then applies
// LOCALGPT_* environment overrides, then expands ${VAR} references in
// string fields against the process environment.
func Load(configDir string) (Config, error) {
	cfg := Default()

	path := filepath.Join(configDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg, os.Getenv)

	cfg.Model = os.Expand(cfg.Model, envLookup)
	cfg.APIKey = os.Expand(cfg.APIKey, envLookup)
	cfg.BaseURL = os.Expand(cfg.BaseURL, envLookup)

	return cfg, nil
}

func envLookup(name string) string {
	return os.Getenv(name)
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("LOCALGPT_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := getenv("LOCALGPT_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := getenv("LOCALGPT_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := getenv("LOCALGPT_SANDBOX_LEVEL"); v != "" {
		cfg.SandboxLevel = v
	}
	if v := getenv("LOCALGPT_EMBEDDING_PROVIDER"); v != "" {
		cfg.EmbeddingProvider = v
	}
	if v := getenv("LOCALGPT_SANDBOX_NETWORK_DOMAINS"); v != "" {
		cfg.SandboxNetworkDomains = strings.Split(v, ",")
	}
}

// Save persists cfg to configDir/config.yaml, creating the directory if
// needed. API keys are written as given — callers that want to avoid
// persisting a literal secret should set APIKey to a "${VAR}" reference
// before calling Save.
func Save(configDir string, cfg Config) error {
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0o600)
}
