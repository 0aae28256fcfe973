package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/llmcore/llm"
	"github.com/aschepis/backscratcher/llmcore/retry"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// ClientEntry is the configuration of one named client.
type ClientEntry struct {
	Provider    string         `yaml:"provider"`               // "openai", "openai-generic", "anthropic" or "ollama"
	RetryPolicy string         `yaml:"retry_policy,omitempty"` // Name of an entry in retry_policies
	Options     map[string]any `yaml:"options,omitempty"`      // Resolved per call; "env.NAME" reads the environment
}

// LoggingConfig controls where logs go.
type LoggingConfig struct {
	File   string `yaml:"file,omitempty"`   // Log file path (default: stderr)
	Pretty bool   `yaml:"pretty,omitempty"` // Human-readable console output
}

// CallLogConfig controls the persisted call log.
type CallLogConfig struct {
	Disabled bool   `yaml:"disabled,omitempty"`
	Path     string `yaml:"path,omitempty"` // SQLite database path
}

// Config is the llmcall configuration file.
type Config struct {
	DefaultClient string                   `yaml:"default_client,omitempty"`
	Clients       map[string]*ClientEntry  `yaml:"clients,omitempty"`
	RetryPolicies map[string]*retry.Policy `yaml:"retry_policies,omitempty"`
	Logging       LoggingConfig            `yaml:"logging,omitempty"`
	CallLog       CallLogConfig            `yaml:"call_log,omitempty"`
}

// GetConfigPath returns the default config file path.
// Can be overridden via LLMCALL_CONFIG environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("LLMCALL_CONFIG"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.llmcall/config.yaml"
	}
	return filepath.Join(homeDir, ".llmcall", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// Environ returns a snapshot of the process environment, used to resolve
// "env.NAME" option expressions.
func Environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

// Defaults returns the configuration used when no file overrides it.
func Defaults() Config {
	return Config{
		Clients:       make(map[string]*ClientEntry),
		RetryPolicies: make(map[string]*retry.Policy),
		CallLog: CallLogConfig{
			Path: "~/.llmcall/calls.db",
		},
	}
}

// Load loads configuration from path, merged over the defaults.
// Returns defaults if the file doesn't exist.
func Load(path string) (*Config, error) {
	defaults := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err != nil {
		return finalize(&defaults)
	}

	configYAML, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
	}
	return merge(&defaults, configYAML)
}

// Parse parses configuration from YAML, merged over the defaults.
func Parse(configYAML []byte) (*Config, error) {
	defaults := Defaults()
	return merge(&defaults, configYAML)
}

func merge(defaults *Config, configYAML []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(configYAML, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Merge loaded config onto defaults
	if err := mergo.Merge(defaults, config, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	return finalize(defaults)
}

// finalize initializes nil maps, names retry policies after their keys and
// validates cross references.
func finalize(cfg *Config) (*Config, error) {
	if cfg.Clients == nil {
		cfg.Clients = make(map[string]*ClientEntry)
	}
	if cfg.RetryPolicies == nil {
		cfg.RetryPolicies = make(map[string]*retry.Policy)
	}
	for name, policy := range cfg.RetryPolicies {
		if policy == nil {
			return nil, fmt.Errorf("retry policy %s is empty", name)
		}
		policy.Name = name
	}
	cfg.CallLog.Path = expandPath(cfg.CallLog.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every client names a provider and every referenced
// retry policy and default client exists.
func (c *Config) Validate() error {
	for _, name := range c.ClientNames() {
		entry := c.Clients[name]
		if entry == nil || entry.Provider == "" {
			return fmt.Errorf("client %s: provider is required", name)
		}
		if entry.RetryPolicy != "" {
			if _, ok := c.RetryPolicies[entry.RetryPolicy]; !ok {
				return fmt.Errorf("client %s: unknown retry policy %q", name, entry.RetryPolicy)
			}
		}
	}
	if c.DefaultClient != "" {
		if _, ok := c.Clients[c.DefaultClient]; !ok {
			return fmt.Errorf("default client %q is not configured", c.DefaultClient)
		}
	}
	return nil
}

// ClientNames returns the configured client names in sorted order.
func (c *Config) ClientNames() []string {
	names := lo.Keys(c.Clients)
	slices.Sort(names)
	return names
}

// ClientConfigs converts the client entries into llm.ClientConfig values,
// sorted by name.
func (c *Config) ClientConfigs() []llm.ClientConfig {
	return lo.Map(c.ClientNames(), func(name string, _ int) llm.ClientConfig {
		entry := c.Clients[name]
		return llm.ClientConfig{
			Name:        name,
			Provider:    entry.Provider,
			Options:     entry.Options,
			RetryPolicy: entry.RetryPolicy,
		}
	})
}

// Policies returns the configured retry policies, sorted by name.
func (c *Config) Policies() []retry.Policy {
	names := lo.Keys(c.RetryPolicies)
	slices.Sort(names)
	return lo.Map(names, func(name string, _ int) retry.Policy {
		p := *c.RetryPolicies[name]
		p.Name = name
		return p
	})
}

// Save saves the configuration to the specified path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Example returns a starter configuration with one client per provider.
func Example() *Config {
	return &Config{
		DefaultClient: "openai",
		Clients: map[string]*ClientEntry{
			"openai": {
				Provider:    "openai",
				RetryPolicy: "default",
				Options: map[string]any{
					"model":       "gpt-4o-mini",
					"temperature": 0.2,
				},
			},
			"claude": {
				Provider:    "anthropic",
				RetryPolicy: "default",
				Options: map[string]any{
					"model":      "claude-sonnet-4-5",
					"max_tokens": 1024,
				},
			},
			"local": {
				Provider: "ollama",
				Options: map[string]any{
					"model": "llama3.2",
				},
			},
		},
		RetryPolicies: map[string]*retry.Policy{
			"default": {
				MaxRetries: 3,
				Strategy: retry.Strategy{
					Type:       retry.StrategyExponentialBackoff,
					DelayMs:    retry.DefaultDelayMs,
					Multiplier: retry.DefaultMultiplier,
					MaxDelayMs: retry.DefaultMaxDelayMs,
				},
			},
		},
		CallLog: CallLogConfig{Path: "~/.llmcall/calls.db"},
	}
}
