package config

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/aschepis/backscratcher/llmcore/retry"
)

const sampleYAML = `
default_client: primary
clients:
  primary:
    provider: openai
    retry_policy: quick
    options:
      model: gpt-4o-mini
      api_key: env.OPENAI_API_KEY
      headers:
        X-Team: core
  local:
    provider: ollama
    options:
      model: llama3.2
      options:
        temperature: 0.1
retry_policies:
  quick:
    max_retries: 2
    strategy:
      type: exponential_backoff
      delay_ms: 100
      multiplier: 2
logging:
  pretty: true
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.DefaultClient != "primary" {
		t.Errorf("Expected default client primary, got %s", cfg.DefaultClient)
	}
	if !cfg.Logging.Pretty {
		t.Error("Expected pretty logging")
	}
	if !strings.HasSuffix(cfg.CallLog.Path, filepath.Join(".llmcall", "calls.db")) {
		t.Errorf("Expected default call log path, got %s", cfg.CallLog.Path)
	}

	clients := cfg.ClientConfigs()
	if len(clients) != 2 || clients[0].Name != "local" || clients[1].Name != "primary" {
		t.Fatalf("Expected sorted clients [local primary], got %+v", clients)
	}
	primary := clients[1]
	if primary.Provider != "openai" || primary.RetryPolicy != "quick" {
		t.Errorf("Unexpected primary client: %+v", primary)
	}
	if primary.Options["api_key"] != "env.OPENAI_API_KEY" {
		t.Errorf("Expected raw option expression, got %v", primary.Options["api_key"])
	}
	headers, ok := primary.Options["headers"].(map[string]any)
	if !ok || headers["X-Team"] != "core" {
		t.Errorf("Expected headers object, got %#v", primary.Options["headers"])
	}

	policies := cfg.Policies()
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}
	quick := policies[0]
	if quick.Name != "quick" || quick.MaxRetries != 2 || quick.Strategy.Type != retry.StrategyExponentialBackoff {
		t.Errorf("Unexpected policy: %+v", quick)
	}
	if quick.Strategy.DelayMs != 100 || quick.Strategy.Multiplier != 2 {
		t.Errorf("Unexpected strategy: %+v", quick.Strategy)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing provider",
			yaml:    "clients:\n  a:\n    options:\n      model: x\n",
			wantErr: "provider is required",
		},
		{
			name:    "unknown retry policy",
			yaml:    "clients:\n  a:\n    provider: openai\n    retry_policy: nope\n",
			wantErr: "unknown retry policy",
		},
		{
			name:    "unknown default client",
			yaml:    "default_client: ghost\n",
			wantErr: "default client",
		},
		{
			name:    "malformed yaml",
			yaml:    "clients: [",
			wantErr: "failed to parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Clients) != 0 || cfg.CallLog.Disabled {
		t.Errorf("Unexpected defaults: %+v", cfg)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if err := Save(Example(), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DefaultClient != "openai" || len(cfg.Clients) != 3 {
		t.Errorf("Unexpected loaded config: %+v", cfg)
	}
	policy, ok := cfg.RetryPolicies["default"]
	if !ok || policy.Name != "default" || policy.MaxRetries != 3 {
		t.Errorf("Unexpected default policy: %+v", policy)
	}
}

func TestGetConfigPath_Env(t *testing.T) {
	t.Setenv("LLMCALL_CONFIG", "/tmp/llmcall-test.yaml")
	if got := GetConfigPath(); got != "/tmp/llmcall-test.yaml" {
		t.Errorf("Expected env override, got %s", got)
	}
}

func TestEnviron(t *testing.T) {
	t.Setenv("LLMCALL_TEST_VALUE", "a=b")
	env := Environ()
	if env["LLMCALL_TEST_VALUE"] != "a=b" {
		t.Errorf("Expected value with '=' preserved, got %q", env["LLMCALL_TEST_VALUE"])
	}
}
