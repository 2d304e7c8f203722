package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalYAML = `
models:
  gpt-4:
    backend: openai
    endpoint: https://api.openai.com/v1/chat/completions
    api_key: sk-test
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "c.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8080 {
		t.Errorf("Expected default server config, got %+v", cfg.Server)
	}
	if !cfg.Logging.IsEnabled() || !cfg.Logging.HeadersIncluded() || !cfg.Logging.BodyIncluded() {
		t.Error("Expected logging defaults enabled")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Expected default level info, got %q", cfg.Logging.Level)
	}

	m := cfg.Models["gpt-4"]
	if m.Timeout() != 60*time.Second {
		t.Errorf("Expected default timeout 60s, got %v", m.Timeout())
	}
	if m.Retry.MaxAttempts != 3 || m.Retry.BackoffMs != 1000 || m.Retry.MaxBackoffMs != 10000 {
		t.Errorf("Expected default retry policy, got %+v", m.Retry)
	}
	if !m.SSLVerifyEnabled() {
		t.Error("Expected ssl_verify default true")
	}
	if m.Headers.Mode != HeaderModePassthrough {
		t.Errorf("Expected default header mode passthrough, got %q", m.Headers.Mode)
	}
}

func TestLoadJSON(t *testing.T) {
	content := `{
  "server": {"port": 9090},
  "models": {
    "claude-3": {
      "backend": "anthropic",
      "endpoint": "https://api.anthropic.com/v1/messages",
      "ssl_verify": false
    }
  }
}`
	cfg, err := Load(writeConfig(t, "c.json", content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Models["claude-3"].SSLVerifyEnabled() {
		t.Error("Expected ssl_verify false")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	testCases := []struct {
		name    string
		file    string
		content string
	}{
		{
			name:    "unknown top-level yaml",
			file:    "c.yaml",
			content: minimalYAML + "\nadmin:\n  enabled: true\n",
		},
		{
			name: "unknown nested yaml",
			file: "c.yaml",
			content: `
models:
  gpt-4:
    backend: openai
    endpoint: https://u/e
    pool_size: 4
`,
		},
		{
			name:    "unknown key json",
			file:    "c.json",
			content: `{"models":{"m":{"backend":"openai","endpoint":"https://u/e","extra":1}}}`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.file, tc.content)); err == nil {
				t.Error("Expected strict parsing to reject unknown keys")
			}
		})
	}
}

func TestInterpolation(t *testing.T) {
	t.Setenv("TEST_RELAY_KEY", "sk-from-env")

	content := `
models:
  gpt-4:
    backend: openai
    endpoint: ${TEST_RELAY_ENDPOINT:-https://api.openai.com/v1/chat/completions}
    api_key: ${TEST_RELAY_KEY}
    headers:
      force:
        x-env: ${TEST_RELAY_TAG:-dev}
`
	cfg, err := Load(writeConfig(t, "c.yaml", content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	m := cfg.Models["gpt-4"]
	if m.APIKey != "sk-from-env" {
		t.Errorf("Expected api_key from env, got %q", m.APIKey)
	}
	if m.Endpoint != "https://api.openai.com/v1/chat/completions" {
		t.Errorf("Expected default endpoint, got %q", m.Endpoint)
	}
	if m.Headers.Force["x-env"] != "dev" {
		t.Errorf("Expected default header value, got %q", m.Headers.Force["x-env"])
	}
}

func TestInterpolationUnsetVarFails(t *testing.T) {
	content := `
models:
  gpt-4:
    backend: openai
    endpoint: https://u/e
    api_key: ${DEFINITELY_UNSET_RELAY_VAR}
`
	_, err := Load(writeConfig(t, "c.yaml", content))
	if err == nil {
		t.Fatal("Expected error for unset variable without default")
	}
	if !strings.Contains(err.Error(), "DEFINITELY_UNSET_RELAY_VAR") {
		t.Errorf("Expected error to name the variable, got %v", err)
	}
}

func TestValidation(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{
			name:    "no models",
			content: "server:\n  port: 8080\nmodels: {}\n",
		},
		{
			name: "bad backend",
			content: `
models:
  m:
    backend: bedrock
    endpoint: https://u/e
`,
		},
		{
			name: "relative endpoint",
			content: `
models:
  m:
    backend: openai
    endpoint: /v1/chat/completions
`,
		},
		{
			name: "bad scheme",
			content: `
models:
  m:
    backend: openai
    endpoint: ftp://u/e
`,
		},
		{
			name: "max_backoff below backoff",
			content: `
models:
  m:
    backend: openai
    endpoint: https://u/e
    retry:
      max_attempts: 2
      backoff_ms: 500
      max_backoff_ms: 100
`,
		},
		{
			name: "bad header mode",
			content: `
models:
  m:
    backend: openai
    endpoint: https://u/e
    headers:
      mode: allowlist
`,
		},
		{
			name: "bad regex",
			content: `
models:
  m:
    backend: openai
    endpoint: https://u/e
    transforms:
      request:
        - type: regex
          pattern: '[unclosed'
          replacement: x
`,
		},
		{
			name: "bad jsonpath",
			content: `
models:
  m:
    backend: openai
    endpoint: https://u/e
    transforms:
      request:
        - type: jsonpath_drop
          path: '$.[unclosed'
`,
		},
		{
			name: "unknown transform type",
			content: `
models:
  m:
    backend: openai
    endpoint: https://u/e
    transforms:
      response:
        - type: template
          pattern: x
`,
		},
		{
			name: "foreign field on variant",
			content: `
models:
  m:
    backend: openai
    endpoint: https://u/e
    transforms:
      request:
        - type: jsonpath_drop
          path: $.a
          replacement: x
`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, "c.yaml", tc.content)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestModelNamesAreCaseSensitive(t *testing.T) {
	content := `
models:
  GPT-4:
    backend: openai
    endpoint: https://u/e
  gpt-4:
    backend: ollama
    endpoint: http://localhost:11434/v1/chat/completions
`
	cfg, err := Load(writeConfig(t, "c.yaml", content))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("Expected both model casings preserved, got %d", len(cfg.Models))
	}
	if cfg.Models["GPT-4"].Backend != BackendOpenAI || cfg.Models["gpt-4"].Backend != BackendOllama {
		t.Error("Expected distinct routes per casing")
	}
}
