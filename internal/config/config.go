package config

import (
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/spyzhov/ajson"
)

// Config is the root configuration tree. It is built once at startup by
// Load and immutable afterwards; every other component holds read-only
// references into it.
type Config struct {
	Server  ServerConfig           `yaml:"server" json:"server"`
	Logging LoggingConfig          `yaml:"logging" json:"logging"`
	Models  map[string]ModelConfig `yaml:"models" json:"models"`
}

// ServerConfig holds the bind address of the inbound HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`
}

// Addr returns the host:port bind address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig controls the request audit log. The enable flags default to
// true, so they are pointers and an unset (nil) flag reads as true.
type LoggingConfig struct {
	Enabled        *bool  `yaml:"enabled" json:"enabled"`
	IncludeHeaders *bool  `yaml:"include_headers" json:"include_headers"`
	IncludeBody    *bool  `yaml:"include_body" json:"include_body"`
	Level          string `yaml:"level" json:"level"`
}

// IsEnabled reports whether audit logging is on.
func (l LoggingConfig) IsEnabled() bool { return l.Enabled == nil || *l.Enabled }

// HeadersIncluded reports whether audit records carry headers.
func (l LoggingConfig) HeadersIncluded() bool { return l.IncludeHeaders == nil || *l.IncludeHeaders }

// BodyIncluded reports whether audit records carry bodies.
func (l LoggingConfig) BodyIncluded() bool { return l.IncludeBody == nil || *l.IncludeBody }

// Backend kinds select upstream dialect conventions: the form of the auth
// header injected upstream. SSE events are forwarded the same way for every
// kind.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
)

// ModelConfig is one route, keyed by the client-visible model name.
type ModelConfig struct {
	Backend     string          `yaml:"backend" json:"backend"`
	Endpoint    string          `yaml:"endpoint" json:"endpoint"`
	APIKey      string          `yaml:"api_key" json:"api_key"`
	TargetModel string          `yaml:"target_model" json:"target_model"`
	TimeoutMs   int64           `yaml:"timeout_ms" json:"timeout_ms"`
	Retry       RetryConfig     `yaml:"retry" json:"retry"`
	SSLVerify   *bool           `yaml:"ssl_verify" json:"ssl_verify"`
	Headers     HeaderPolicy    `yaml:"headers" json:"headers"`
	Transforms  TransformConfig `yaml:"transforms" json:"transforms"`
}

// Timeout returns the per-attempt deadline.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutMs) * time.Millisecond
}

// SSLVerifyEnabled reports whether upstream TLS certificates are validated.
func (m ModelConfig) SSLVerifyEnabled() bool { return m.SSLVerify == nil || *m.SSLVerify }

// RetryConfig bounds the retry executor for one route.
type RetryConfig struct {
	MaxAttempts  int   `yaml:"max_attempts" json:"max_attempts"`
	BackoffMs    int64 `yaml:"backoff_ms" json:"backoff_ms"`
	MaxBackoffMs int64 `yaml:"max_backoff_ms" json:"max_backoff_ms"`
}

// Backoff returns the base backoff delay.
func (r RetryConfig) Backoff() time.Duration { return time.Duration(r.BackoffMs) * time.Millisecond }

// MaxBackoff returns the backoff cap.
func (r RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}

// Header policy modes.
const (
	HeaderModeWhitelist   = "whitelist"
	HeaderModeBlacklist   = "blacklist"
	HeaderModePassthrough = "passthrough"
)

// HeaderPolicy describes how inbound headers become outbound headers.
// Names compare case-insensitively.
type HeaderPolicy struct {
	Mode  string            `yaml:"mode" json:"mode"`
	Force map[string]string `yaml:"force" json:"force"`
	Add   map[string]string `yaml:"add" json:"add"`
	Drop  []string          `yaml:"drop" json:"drop"`
}

// TransformConfig holds the ordered request and response transform lists.
type TransformConfig struct {
	Request  []Transform `yaml:"request" json:"request"`
	Response []Transform `yaml:"response" json:"response"`
}

// Transform types form a closed set.
const (
	TransformRegex        = "regex"
	TransformJSONPathDrop = "jsonpath_drop"
	TransformJSONPathAdd  = "jsonpath_add"
)

// Transform is one tagged variant of the closed transform set. Which fields
// are meaningful depends on Type; validate rejects fields that do not belong
// to the variant.
type Transform struct {
	Type        string `yaml:"type" json:"type"`
	Pattern     string `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Replacement string `yaml:"replacement,omitempty" json:"replacement,omitempty"`
	Path        string `yaml:"path,omitempty" json:"path,omitempty"`
	Value       any    `yaml:"value,omitempty" json:"value,omitempty"`
}

// normalize fills defaults for everything the file left unset.
func (c *Config) normalize() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	for name, m := range c.Models {
		if m.TimeoutMs == 0 {
			m.TimeoutMs = 60_000
		}
		if m.Retry.MaxAttempts == 0 {
			m.Retry.MaxAttempts = 3
		}
		if m.Retry.BackoffMs == 0 {
			m.Retry.BackoffMs = 1_000
		}
		if m.Retry.MaxBackoffMs == 0 {
			m.Retry.MaxBackoffMs = 10_000
		}
		if m.Headers.Mode == "" {
			m.Headers.Mode = HeaderModePassthrough
		}
		c.Models[name] = m
	}
}

// validate checks every route invariant. Load calls it after normalize and
// interpolation, so placeholders are already resolved.
func (c *Config) validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}

	for name, m := range c.Models {
		switch m.Backend {
		case BackendOpenAI, BackendAnthropic, BackendOllama:
		default:
			return fmt.Errorf("model %q: unknown backend %q", name, m.Backend)
		}

		u, err := url.Parse(m.Endpoint)
		if err != nil {
			return fmt.Errorf("model %q: invalid endpoint: %w", name, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("model %q: endpoint must be an absolute http(s) URL, got %q", name, m.Endpoint)
		}

		if m.Retry.MaxAttempts < 1 {
			return fmt.Errorf("model %q: retry max_attempts must be >= 1", name)
		}
		if m.Retry.BackoffMs < 0 {
			return fmt.Errorf("model %q: retry backoff_ms must be >= 0", name)
		}
		if m.Retry.MaxBackoffMs < m.Retry.BackoffMs {
			return fmt.Errorf("model %q: retry max_backoff_ms must be >= backoff_ms", name)
		}

		switch m.Headers.Mode {
		case HeaderModeWhitelist, HeaderModeBlacklist, HeaderModePassthrough:
		default:
			return fmt.Errorf("model %q: unknown header mode %q", name, m.Headers.Mode)
		}

		for i, tr := range m.Transforms.Request {
			if err := tr.validate(); err != nil {
				return fmt.Errorf("model %q: request transform %d: %w", name, i, err)
			}
		}
		for i, tr := range m.Transforms.Response {
			if err := tr.validate(); err != nil {
				return fmt.Errorf("model %q: response transform %d: %w", name, i, err)
			}
		}
	}

	return nil
}

func (t Transform) validate() error {
	switch t.Type {
	case TransformRegex:
		if t.Path != "" || t.Value != nil {
			return fmt.Errorf("regex transform does not take path or value")
		}
		if _, err := regexp.Compile(t.Pattern); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", t.Pattern, err)
		}
	case TransformJSONPathDrop:
		if t.Pattern != "" || t.Replacement != "" || t.Value != nil {
			return fmt.Errorf("jsonpath_drop transform takes only a path")
		}
		if _, err := ajson.ParseJSONPath(t.Path); err != nil {
			return fmt.Errorf("invalid jsonpath %q: %w", t.Path, err)
		}
	case TransformJSONPathAdd:
		if t.Pattern != "" || t.Replacement != "" {
			return fmt.Errorf("jsonpath_add transform takes only path and value")
		}
		if _, err := ajson.ParseJSONPath(t.Path); err != nil {
			return fmt.Errorf("invalid jsonpath %q: %w", t.Path, err)
		}
	default:
		return fmt.Errorf("unknown transform type %q", t.Type)
	}
	return nil
}
