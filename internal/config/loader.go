package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when CONFIG_PATH is not set and no --config flag is
// given.
const DefaultPath = "config/example-config.yaml"

// strictJSON rejects keys the config tree does not declare, matching the
// strictness of the YAML path.
var strictJSON = sonic.Config{DisallowUnknownFields: true}.Froze()

// Load reads, interpolates, normalizes and validates a config file. The
// format is discriminated by file extension: .json is JSON, everything else
// is YAML. Unknown keys at any level are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if filepath.Ext(path) == ".json" {
		if err := strictJSON.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	cfg.normalize()

	if err := cfg.interpolate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// placeholderRe matches ${VAR} and ${VAR:-default}.
var placeholderRe = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// interpolate resolves ${VAR} placeholders on the string leaves that may
// carry secrets or deployment-specific values: endpoint, api_key, and header
// force/add values. Resolution happens exactly once at load; the expanded
// strings are never re-scanned.
func (c *Config) interpolate() error {
	for name, m := range c.Models {
		var err error
		if m.Endpoint, err = expand(m.Endpoint); err != nil {
			return fmt.Errorf("model %q: endpoint: %w", name, err)
		}
		if m.APIKey, err = expand(m.APIKey); err != nil {
			return fmt.Errorf("model %q: api_key: %w", name, err)
		}
		for k, v := range m.Headers.Force {
			if m.Headers.Force[k], err = expand(v); err != nil {
				return fmt.Errorf("model %q: headers.force[%s]: %w", name, k, err)
			}
		}
		for k, v := range m.Headers.Add {
			if m.Headers.Add[k], err = expand(v); err != nil {
				return fmt.Errorf("model %q: headers.add[%s]: %w", name, k, err)
			}
		}
		c.Models[name] = m
	}
	return nil
}

// expand replaces every ${VAR} / ${VAR:-default} placeholder in s. A ${VAR}
// without a default whose variable is unset is an error.
func expand(s string) (string, error) {
	if !strings.Contains(s, "${") {
		return s, nil
	}

	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(s, func(match string) string {
		groups := placeholderRe.FindStringSubmatch(match)
		name, hasDefault, def := groups[1], groups[2] != "", groups[3]

		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		if hasDefault {
			return def
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("environment variable %s is not set", strings.Join(missing, ", "))
	}
	return out, nil
}
