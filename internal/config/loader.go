package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lucasnoah/relayfactory/internal/retry"
)

// Load reads and parses a configuration from the given YAML file path.
// After parsing, it applies defaults for anything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file is found: every role
// served in-process, gate closed.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./relay.yaml, ~/.relay/config.yaml.
// When none exists it returns Default().
func LoadDefault() (*Config, error) {
	candidates := []string{"relay.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".relay", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// applyDefaults fills in values left unset in the file.
func applyDefaults(cfg *Config) {
	p := &cfg.Pipeline
	if p.Name == "" {
		p.Name = "relay"
	}
	if p.PoolSize <= 0 {
		p.PoolSize = 4
	}
	if p.CallTimeout == "" {
		p.CallTimeout = "2m"
	}
	if p.MaxItemsToFix == 0 {
		p.MaxItemsToFix = 5
	}

	r := &cfg.Retry
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = 2
	}
	if r.BaseDelay == "" {
		r.BaseDelay = "200ms"
	}
	if r.MaxDelay == "" {
		r.MaxDelay = "2s"
	}
	if r.Multiplier == 0 {
		r.Multiplier = 2
	}

	if cfg.Providers.Default == "" {
		cfg.Providers.Default = "local"
	}

	w := &cfg.Worker
	if w.Listen == "" {
		w.Listen = ":8088"
	}
	if len(w.Markers) == 0 {
		w.Markers = []string{"TODO", "FIXME", "HACK", "XXX"}
	}
	if w.MaxFiles <= 0 {
		w.MaxFiles = 2000
	}

	if cfg.Gate.CredentialEnv == "" {
		cfg.Gate.CredentialEnv = "GITHUB_TOKEN"
	}

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
}

// CallTimeout returns the per-call dispatcher timeout.
func (c *Config) CallTimeout() time.Duration {
	return parseDurationOr(c.Pipeline.CallTimeout, 2*time.Minute)
}

// RunDeadline returns the optional per-run deadline; zero means none.
func (c *Config) RunDeadline() time.Duration {
	return parseDurationOr(c.Pipeline.RunDeadline, 0)
}

// RetryPolicy returns the dispatcher retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	def := retry.Default()
	return retry.Policy{
		MaxAttempts: c.Retry.MaxAttempts,
		BaseDelay:   parseDurationOr(c.Retry.BaseDelay, def.BaseDelay),
		MaxDelay:    parseDurationOr(c.Retry.MaxDelay, def.MaxDelay),
		Multiplier:  c.Retry.Multiplier,
	}
}

// RoleFor returns the worker role serving stage, honouring overrides.
func (c *Config) RoleFor(stage string, defaults map[string]string) string {
	if role, ok := c.Pipeline.Roles[stage]; ok && role != "" {
		return role
	}
	return defaults[stage]
}

// Resolve returns the effective provider choice for role in env.
func (p ProviderSettings) Resolve(role, env string) RoleProvider {
	out := RoleProvider{Kind: p.Default, Endpoint: p.Endpoint}
	rp, ok := p.Roles[role]
	if !ok {
		return out
	}
	out = merge(out, rp)
	if envRP, ok := rp.Environments[env]; ok {
		out = merge(out, envRP)
	}
	return out
}

func merge(base, over RoleProvider) RoleProvider {
	if over.Kind != "" {
		base.Kind = over.Kind
	}
	if over.Endpoint != "" {
		base.Endpoint = over.Endpoint
	}
	base.Environments = nil
	return base
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
