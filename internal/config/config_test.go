package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validConfig = `
pipeline:
  name: payments
  pool_size: 6
  call_timeout: "45s"
  run_deadline: "10m"
  max_items_to_fix: 3
  include_cleanup: true
  roles:
    qa-verify: reviewer
retry:
  max_attempts: 3
  base_delay: "100ms"
providers:
  default: local
  endpoint: "http://workers.internal:8088"
  jwt_secret_env: RELAY_WORKER_SECRET
  roles:
    implementer:
      kind: remote
      environments:
        dev:
          kind: local
    reviewer:
      kind: remote
      endpoint: "http://qa.internal:9000"
worker:
  markers: [TODO, FIXME]
  default_checks: [lint]
  checks:
    lint:
      command: "npx eslint . -f json"
      parser: eslint
      timeout: "2m"
gate:
  enabled: true
  allowlist: ["acme/payments"]
  credential_env: GH_TOKEN
tracker:
  target: acme/payments
  labels: [relay]
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Pipeline.Name != "payments" {
		t.Errorf("Name = %q, want payments", cfg.Pipeline.Name)
	}
	if cfg.Pipeline.PoolSize != 6 {
		t.Errorf("PoolSize = %d, want 6", cfg.Pipeline.PoolSize)
	}
	if cfg.CallTimeout() != 45*time.Second {
		t.Errorf("CallTimeout() = %v, want 45s", cfg.CallTimeout())
	}
	if cfg.RunDeadline() != 10*time.Minute {
		t.Errorf("RunDeadline() = %v, want 10m", cfg.RunDeadline())
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate() = %v, want no errors", errs)
	}
}

func TestDefaultsApplied(t *testing.T) {
	cfg, err := Parse([]byte("pipeline:\n  name: x\n"))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if cfg.Pipeline.PoolSize != 4 {
		t.Errorf("PoolSize = %d, want 4", cfg.Pipeline.PoolSize)
	}
	if cfg.Retry.MaxAttempts != 2 {
		t.Errorf("MaxAttempts = %d, want 2", cfg.Retry.MaxAttempts)
	}
	if p := cfg.RetryPolicy(); p.MaxAttempts != 2 || p.BaseDelay != 200*time.Millisecond || p.MaxDelay != 2*time.Second || p.Multiplier != 2 {
		t.Errorf("RetryPolicy() = %+v", p)
	}
	if cfg.Providers.Default != "local" {
		t.Errorf("Providers.Default = %q, want local", cfg.Providers.Default)
	}
	if cfg.Gate.Enabled {
		t.Error("gate must default to disabled")
	}
	if len(cfg.Gate.Allowlist) != 0 {
		t.Errorf("Allowlist = %v, want empty", cfg.Gate.Allowlist)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("Store.Driver = %q, want sqlite", cfg.Store.Driver)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate(defaults) = %v", errs)
	}
}

func TestRoleFor(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}
	defaults := map[string]string{"qa-verify": "qa", "plan-fix": "planner"}
	if got := cfg.RoleFor("qa-verify", defaults); got != "reviewer" {
		t.Errorf("RoleFor(qa-verify) = %q, want reviewer", got)
	}
	if got := cfg.RoleFor("plan-fix", defaults); got != "planner" {
		t.Errorf("RoleFor(plan-fix) = %q, want planner", got)
	}
}

func TestProviderResolve(t *testing.T) {
	cfg, err := Load(writeTestConfig(t, validConfig))
	if err != nil {
		t.Fatal(err)
	}
	ps := cfg.Providers

	tests := []struct {
		role, env    string
		wantKind     string
		wantEndpoint string
	}{
		{"planner", "prod", "local", "http://workers.internal:8088"},
		{"implementer", "prod", "remote", "http://workers.internal:8088"},
		{"implementer", "dev", "local", "http://workers.internal:8088"},
		{"reviewer", "staging", "remote", "http://qa.internal:9000"},
	}
	for _, tt := range tests {
		got := ps.Resolve(tt.role, tt.env)
		if got.Kind != tt.wantKind || got.Endpoint != tt.wantEndpoint {
			t.Errorf("Resolve(%s, %s) = %s %s, want %s %s", tt.role, tt.env, got.Kind, got.Endpoint, tt.wantKind, tt.wantEndpoint)
		}
	}
}

func TestValidateErrors(t *testing.T) {
	bad := `
pipeline:
  call_timeout: "soon"
providers:
  default: carrier-pigeon
  roles:
    planner:
      kind: remote
      environments:
        moon:
          kind: local
worker:
  default_checks: [missing]
  checks:
    lint:
      command: ""
      parser: pylint
gate:
  allowlist: [""]
tracker:
  target: "justone"
store:
  driver: postgres
`
	cfg, err := Parse([]byte(bad))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	errs := Validate(cfg)

	wantFields := []string{
		"pipeline.call_timeout",
		"providers.default",
		"providers.roles.planner.endpoint",
		"providers.roles.planner.environments.moon",
		"worker.default_checks",
		"worker.checks.lint.command",
		"worker.checks.lint.parser",
		"gate.allowlist[0]",
		"tracker.target",
		"store.dsn",
	}
	got := make(map[string]bool)
	for _, e := range errs {
		got[e.Field] = true
	}
	for _, f := range wantFields {
		if !got[f] {
			t.Errorf("missing validation error for %s; got %v", f, errs)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "reading config file") {
		t.Errorf("Load() error = %v, want reading config file error", err)
	}
}
