package config

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// recognizedParsers is the set of valid parser names for checks.
var recognizedParsers = map[string]bool{
	"eslint":     true,
	"prettier":   true,
	"typescript": true,
	"vitest":     true,
	"npm-audit":  true,
	"generic":    true,
}

var providerKinds = map[string]bool{
	"local":  true,
	"remote": true,
}

var environments = map[string]bool{
	"dev":     true,
	"staging": true,
	"prod":    true,
}

// Validate checks a Config for structural and semantic errors.
// It returns a slice of all validation errors found (empty if valid).
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	p := cfg.Pipeline
	if p.PoolSize < 1 {
		add("pipeline.pool_size", "must be at least 1")
	}
	if p.MaxItemsToFix < 0 {
		add("pipeline.max_items_to_fix", "must be >= 0")
	}
	checkDuration(&errs, "pipeline.call_timeout", p.CallTimeout)
	checkDuration(&errs, "pipeline.run_deadline", p.RunDeadline)
	for stage, role := range p.Roles {
		if strings.TrimSpace(role) == "" {
			add("pipeline.roles."+stage, "role is empty")
		}
	}

	r := cfg.Retry
	if r.MaxAttempts < 1 {
		add("retry.max_attempts", "must be at least 1")
	}
	if r.Multiplier < 1 {
		add("retry.multiplier", "must be >= 1")
	}
	checkDuration(&errs, "retry.base_delay", r.BaseDelay)
	checkDuration(&errs, "retry.max_delay", r.MaxDelay)

	validateProviders(cfg.Providers, add)

	for name, chk := range cfg.Worker.Checks {
		if chk.Command == "" {
			add(fmt.Sprintf("worker.checks.%s.command", name), "is required")
		}
		if chk.Parser != "" && !recognizedParsers[chk.Parser] {
			add(fmt.Sprintf("worker.checks.%s.parser", name), "unrecognized parser %q", chk.Parser)
		}
		checkDuration(&errs, fmt.Sprintf("worker.checks.%s.timeout", name), chk.Timeout)
	}
	for _, name := range cfg.Worker.DefaultChecks {
		if _, ok := cfg.Worker.Checks[name]; !ok {
			add("worker.default_checks", "references undefined check %q", name)
		}
	}

	for i, entry := range cfg.Gate.Allowlist {
		if strings.TrimSpace(entry) == "" {
			add(fmt.Sprintf("gate.allowlist[%d]", i), "entry is empty")
		}
	}
	if cfg.Gate.Enabled && cfg.Gate.CredentialEnv == "" {
		add("gate.credential_env", "is required when the gate is enabled")
	}

	if t := cfg.Tracker.Target; t != "" {
		parts := strings.Split(t, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			add("tracker.target", "%q must be owner/repo", t)
		}
	}

	switch cfg.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver", "unknown driver %q (want sqlite or postgres)", cfg.Store.Driver)
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		add("store.dsn", "is required for the postgres driver")
	}

	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })
	return errs
}

func validateProviders(ps ProviderSettings, add func(field, format string, args ...any)) {
	if !providerKinds[ps.Default] {
		add("providers.default", "unknown provider kind %q", ps.Default)
	}
	for role, rp := range ps.Roles {
		prefix := "providers.roles." + role
		validateRoleProvider(prefix, rp, ps.Endpoint, add)
		for env, envRP := range rp.Environments {
			if !environments[env] {
				add(prefix+".environments."+env, "unknown environment %q", env)
			}
			validateRoleProvider(prefix+".environments."+env, envRP, ps.Endpoint, add)
		}
	}
	if ps.Default == "remote" && ps.Endpoint == "" {
		add("providers.endpoint", "is required when the default provider is remote")
	}
}

func validateRoleProvider(prefix string, rp RoleProvider, fallbackEndpoint string, add func(field, format string, args ...any)) {
	if rp.Kind != "" && !providerKinds[rp.Kind] {
		add(prefix+".kind", "unknown provider kind %q", rp.Kind)
	}
	if rp.Kind == "remote" && rp.Endpoint == "" && fallbackEndpoint == "" {
		add(prefix+".endpoint", "is required for remote providers")
	}
}

func checkDuration(errs *[]ValidationError, field, value string) {
	if value == "" {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: field, Message: fmt.Sprintf("invalid duration %q", value)})
		return
	}
	if d < 0 {
		*errs = append(*errs, ValidationError{Field: field, Message: "must not be negative"})
	}
}
