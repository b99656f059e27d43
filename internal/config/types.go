package config

// Config is the top-level structure parsed from relay.yaml.
type Config struct {
	Pipeline  PipelineSettings `yaml:"pipeline"`
	Retry     RetrySettings    `yaml:"retry"`
	Providers ProviderSettings `yaml:"providers"`
	Worker    WorkerSettings   `yaml:"worker"`
	Gate      GateSettings     `yaml:"gate"`
	Tracker   TrackerSettings  `yaml:"tracker"`
	Store     StoreSettings    `yaml:"store"`
}

// PipelineSettings controls how the orchestrator runs stages.
type PipelineSettings struct {
	Name            string            `yaml:"name"`
	PoolSize        int               `yaml:"pool_size"`
	CallTimeout     string            `yaml:"call_timeout"`
	RunDeadline     string            `yaml:"run_deadline"`
	MaxItemsToFix   int               `yaml:"max_items_to_fix"`
	IncludeCleanup  bool              `yaml:"include_cleanup"`
	IncludeIndexing bool              `yaml:"include_indexing"`
	Roles           map[string]string `yaml:"roles"` // stage id -> worker role
}

// RetrySettings configures the dispatcher's retry policy.
type RetrySettings struct {
	MaxAttempts int     `yaml:"max_attempts"`
	BaseDelay   string  `yaml:"base_delay"`
	MaxDelay    string  `yaml:"max_delay"`
	Multiplier  float64 `yaml:"multiplier"`
}

// ProviderSettings selects how each worker role is reached.
type ProviderSettings struct {
	Default      string                  `yaml:"default"`  // "local" or "remote"
	Endpoint     string                  `yaml:"endpoint"` // default remote endpoint
	JWTSecretEnv string                  `yaml:"jwt_secret_env"`
	Roles        map[string]RoleProvider `yaml:"roles"`
}

// RoleProvider is the provider choice for one role, optionally overridden
// per environment.
type RoleProvider struct {
	Kind         string                  `yaml:"kind"`
	Endpoint     string                  `yaml:"endpoint"`
	Environments map[string]RoleProvider `yaml:"environments"`
}

// WorkerSettings configures the built-in specialists and the worker server.
type WorkerSettings struct {
	Listen        string           `yaml:"listen"`
	Markers       []string         `yaml:"markers"`
	MaxFiles      int              `yaml:"max_files"`
	DefaultChecks []string         `yaml:"default_checks"`
	Checks        map[string]Check `yaml:"checks"`
}

// Check defines a deterministic command the analyzer runs against the target.
type Check struct {
	Command string `yaml:"command"`
	Parser  string `yaml:"parser"`
	Timeout string `yaml:"timeout"`
}

// GateSettings is the safety gate surface. The credential itself is never
// stored in config; CredentialEnv names the variable holding it.
type GateSettings struct {
	Enabled       bool     `yaml:"enabled"`
	Allowlist     []string `yaml:"allowlist"`
	CredentialEnv string   `yaml:"credential_env"`
}

// TrackerSettings configures tracked-item creation.
type TrackerSettings struct {
	Target       string   `yaml:"target"` // owner/repo
	Labels       []string `yaml:"labels"`
	Assignees    []string `yaml:"assignees"`
	Milestone    int      `yaml:"milestone"`
	BodyTemplate string   `yaml:"body_template"`
}

// StoreSettings selects the run store backend.
type StoreSettings struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}
