package contract

import (
	"fmt"
	"strings"
)

// Environment is the deployment tier a run targets.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// ParseEnvironment accepts the canonical names plus the usual long forms.
func ParseEnvironment(s string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dev", "development", "":
		return EnvDev, nil
	case "staging", "stage":
		return EnvStaging, nil
	case "prod", "production":
		return EnvProd, nil
	}
	return "", &ValidationError{Field: "environment", Message: fmt.Sprintf("unknown environment %q (want dev, staging or prod)", s)}
}

// Mode is the operating mode for side-effecting actions.
type Mode string

const (
	ModePreview Mode = "preview"
	ModeDryRun  Mode = "dry-run"
	ModeCreate  Mode = "create"
)

// ParseMode parses a mode name; empty means preview.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "preview":
		return ModePreview, nil
	case "dry-run", "dryrun", "dry_run":
		return ModeDryRun, nil
	case "create":
		return ModeCreate, nil
	}
	return "", &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q (want preview, dry-run or create)", s)}
}

// PipelineRequest is the caller's description of one run.
type PipelineRequest struct {
	TargetHint      string      `json:"target_hint"`
	TaskDescription string      `json:"task_description"`
	Environment     Environment `json:"environment"`
	MaxItemsToFix   int         `json:"max_items_to_fix"`
	IncludeCleanup  bool        `json:"include_cleanup"`
	IncludeIndexing bool        `json:"include_indexing"`
	Mode            Mode        `json:"mode"`
	TrackerTarget   string      `json:"tracker_target,omitempty"`
	SessionID       string      `json:"session_id,omitempty"`
}

// Validate rejects requests a caller should never construct.
func (r PipelineRequest) Validate() error {
	if strings.TrimSpace(r.TargetHint) == "" {
		return &ValidationError{Field: "target_hint", Message: "is required"}
	}
	switch r.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return &ValidationError{Field: "environment", Message: fmt.Sprintf("unknown environment %q", r.Environment)}
	}
	if r.MaxItemsToFix < 0 {
		return &ValidationError{Field: "max_items_to_fix", Message: "must be >= 0"}
	}
	switch r.Mode {
	case ModePreview, ModeDryRun, ModeCreate:
	default:
		return &ValidationError{Field: "mode", Message: fmt.Sprintf("unknown mode %q", r.Mode)}
	}
	if r.TrackerTarget != "" {
		if _, _, err := SplitTarget(r.TrackerTarget); err != nil {
			return err
		}
	}
	return nil
}

// SplitTarget splits an "owner/repo" tracker target.
func SplitTarget(target string) (owner, repo string, err error) {
	parts := strings.Split(strings.TrimSpace(target), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &ValidationError{Field: "tracker_target", Message: fmt.Sprintf("%q must be owner/repo", target)}
	}
	return parts[0], parts[1], nil
}
