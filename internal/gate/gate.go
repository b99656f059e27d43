// Package gate decides whether an externally visible write may proceed.
//
// Evaluate is a pure function of its arguments. Configuration, including the
// credential value, is resolved once by the caller and passed in, so the
// same inputs always produce the same decision.
package gate

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// Action names a class of side effect.
type Action string

// ActionCreateIssue files a tracked item in the external tracker.
const ActionCreateIssue Action = "create-issue"

// Wildcard in an allowlist admits every target.
const Wildcard = "*"

// Check identifies which check produced a decision.
type Check string

const (
	CheckEnabled    Check = "enabled"
	CheckAllowlist  Check = "allowlist"
	CheckCredential Check = "credential"
	CheckMode       Check = "mode"
)

// Config is the resolved gate configuration. The zero value blocks
// everything.
type Config struct {
	Enabled        bool
	Allowlist      []string
	CredentialName string
	Credential     string
	Mode           contract.Mode
}

// Decision is the outcome of Evaluate. A block is a normal outcome, not an
// error.
type Decision struct {
	Allow  bool          `json:"allow"`
	Reason string        `json:"reason"`
	Check  Check         `json:"check"`
	Mode   contract.Mode `json:"mode"`
	// BuildPayload reports whether the caller may construct the payload it
	// would send. True for dry-run and create.
	BuildPayload bool `json:"build_payload"`
}

// Evaluate runs the checks in order and stops at the first failure:
// feature enabled, target allowlisted, credential present, mode.
func Evaluate(action Action, target string, cfg Config) Decision {
	mode := cfg.Mode
	if mode == "" {
		mode = contract.ModePreview
	}
	d := Decision{Mode: mode, BuildPayload: mode == contract.ModeDryRun || mode == contract.ModeCreate}

	if !cfg.Enabled {
		d.Check = CheckEnabled
		d.Reason = fmt.Sprintf("%s is disabled by default: set gate.enabled to true", action)
		return d
	}
	if !allowlisted(target, cfg.Allowlist) {
		d.Check = CheckAllowlist
		if strings.TrimSpace(target) == "" {
			d.Reason = "no target given: set tracker.target or pass --tracker owner/repo"
		} else {
			d.Reason = fmt.Sprintf("target %q is not allowlisted: add it (or %q) to gate.allowlist", target, Wildcard)
		}
		return d
	}
	if cfg.Credential == "" {
		d.Check = CheckCredential
		name := cfg.CredentialName
		if name == "" {
			name = "gate.credential_env"
		}
		d.Reason = fmt.Sprintf("credential %s is not set: export it before running with --mode create", name)
		return d
	}

	d.Check = CheckMode
	switch mode {
	case contract.ModePreview:
		d.Reason = "preview mode: no payload built, rerun with --mode dry-run or --mode create"
	case contract.ModeDryRun:
		d.Reason = "dry-run mode: payload built, no external call made"
	case contract.ModeCreate:
		d.Allow = true
		d.Reason = fmt.Sprintf("%s allowed for %s", action, target)
	default:
		d.BuildPayload = false
		d.Reason = fmt.Sprintf("unknown mode %q: use preview, dry-run or create", mode)
	}
	return d
}

func allowlisted(target string, allowlist []string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	for _, entry := range allowlist {
		entry = strings.TrimSpace(entry)
		if entry == Wildcard || strings.EqualFold(entry, target) {
			return true
		}
	}
	return false
}
