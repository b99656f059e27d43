// Package checks runs external analysis tools (linters, type checkers, test
// runners, auditors) and normalizes their output into findings.
package checks

import "github.com/lucasnoah/relayfactory/internal/contract"

// ParseResult is the normalized output of one tool run. Findings carry no
// ids; the analyzer numbers them once all sources are merged.
type ParseResult struct {
	Passed   bool               `json:"passed"`
	Summary  string             `json:"summary"`
	Findings []contract.Finding `json:"findings"`
}

// Parser converts raw command output into a ParseResult. source is the
// check name and becomes each finding's Source.
type Parser interface {
	Parse(source, stdout, stderr string, exitCode int) ParseResult
}

// Parsers returns the built-in parsers by config name.
func Parsers() map[string]Parser {
	return map[string]Parser{
		"eslint":     &ESLintParser{},
		"prettier":   &PrettierParser{},
		"typescript": &TypeScriptParser{},
		"vitest":     &VitestParser{},
		"npm-audit":  &NPMAuditParser{},
		"generic":    &GenericParser{},
	}
}
