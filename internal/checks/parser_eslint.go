package checks

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// ESLintParser parses ESLint JSON output (--format json).
type ESLintParser struct{}

type eslintFile struct {
	FilePath string          `json:"filePath"`
	Messages []eslintMessage `json:"messages"`
}

type eslintMessage struct {
	RuleID   string    `json:"ruleId"`
	Severity int       `json:"severity"` // 1=warning, 2=error
	Message  string    `json:"message"`
	Line     int       `json:"line"`
	Fix      *struct{} `json:"fix"`
}

func (p *ESLintParser) Parse(source, stdout, stderr string, exitCode int) ParseResult {
	var files []eslintFile
	if err := json.Unmarshal([]byte(stdout), &files); err != nil {
		return unparsed(source, "ESLint JSON", stdout, stderr, exitCode)
	}

	var errs, warns, fixable int
	var findings []contract.Finding
	for _, f := range files {
		for _, m := range f.Messages {
			sev := contract.SeverityLow
			if m.Severity == 2 {
				sev = contract.SeverityHigh
				errs++
			} else {
				warns++
			}
			if m.Fix != nil {
				fixable++
			}
			rule := m.RuleID
			if rule == "" {
				rule = "eslint"
			}
			findings = append(findings, contract.Finding{
				Source:   source,
				Rule:     rule,
				Message:  m.Message,
				File:     f.FilePath,
				Line:     m.Line,
				Severity: string(sev),
			})
		}
	}

	return ParseResult{
		Passed:   errs == 0,
		Summary:  fmt.Sprintf("%d errors, %d warnings, %d fixable", errs, warns, fixable),
		Findings: findings,
	}
}
