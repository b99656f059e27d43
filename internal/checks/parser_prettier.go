package checks

import (
	"fmt"
	"strings"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// PrettierParser parses prettier --check output, which lists one
// "[warn] <file>" line per unformatted file followed by a summary line.
type PrettierParser struct{}

func (p *PrettierParser) Parse(source, stdout, stderr string, exitCode int) ParseResult {
	var findings []contract.Finding
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		file, ok := strings.CutPrefix(line, "[warn] ")
		if !ok || strings.Contains(file, "Code style issues") || strings.Contains(file, "Forgot to run") {
			continue
		}
		findings = append(findings, contract.Finding{
			Source:   source,
			Rule:     "format",
			Message:  "file is not formatted",
			File:     file,
			Severity: string(contract.SeverityInfo),
		})
	}

	summary := fmt.Sprintf("%d files need formatting", len(findings))
	if exitCode == 0 {
		summary = "all files formatted"
	}
	return ParseResult{Passed: exitCode == 0, Summary: summary, Findings: findings}
}
