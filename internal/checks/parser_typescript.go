package checks

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// TypeScriptParser parses tsc --noEmit output.
type TypeScriptParser struct{}

// src/auth.ts(42,5): error TS2345: Argument of type...
var tscLineRe = regexp.MustCompile(`^(.+)\((\d+),(\d+)\):\s+error\s+(TS\d+):\s+(.+)$`)

func (p *TypeScriptParser) Parse(source, stdout, stderr string, exitCode int) ParseResult {
	var findings []contract.Finding
	for _, line := range strings.Split(stdout, "\n") {
		m := tscLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		lineNum, _ := strconv.Atoi(m[2])
		findings = append(findings, contract.Finding{
			Source:   source,
			Rule:     m[4],
			Message:  m[5],
			File:     m[1],
			Line:     lineNum,
			Severity: string(contract.SeverityHigh),
		})
	}

	summary := fmt.Sprintf("%d errors", len(findings))
	if exitCode == 0 {
		summary = "no errors"
	}
	return ParseResult{Passed: exitCode == 0, Summary: summary, Findings: findings}
}
