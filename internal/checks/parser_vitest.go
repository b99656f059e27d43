package checks

import (
	"encoding/json"
	"fmt"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// VitestParser parses vitest/jest JSON reporter output.
type VitestParser struct{}

type vitestOutput struct {
	NumTotalTests   int                 `json:"numTotalTests"`
	NumPassedTests  int                 `json:"numPassedTests"`
	NumFailedTests  int                 `json:"numFailedTests"`
	NumPendingTests int                 `json:"numPendingTests"`
	TestResults     []vitestSuiteResult `json:"testResults"`
}

type vitestSuiteResult struct {
	Name             string                  `json:"name"`
	AssertionResults []vitestAssertionResult `json:"assertionResults"`
}

type vitestAssertionResult struct {
	FullName        string   `json:"fullName"`
	Status          string   `json:"status"`
	FailureMessages []string `json:"failureMessages"`
}

func (p *VitestParser) Parse(source, stdout, stderr string, exitCode int) ParseResult {
	var raw vitestOutput
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return unparsed(source, "test JSON", stdout, stderr, exitCode)
	}

	var findings []contract.Finding
	for _, suite := range raw.TestResults {
		for _, a := range suite.AssertionResults {
			if a.Status != "failed" {
				continue
			}
			msg := a.FullName
			if len(a.FailureMessages) > 0 {
				msg = a.FullName + ": " + a.FailureMessages[0]
			}
			findings = append(findings, contract.Finding{
				Source:   source,
				Rule:     "test-failure",
				Message:  msg,
				File:     suite.Name,
				Severity: string(contract.SeverityHigh),
			})
		}
	}

	return ParseResult{
		Passed: exitCode == 0 && raw.NumFailedTests == 0,
		Summary: fmt.Sprintf("%d passed, %d failed, %d skipped out of %d",
			raw.NumPassedTests, raw.NumFailedTests, raw.NumPendingTests, raw.NumTotalTests),
		Findings: findings,
	}
}
