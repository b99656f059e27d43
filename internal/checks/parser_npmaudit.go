package checks

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// NPMAuditParser parses npm audit --json output.
type NPMAuditParser struct{}

type npmAuditOutput struct {
	Metadata struct {
		Vulnerabilities struct {
			Critical int `json:"critical"`
			High     int `json:"high"`
			Moderate int `json:"moderate"`
			Low      int `json:"low"`
			Total    int `json:"total"`
		} `json:"vulnerabilities"`
	} `json:"metadata"`
	Vulnerabilities map[string]npmVulnerability `json:"vulnerabilities"`
}

type npmVulnerability struct {
	Severity string `json:"severity"`
	Title    string `json:"title"`
	URL      string `json:"url"`
}

var npmSeverity = map[string]contract.Severity{
	"critical": contract.SeverityCritical,
	"high":     contract.SeverityHigh,
	"moderate": contract.SeverityMedium,
	"low":      contract.SeverityLow,
	"info":     contract.SeverityInfo,
}

func (p *NPMAuditParser) Parse(source, stdout, stderr string, exitCode int) ParseResult {
	var raw npmAuditOutput
	if err := json.Unmarshal([]byte(stdout), &raw); err != nil {
		return unparsed(source, "npm audit JSON", stdout, stderr, exitCode)
	}

	names := make([]string, 0, len(raw.Vulnerabilities))
	for name := range raw.Vulnerabilities {
		names = append(names, name)
	}
	sort.Strings(names)

	var findings []contract.Finding
	for _, name := range names {
		v := raw.Vulnerabilities[name]
		sev, ok := npmSeverity[v.Severity]
		if !ok {
			sev = contract.SeverityMedium
		}
		msg := v.Title
		if msg == "" {
			msg = fmt.Sprintf("%s vulnerability in %s", v.Severity, name)
		}
		findings = append(findings, contract.Finding{
			Source:   source,
			Rule:     "npm:" + name,
			Message:  msg,
			File:     "package.json",
			Severity: string(sev),
		})
	}

	v := raw.Metadata.Vulnerabilities
	summary := fmt.Sprintf("%d vulnerabilities (%d critical, %d high, %d moderate, %d low)",
		v.Total, v.Critical, v.High, v.Moderate, v.Low)
	if exitCode == 0 {
		summary = "no vulnerabilities found"
	}
	return ParseResult{Passed: exitCode == 0, Summary: summary, Findings: findings}
}
