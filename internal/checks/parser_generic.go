package checks

import (
	"fmt"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// GenericParser is the fallback: a failing exit code becomes one finding
// carrying the tail of the output.
type GenericParser struct{}

// maxOutputLen caps how much output a generic finding retains.
const maxOutputLen = 8000

func (p *GenericParser) Parse(source, stdout, stderr string, exitCode int) ParseResult {
	if exitCode == 0 {
		return ParseResult{Passed: true, Summary: "passed (exit code 0)"}
	}
	return ParseResult{
		Summary: fmt.Sprintf("exit code %d, stdout=%d bytes, stderr=%d bytes", exitCode, len(stdout), len(stderr)),
		Findings: []contract.Finding{{
			Source:   source,
			Rule:     "exit-code",
			Message:  outputTail(stdout, stderr, exitCode),
			Severity: string(contract.SeverityMedium),
		}},
	}
}

// outputTail joins stdout and stderr and keeps the end, where error
// summaries usually are.
func outputTail(stdout, stderr string, exitCode int) string {
	combined := stdout
	if stderr != "" {
		if combined != "" {
			combined += "\n"
		}
		combined += stderr
	}
	if combined == "" {
		return fmt.Sprintf("exited with code %d and no output", exitCode)
	}
	if len(combined) > maxOutputLen {
		combined = "...(truncated)\n" + combined[len(combined)-maxOutputLen:]
	}
	return combined
}

// unparsed is returned by structured parsers whose input was not in the
// expected format.
func unparsed(source, format, stdout, stderr string, exitCode int) ParseResult {
	res := ParseResult{
		Passed:  exitCode == 0,
		Summary: fmt.Sprintf("exit code %d (could not parse %s)", exitCode, format),
	}
	if exitCode != 0 {
		res.Findings = []contract.Finding{{
			Source:   source,
			Rule:     "unparsed-output",
			Message:  outputTail(stdout, stderr, exitCode),
			Severity: string(contract.SeverityMedium),
		}}
	}
	return res
}
