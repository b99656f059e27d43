package checks

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// Result is the outcome of one check run.
type Result struct {
	CheckName  string             `json:"check_name"`
	Passed     bool               `json:"passed"`
	ExitCode   int                `json:"exit_code"`
	DurationMs int                `json:"duration_ms"`
	Summary    string             `json:"summary"`
	Findings   []contract.Finding `json:"findings"`
}

// CheckConfig holds what the runner needs to execute one check.
type CheckConfig struct {
	Name    string
	Command string
	Parser  string
	Timeout time.Duration
}

// CommandRunner abstracts command execution for testability.
type CommandRunner interface {
	Run(ctx context.Context, dir string, command string) (stdout string, stderr string, exitCode int, err error)
}

// ExecRunner implements CommandRunner by shelling out.
type ExecRunner struct{}

func (e *ExecRunner) Run(ctx context.Context, dir string, command string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir

	var stdoutBuf, stderrBuf strings.Builder
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return stdoutBuf.String(), stderrBuf.String(), -1, fmt.Errorf("exec: %w", err)
		}
		exitCode = exitErr.ExitCode()
	}
	return stdoutBuf.String(), stderrBuf.String(), exitCode, nil
}

// Runner executes checks and parses their output.
type Runner struct {
	cmd     CommandRunner
	parsers map[string]Parser
}

// NewRunner creates a Runner with the built-in parsers.
func NewRunner(cmd CommandRunner) *Runner {
	return &Runner{cmd: cmd, parsers: Parsers()}
}

// Run executes a single check in dir. A check that exceeds its timeout is
// reported as a failed result with a timeout finding, not as an error.
func (r *Runner) Run(ctx context.Context, dir string, cfg CheckConfig) (*Result, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	stdout, stderr, exitCode, err := r.cmd.Run(ctx, dir, cfg.Command)
	durationMs := int(time.Since(start).Milliseconds())

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &Result{
			CheckName:  cfg.Name,
			ExitCode:   -1,
			DurationMs: durationMs,
			Summary:    fmt.Sprintf("timeout after %s", timeout),
			Findings: []contract.Finding{{
				Source:   cfg.Name,
				Rule:     "timeout",
				Message:  fmt.Sprintf("check %s did not finish within %s", cfg.Name, timeout),
				Severity: string(contract.SeverityMedium),
			}},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("run check %q: %w", cfg.Name, err)
	}

	parser, ok := r.parsers[cfg.Parser]
	if !ok {
		parser = r.parsers["generic"]
	}
	parsed := parser.Parse(cfg.Name, stdout, stderr, exitCode)

	findings := parsed.Findings
	if findings == nil {
		findings = []contract.Finding{}
	}
	return &Result{
		CheckName:  cfg.Name,
		Passed:     exitCode == 0 && parsed.Passed,
		ExitCode:   exitCode,
		DurationMs: durationMs,
		Summary:    parsed.Summary,
		Findings:   findings,
	}, nil
}
