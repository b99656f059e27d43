package checks

import (
	"strings"
	"testing"
)

func TestESLintParser(t *testing.T) {
	input := `[{
		"filePath": "src/auth.ts",
		"messages": [
			{"ruleId": "no-unused-vars", "severity": 2, "message": "x is unused", "line": 42, "column": 5},
			{"ruleId": "semi", "severity": 1, "message": "Missing semicolon", "line": 10, "column": 20, "fix": {"range": [100, 100], "text": ";"}}
		]
	}]`
	r := (&ESLintParser{}).Parse("lint", input, "", 1)
	if r.Passed {
		t.Error("expected passed=false")
	}
	if r.Summary != "1 errors, 1 warnings, 1 fixable" {
		t.Errorf("unexpected summary: %q", r.Summary)
	}
	if len(r.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(r.Findings))
	}
	f := r.Findings[0]
	if f.Rule != "no-unused-vars" || f.Severity != "high" || f.Line != 42 || f.File != "src/auth.ts" || f.Source != "lint" {
		t.Errorf("finding = %+v", f)
	}
	if r.Findings[1].Severity != "low" {
		t.Errorf("warning severity = %q", r.Findings[1].Severity)
	}

	clean := (&ESLintParser{}).Parse("lint", `[{"filePath":"src/index.ts","messages":[]}]`, "", 0)
	if !clean.Passed || len(clean.Findings) != 0 {
		t.Errorf("clean = %+v", clean)
	}
}

func TestStructuredParsersInvalidOutput(t *testing.T) {
	parsers := map[string]Parser{
		"eslint":    &ESLintParser{},
		"vitest":    &VitestParser{},
		"npm-audit": &NPMAuditParser{},
	}
	for name, p := range parsers {
		t.Run(name, func(t *testing.T) {
			r := p.Parse(name, "not json", "stack trace", 1)
			if r.Passed {
				t.Error("expected passed=false for exit code 1")
			}
			if !strings.Contains(r.Summary, "could not parse") {
				t.Errorf("summary = %q", r.Summary)
			}
			if len(r.Findings) != 1 || r.Findings[0].Rule != "unparsed-output" {
				t.Errorf("findings = %+v", r.Findings)
			}

			ok := p.Parse(name, "not json", "", 0)
			if !ok.Passed || len(ok.Findings) != 0 {
				t.Errorf("exit 0 with unparsable output = %+v", ok)
			}
		})
	}
}

func TestPrettierParser(t *testing.T) {
	stdout := "Checking formatting...\n[warn] src/auth.ts\n[warn] src/index.ts\n[warn] Code style issues found in the above file(s). Forgot to run Prettier?\n"
	r := (&PrettierParser{}).Parse("fmt", stdout, "", 1)
	if r.Passed || len(r.Findings) != 2 {
		t.Fatalf("r = %+v", r)
	}
	if r.Findings[1].File != "src/index.ts" || r.Findings[1].Rule != "format" {
		t.Errorf("finding = %+v", r.Findings[1])
	}
	if r.Summary != "2 files need formatting" {
		t.Errorf("summary = %q", r.Summary)
	}

	if ok := (&PrettierParser{}).Parse("fmt", "Checking formatting...\nAll matched files use Prettier code style!", "", 0); !ok.Passed || ok.Summary != "all files formatted" {
		t.Errorf("ok = %+v", ok)
	}
}

func TestTypeScriptParser(t *testing.T) {
	stdout := "src/auth.ts(42,5): error TS2345: Argument of type 'string' is not assignable.\nsrc/db.ts(7,1): error TS2304: Cannot find name 'pool'.\nFound 2 errors."
	r := (&TypeScriptParser{}).Parse("tsc", stdout, "", 2)
	if r.Passed || r.Summary != "2 errors" || len(r.Findings) != 2 {
		t.Fatalf("r = %+v", r)
	}
	if r.Findings[0].Rule != "TS2345" || r.Findings[0].Line != 42 || r.Findings[1].File != "src/db.ts" {
		t.Errorf("findings = %+v", r.Findings)
	}
	if ok := (&TypeScriptParser{}).Parse("tsc", "", "", 0); !ok.Passed || ok.Summary != "no errors" {
		t.Errorf("ok = %+v", ok)
	}
}

func TestVitestParser(t *testing.T) {
	stdout := `{
		"numTotalTests": 3, "numPassedTests": 2, "numFailedTests": 1, "numPendingTests": 0,
		"testResults": [{
			"name": "src/auth.test.ts",
			"assertionResults": [
				{"fullName": "auth logs in", "status": "passed"},
				{"fullName": "auth rejects bad password", "status": "failed", "failureMessages": ["expected 401"]}
			]
		}]
	}`
	r := (&VitestParser{}).Parse("test", stdout, "", 1)
	if r.Passed || len(r.Findings) != 1 {
		t.Fatalf("r = %+v", r)
	}
	f := r.Findings[0]
	if f.File != "src/auth.test.ts" || !strings.Contains(f.Message, "expected 401") || f.Rule != "test-failure" {
		t.Errorf("finding = %+v", f)
	}
	if r.Summary != "2 passed, 1 failed, 0 skipped out of 3" {
		t.Errorf("summary = %q", r.Summary)
	}
}

func TestNPMAuditParser(t *testing.T) {
	stdout := `{
		"metadata": {"vulnerabilities": {"critical": 1, "high": 0, "moderate": 1, "low": 0, "total": 2}},
		"vulnerabilities": {
			"lodash": {"severity": "critical", "title": "Prototype pollution"},
			"axios": {"severity": "moderate", "title": ""}
		}
	}`
	r := (&NPMAuditParser{}).Parse("audit", stdout, "", 1)
	if r.Passed || len(r.Findings) != 2 {
		t.Fatalf("r = %+v", r)
	}
	// Sorted by package name.
	if r.Findings[0].Rule != "npm:axios" || r.Findings[0].Severity != "medium" {
		t.Errorf("first = %+v", r.Findings[0])
	}
	if r.Findings[1].Severity != "critical" || r.Findings[1].Message != "Prototype pollution" {
		t.Errorf("second = %+v", r.Findings[1])
	}

	clean := (&NPMAuditParser{}).Parse("audit", `{"metadata":{"vulnerabilities":{"total":0}},"vulnerabilities":{}}`, "", 0)
	if !clean.Passed || clean.Summary != "no vulnerabilities found" {
		t.Errorf("clean = %+v", clean)
	}
}

func TestGenericParser(t *testing.T) {
	if r := (&GenericParser{}).Parse("x", "ok", "", 0); !r.Passed || len(r.Findings) != 0 {
		t.Errorf("pass = %+v", r)
	}

	long := strings.Repeat("a", maxOutputLen+100)
	r := (&GenericParser{}).Parse("x", long, "tail-marker", 3)
	if r.Passed || len(r.Findings) != 1 {
		t.Fatalf("fail = %+v", r)
	}
	msg := r.Findings[0].Message
	if !strings.HasPrefix(msg, "...(truncated)") || !strings.HasSuffix(msg, "tail-marker") {
		t.Errorf("message not truncated to tail: %q...", msg[:40])
	}

	empty := (&GenericParser{}).Parse("x", "", "", 1)
	if empty.Findings[0].Message != "exited with code 1 and no output" {
		t.Errorf("empty = %q", empty.Findings[0].Message)
	}
}
