package worker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// maxScanBytes skips files too large to be hand-written source.
const maxScanBytes = 1 << 20

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"dist":         true,
	"build":        true,
}

var errFileLimit = errors.New("file limit reached")

// Analyze scans the target directory for markers and runs the configured
// checks there. Findings are numbered F-001... in (file, line, source,
// rule, message) order.
func (s *Specialists) Analyze(ctx context.Context, in contract.AnalyzeInput) (contract.AnalyzeOutput, error) {
	root := in.TargetHint
	info, err := os.Stat(root)
	if err != nil {
		return contract.AnalyzeOutput{}, fmt.Errorf("target %q not found", root)
	}
	if !info.IsDir() {
		return contract.AnalyzeOutput{}, fmt.Errorf("target %q is not a directory", root)
	}

	findings, err := s.scanMarkers(ctx, root)
	if err != nil {
		return contract.AnalyzeOutput{}, err
	}

	if s.runner != nil && len(s.checks) > 0 {
		suite, err := s.runner.RunSuite(ctx, root, s.checks)
		if err != nil {
			return contract.AnalyzeOutput{}, err
		}
		for _, res := range suite.Results {
			findings = append(findings, res.Findings...)
		}
		names := make([]string, 0, len(suite.Failed))
		for name := range suite.Failed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			findings = append(findings, contract.Finding{
				Source:   name,
				Rule:     "check-error",
				Message:  suite.Failed[name],
				Severity: string(contract.SeverityInfo),
			})
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Message < b.Message
	})
	for i := range findings {
		findings[i].ID = fmt.Sprintf("F-%03d", i+1)
	}
	if findings == nil {
		findings = []contract.Finding{}
	}
	return contract.AnalyzeOutput{Findings: findings}, nil
}

func (s *Specialists) markerPattern() *regexp.Regexp {
	if len(s.markers) == 0 {
		return nil
	}
	quoted := make([]string, len(s.markers))
	for i, m := range s.markers {
		quoted[i] = regexp.QuoteMeta(m)
	}
	return regexp.MustCompile(`\b(` + strings.Join(quoted, "|") + `)\b(?:\([^)]*\))?:?\s*(.*)$`)
}

func markerSeverity(marker string) contract.Severity {
	switch strings.ToUpper(marker) {
	case "FIXME", "XXX", "BUG", "HACK":
		return contract.SeverityMedium
	}
	return contract.SeverityLow
}

func (s *Specialists) scanMarkers(ctx context.Context, root string) ([]contract.Finding, error) {
	re := s.markerPattern()
	if re == nil {
		return nil, nil
	}

	var findings []contract.Finding
	files := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && (skipDirs[d.Name()] || strings.HasPrefix(d.Name(), ".")) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if s.maxFiles > 0 && files >= s.maxFiles {
			return errFileLimit
		}
		files++

		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}
		found, err := scanFile(path, filepath.ToSlash(rel), re)
		if err != nil {
			return nil
		}
		findings = append(findings, found...)
		return nil
	})
	if err != nil && !errors.Is(err, errFileLimit) {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return findings, nil
}

func scanFile(path, rel string, re *regexp.Regexp) ([]contract.Finding, error) {
	info, err := os.Stat(path)
	if err != nil || info.Size() > maxScanBytes {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return nil, nil
	}

	var out []contract.Finding
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxScanBytes)
	line := 0
	for sc.Scan() {
		line++
		m := re.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		msg := strings.TrimSpace(m[2])
		if msg == "" {
			msg = m[1] + " marker"
		}
		out = append(out, contract.Finding{
			Source:   "markers",
			Rule:     strings.ToLower(m[1]),
			Message:  msg,
			File:     rel,
			Line:     line,
			Severity: string(markerSeverity(m[1])),
		})
	}
	return out, nil
}
