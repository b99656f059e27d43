package worker

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// maxDescribedFindings bounds how many findings an issue description lists.
const maxDescribedFindings = 5

type findingGroup struct {
	file     string
	rule     string
	source   string
	findings []contract.Finding
}

// Classify groups findings by (file, rule) into issues. Issue ids are
// ISS-001... in (file, first line, rule) order, and each issue takes the
// highest severity of its findings.
func (s *Specialists) Classify(ctx context.Context, in contract.ClassifyInput) (contract.ClassifyOutput, error) {
	groups := make(map[string]*findingGroup)
	for _, f := range in.Findings {
		key := f.File + "\x00" + f.Source + "\x00" + f.Rule
		g, ok := groups[key]
		if !ok {
			g = &findingGroup{file: f.File, rule: f.Rule, source: f.Source}
			groups[key] = g
		}
		g.findings = append(g.findings, f)
	}

	ordered := make([]*findingGroup, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g.findings, func(i, j int) bool {
			if g.findings[i].Line != g.findings[j].Line {
				return g.findings[i].Line < g.findings[j].Line
			}
			return g.findings[i].ID < g.findings[j].ID
		})
		ordered = append(ordered, g)
	}
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.file != b.file {
			return a.file < b.file
		}
		if a.findings[0].Line != b.findings[0].Line {
			return a.findings[0].Line < b.findings[0].Line
		}
		if a.rule != b.rule {
			return a.rule < b.rule
		}
		return a.source < b.source
	})

	issues := make([]contract.Issue, 0, len(ordered))
	for i, g := range ordered {
		issues = append(issues, g.issue(fmt.Sprintf("ISS-%03d", i+1)))
	}
	return contract.ClassifyOutput{Issues: issues}, nil
}

func (g *findingGroup) issue(id string) contract.Issue {
	sev := contract.SeverityInfo
	ids := make([]string, 0, len(g.findings))
	var desc strings.Builder
	for i, f := range g.findings {
		fs := contract.Severity(f.Severity)
		if !fs.Valid() {
			fs = contract.SeverityLow
		}
		if fs.Rank() < sev.Rank() {
			sev = fs
		}
		ids = append(ids, f.ID)
		if i < maxDescribedFindings {
			if f.Line > 0 {
				fmt.Fprintf(&desc, "- line %d: %s\n", f.Line, f.Message)
			} else {
				fmt.Fprintf(&desc, "- %s\n", f.Message)
			}
		}
	}
	if n := len(g.findings) - maxDescribedFindings; n > 0 {
		fmt.Fprintf(&desc, "- ... and %d more\n", n)
	}
	sort.Strings(ids)

	category := g.source
	if g.source == "markers" {
		category = "marker"
	}
	rule := g.rule
	if rule == "" {
		rule = g.source
	}

	title := fmt.Sprintf("%s in %s", strings.ToUpper(rule), path.Base(g.file))
	if g.source != "markers" {
		title = fmt.Sprintf("%s: %s", g.source, rule)
		if g.file != "" {
			title += " in " + path.Base(g.file)
		}
	}
	if len(g.findings) > 1 {
		title += fmt.Sprintf(" (%d occurrences)", len(g.findings))
	}

	return contract.Issue{
		ID:          id,
		Category:    category,
		Severity:    sev,
		Title:       title,
		Description: strings.TrimRight(desc.String(), "\n"),
		File:        g.file,
		Line:        g.findings[0].Line,
		FindingIDs:  ids,
	}
}
