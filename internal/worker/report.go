package worker

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"unicode"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// docDir is where documentation notes are proposed.
const docDir = "docs/relay"

// Document writes one note per planned issue summarizing the plan, the
// proposed changes and the QA outcome.
func (s *Specialists) Document(ctx context.Context, in contract.DocumentInput) (contract.DocumentOutput, error) {
	plans := make(map[string]contract.FixPlan, len(in.FixPlans))
	for _, p := range in.FixPlans {
		plans[p.IssueID] = p
	}
	changes := make(map[string]int)
	for _, c := range in.CodeChanges {
		changes[c.IssueID]++
	}
	verdicts := make(map[string]contract.QAVerdict, len(in.QAVerdicts))
	for _, v := range in.QAVerdicts {
		verdicts[v.IssueID] = v
	}

	updates := []contract.DocUpdate{}
	for _, is := range in.Issues {
		plan, ok := plans[is.ID]
		if !ok {
			continue
		}
		summary := fmt.Sprintf("%s: %d step plan (risk %s), %d change(s)", is.Title, len(plan.Steps), plan.Risk, changes[is.ID])
		if v, ok := verdicts[is.ID]; ok {
			summary += fmt.Sprintf(", QA %s", v.Status)
		}
		updates = append(updates, contract.DocUpdate{
			IssueID: is.ID,
			Path:    path.Join(docDir, strings.ToLower(is.ID)+".md"),
			Summary: summary,
		})
	}
	return contract.DocumentOutput{DocUpdates: updates}, nil
}

// Cleanup lists follow-up housekeeping for issues that received changes:
// annotation hunks to drop and, for markers, the marker itself.
func (s *Specialists) Cleanup(ctx context.Context, in contract.CleanupInput) (contract.CleanupOutput, error) {
	paths := make(map[string][]string)
	for _, c := range in.CodeChanges {
		paths[c.IssueID] = append(paths[c.IssueID], c.FilePath)
	}

	tasks := []contract.CleanupTask{}
	for _, is := range in.Issues {
		ps, ok := paths[is.ID]
		if !ok {
			continue
		}
		sort.Strings(ps)
		desc := fmt.Sprintf("Remove relay annotations for %s once the fix is applied", is.ID)
		if is.Category == "marker" {
			desc = fmt.Sprintf("Delete the resolved marker at %s and the relay annotations for %s", locator(is), is.ID)
		}
		tasks = append(tasks, contract.CleanupTask{IssueID: is.ID, Description: desc, Paths: ps})
	}
	return contract.CleanupOutput{CleanupTasks: tasks}, nil
}

// minTermLen drops short words from index terms.
const minTermLen = 3

// Index builds a keyword entry per issue from its title, category, file
// and the rules of its findings.
func (s *Specialists) Index(ctx context.Context, in contract.IndexInput) (contract.IndexOutput, error) {
	rules := make(map[string]string, len(in.Findings))
	for _, f := range in.Findings {
		rules[f.ID] = f.Rule
	}
	docs := make(map[string]string, len(in.DocUpdates))
	for _, d := range in.DocUpdates {
		docs[d.IssueID] = d.Path
	}

	entries := make([]contract.IndexEntry, 0, len(in.Issues))
	for _, is := range in.Issues {
		terms := make(map[string]bool)
		addTerms(terms, is.Title)
		addTerms(terms, is.Category)
		addTerms(terms, string(is.Severity))
		if is.File != "" {
			addTerms(terms, path.Base(is.File))
		}
		for _, fid := range is.FindingIDs {
			addTerms(terms, rules[fid])
		}
		if p, ok := docs[is.ID]; ok {
			terms[p] = true
		}

		list := make([]string, 0, len(terms))
		for t := range terms {
			list = append(list, t)
		}
		sort.Strings(list)
		entries = append(entries, contract.IndexEntry{
			IssueID: is.ID,
			Key:     strings.ToLower(is.Category) + "/" + strings.ToLower(is.ID),
			Terms:   list,
		})
	}
	return contract.IndexOutput{IndexEntries: entries}, nil
}

func addTerms(terms map[string]bool, text string) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-'
	})
	for _, w := range words {
		w = strings.Trim(w, ".-_")
		if len(w) >= minTermLen {
			terms[w] = true
		}
	}
}
