package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// minSafeConfidence is the confidence a change needs to be marked safe.
const minSafeConfidence = 0.5

// Plan proposes fix steps for one issue. Risk follows severity.
func (s *Specialists) Plan(ctx context.Context, in contract.PlanInput) (contract.PlanOutput, error) {
	is := in.Issue
	if is.ID == "" {
		return contract.PlanOutput{}, fmt.Errorf("plan: issue has no id")
	}

	loc := locator(is)
	var steps []string
	if loc != "" {
		steps = append(steps, "Open "+loc+" and read the surrounding code")
	}
	switch is.Category {
	case "marker":
		steps = append(steps,
			"Resolve the outstanding note: "+firstLine(is.Description),
			"Remove the marker comment once the work is done",
		)
	default:
		steps = append(steps, "Address the reported problem: "+firstLine(is.Description))
	}
	if len(is.FindingIDs) > 1 {
		steps = append(steps, fmt.Sprintf("Apply the same fix to all %d occurrences", len(is.FindingIDs)))
	}
	steps = append(steps, "Re-run the analysis and confirm "+strings.Join(is.FindingIDs, ", ")+" no longer appear")

	return contract.PlanOutput{FixPlan: contract.FixPlan{
		IssueID: is.ID,
		Steps:   steps,
		Risk:    riskFor(is.Severity),
	}}, nil
}

func riskFor(sev contract.Severity) contract.Risk {
	switch sev {
	case contract.SeverityCritical, contract.SeverityHigh:
		return contract.RiskHigh
	case contract.SeverityMedium:
		return contract.RiskMedium
	}
	return contract.RiskLow
}

// Implement turns a plan into a change proposal for the issue's file.
// Issues without a file yield no changes.
func (s *Specialists) Implement(ctx context.Context, in contract.ImplementInput) (contract.ImplementOutput, error) {
	is := in.Issue
	if in.FixPlan.IssueID != "" && in.FixPlan.IssueID != is.ID {
		return contract.ImplementOutput{}, fmt.Errorf("implement: plan is for %s, not %s", in.FixPlan.IssueID, is.ID)
	}
	if is.File == "" {
		return contract.ImplementOutput{CodeChanges: []contract.CodeChange{}}, nil
	}

	confidence := 0.5
	if is.Line > 0 {
		confidence = 0.75
	}
	if in.FixPlan.Risk == contract.RiskHigh {
		confidence -= 0.25
	}

	return contract.ImplementOutput{CodeChanges: []contract.CodeChange{{
		IssueID:    is.ID,
		FilePath:   is.File,
		Diff:       proposalDiff(is, in.FixPlan),
		Confidence: confidence,
	}}}, nil
}

// proposalDiff renders the plan as an annotation hunk at the issue's line.
func proposalDiff(is contract.Issue, plan contract.FixPlan) string {
	line := is.Line
	if line <= 0 {
		line = 1
	}
	var b strings.Builder
	fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", is.File, is.File)
	fmt.Fprintf(&b, "@@ -%d,0 +%d,%d @@\n", line, line, len(plan.Steps)+1)
	fmt.Fprintf(&b, "+// relay %s: %s\n", is.ID, is.Title)
	for i, step := range plan.Steps {
		fmt.Fprintf(&b, "+//   %d. %s\n", i+1, step)
	}
	return b.String()
}

// Verify judges the proposed changes for one issue.
func (s *Specialists) Verify(ctx context.Context, in contract.VerifyInput) (contract.VerifyOutput, error) {
	v := contract.QAVerdict{IssueID: in.Issue.ID}
	if len(in.CodeChanges) == 0 {
		v.Status = contract.QANeedsReview
		v.Notes = "no code changes proposed"
		return contract.VerifyOutput{QAVerdict: v}, nil
	}

	for _, c := range in.CodeChanges {
		switch {
		case c.IssueID != in.Issue.ID:
			v.Status = contract.QAFail
			v.Notes = fmt.Sprintf("change to %s belongs to %s", c.FilePath, c.IssueID)
			return contract.VerifyOutput{QAVerdict: v}, nil
		case strings.TrimSpace(c.Diff) == "":
			v.Status = contract.QAFail
			v.Notes = fmt.Sprintf("change to %s has an empty diff", c.FilePath)
			return contract.VerifyOutput{QAVerdict: v}, nil
		case c.Confidence < minSafeConfidence:
			v.Status = contract.QANeedsReview
			v.Notes = fmt.Sprintf("confidence %.2f for %s is below %.2f", c.Confidence, c.FilePath, minSafeConfidence)
			return contract.VerifyOutput{QAVerdict: v}, nil
		}
	}
	v.Status = contract.QAPass
	v.SafeToApply = true
	v.Notes = fmt.Sprintf("%d change(s) checked", len(in.CodeChanges))
	return contract.VerifyOutput{QAVerdict: v}, nil
}

func locator(is contract.Issue) string {
	if is.File == "" {
		return ""
	}
	if is.Line > 0 {
		return fmt.Sprintf("%s:%d", is.File, is.Line)
	}
	return is.File
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "- ")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if s == "" {
		return "see issue description"
	}
	return s
}
