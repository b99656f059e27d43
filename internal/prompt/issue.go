package prompt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// IssueContext is everything the pipeline knows about one issue when it
// builds a tracked-item payload. Plan, changes and verdict are optional.
type IssueContext struct {
	RunID   string
	Issue   contract.Issue
	Plan    *contract.FixPlan
	Changes []contract.CodeChange
	Verdict *contract.QAVerdict
}

// IssueVars flattens ctx into template variables.
func IssueVars(ctx IssueContext) Vars {
	is := ctx.Issue
	v := Vars{
		"run_id":            ctx.RunID,
		"issue_id":          is.ID,
		"issue_title":       is.Title,
		"issue_description": is.Description,
		"severity":          string(is.Severity),
		"category":          is.Category,
		"finding_ids":       strings.Join(is.FindingIDs, ", "),
		"location":          "",
		"plan_steps":        "",
		"plan_risk":         "",
		"changes":           "",
		"qa_status":         "",
		"qa_safe":           "",
		"qa_notes":          "",
	}
	if is.File != "" {
		v["location"] = is.File
		if is.Line > 0 {
			v["location"] = is.File + ":" + strconv.Itoa(is.Line)
		}
	}
	if ctx.Plan != nil {
		var b strings.Builder
		for i, s := range ctx.Plan.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, s)
		}
		v["plan_steps"] = strings.TrimRight(b.String(), "\n")
		v["plan_risk"] = string(ctx.Plan.Risk)
	}
	if len(ctx.Changes) > 0 {
		var b strings.Builder
		for _, c := range ctx.Changes {
			fmt.Fprintf(&b, "- `%s` (confidence %.2f)\n", c.FilePath, c.Confidence)
		}
		v["changes"] = strings.TrimRight(b.String(), "\n")
	}
	if ctx.Verdict != nil {
		v["qa_status"] = string(ctx.Verdict.Status)
		v["qa_safe"] = strconv.FormatBool(ctx.Verdict.SafeToApply)
		v["qa_notes"] = ctx.Verdict.Notes
	}
	return v
}

// IssueRenderer turns an IssueContext into the payload sent to the tracker.
type IssueRenderer struct {
	title     string
	body      string
	labels    []string
	assignees []string
	milestone int
}

// RendererOptions configures an IssueRenderer.
type RendererOptions struct {
	BodyTemplate string // template path, empty for the built-in
	Workdir      string
	Labels       []string
	Assignees    []string
	Milestone    int
}

// NewIssueRenderer loads the templates named by opts.
func NewIssueRenderer(opts RendererOptions) (*IssueRenderer, error) {
	body, err := LoadTemplate(opts.BodyTemplate, opts.Workdir)
	if err != nil {
		return nil, err
	}
	return &IssueRenderer{
		title:     builtinTemplates[IssueTitleTemplate],
		body:      body,
		labels:    opts.Labels,
		assignees: opts.Assignees,
		milestone: opts.Milestone,
	}, nil
}

// Payload renders the title and body for ctx. Rendering is pure: the same
// context always yields the same payload.
func (r *IssueRenderer) Payload(ctx IssueContext) (contract.IssuePayload, error) {
	vars := IssueVars(ctx)
	title, err := Render(r.title, vars)
	if err != nil {
		return contract.IssuePayload{}, fmt.Errorf("render title for %s: %w", ctx.Issue.ID, err)
	}
	body, err := Render(r.body, vars)
	if err != nil {
		return contract.IssuePayload{}, fmt.Errorf("render body for %s: %w", ctx.Issue.ID, err)
	}
	p := contract.IssuePayload{
		Title:     title,
		Body:      strings.TrimSpace(body) + "\n",
		Labels:    append([]string(nil), r.labels...),
		Assignees: append([]string(nil), r.assignees...),
	}
	if sev := string(ctx.Issue.Severity); sev != "" {
		p.Labels = append(p.Labels, "severity:"+sev)
	}
	if r.milestone > 0 {
		ms := r.milestone
		p.Milestone = &ms
	}
	return p, p.Validate()
}
