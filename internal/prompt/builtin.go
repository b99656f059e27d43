package prompt

// Built-in template names.
const (
	IssueTitleTemplate = "issue-title"
	IssueBodyTemplate  = "issue-body.md"
)

var builtinTemplates = map[string]string{
	IssueTitleTemplate: issueTitleTemplate,
	IssueBodyTemplate:  issueBodyTemplate,
}

const issueTitleTemplate = `[relay] {{issue_id}}: {{issue_title}}`

const issueBodyTemplate = `## {{issue_title}}

**Severity:** {{severity}} | **Category:** {{category}}
{{#if location}}**Location:** ` + "`{{location}}`" + `
{{/if}}
{{issue_description}}
{{#if plan_steps}}
### Proposed fix (risk: {{plan_risk}})
{{plan_steps}}
{{/if}}
{{#if changes}}
### Proposed changes
{{changes}}
{{/if}}
{{#if qa_status}}
### QA verdict
Status: {{qa_status}}, safe to apply: {{qa_safe}}
{{#if qa_notes}}
{{qa_notes}}
{{/if}}
{{/if}}
---
Filed by relay run ` + "`{{run_id}}`" + `{{#if finding_ids}} from findings {{finding_ids}}{{/if}}.
`
