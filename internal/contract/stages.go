package contract

import "fmt"

// Stage names, in pipeline order. Track is the gated side-effect step that
// follows the last worker stage.
const (
	StageAnalyze   = "analyze"
	StageClassify  = "classify-issues"
	StagePlan      = "plan-fix"
	StageImplement = "implement-fix"
	StageVerify    = "qa-verify"
	StageDocument  = "document"
	StageCleanup   = "cleanup"
	StageIndex     = "index"
	StageTrack     = "track"
)

// DefaultRoles maps each worker stage to the specialist that serves it.
var DefaultRoles = map[string]string{
	StageAnalyze:   "analyzer",
	StageClassify:  "classifier",
	StagePlan:      "planner",
	StageImplement: "implementer",
	StageVerify:    "qa",
	StageDocument:  "documenter",
	StageCleanup:   "janitor",
	StageIndex:     "indexer",
}

// Severity ranks an Issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

var severityRank = map[Severity]int{
	SeverityCritical: 0,
	SeverityHigh:     1,
	SeverityMedium:   2,
	SeverityLow:      3,
	SeverityInfo:     4,
}

// Rank orders severities, most severe first. Unknown severities sort last.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return len(severityRank)
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// Risk is the estimated risk of applying a fix plan.
type Risk string

const (
	RiskLow    Risk = "low"
	RiskMedium Risk = "medium"
	RiskHigh   Risk = "high"
)

// QAStatus is the outcome of verification.
type QAStatus string

const (
	QAPass        QAStatus = "pass"
	QAFail        QAStatus = "fail"
	QANeedsReview QAStatus = "needs-review"
)

// Finding is one raw observation produced by the analyze stage.
type Finding struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Rule     string `json:"rule,omitempty"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Severity string `json:"severity,omitempty"`
}

func (f Finding) Validate() error {
	if f.ID == "" {
		return &ValidationError{Field: "finding.id", Message: "is required"}
	}
	if f.Message == "" {
		return &ValidationError{Field: "finding.message", Message: fmt.Sprintf("finding %s has no message", f.ID)}
	}
	return nil
}

// Issue is a classified, actionable problem.
type Issue struct {
	ID          string   `json:"id"`
	Category    string   `json:"category"`
	Severity    Severity `json:"severity"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	File        string   `json:"file,omitempty"`
	Line        int      `json:"line,omitempty"`
	FindingIDs  []string `json:"finding_ids,omitempty"`
}

func (i Issue) Validate() error {
	switch {
	case i.ID == "":
		return &ValidationError{Field: "issue.id", Message: "is required"}
	case i.Title == "":
		return &ValidationError{Field: "issue.title", Message: fmt.Sprintf("issue %s has no title", i.ID)}
	case !i.Severity.Valid():
		return &ValidationError{Field: "issue.severity", Message: fmt.Sprintf("issue %s has unknown severity %q", i.ID, i.Severity)}
	}
	return nil
}

// FixPlan is the ordered plan for fixing one issue.
type FixPlan struct {
	IssueID string   `json:"issue_id"`
	Steps   []string `json:"steps"`
	Risk    Risk     `json:"risk"`
}

func (p FixPlan) Validate() error {
	if p.IssueID == "" {
		return &ValidationError{Field: "fix_plan.issue_id", Message: "is required"}
	}
	if len(p.Steps) == 0 {
		return &ValidationError{Field: "fix_plan.steps", Message: fmt.Sprintf("plan for %s has no steps", p.IssueID)}
	}
	switch p.Risk {
	case RiskLow, RiskMedium, RiskHigh:
		return nil
	}
	return &ValidationError{Field: "fix_plan.risk", Message: fmt.Sprintf("plan for %s has unknown risk %q", p.IssueID, p.Risk)}
}

// CodeChange is a proposed edit to one file.
type CodeChange struct {
	IssueID    string  `json:"issue_id"`
	FilePath   string  `json:"file_path"`
	Diff       string  `json:"diff"`
	Confidence float64 `json:"confidence"`
}

func (c CodeChange) Validate() error {
	if c.IssueID == "" {
		return &ValidationError{Field: "code_change.issue_id", Message: "is required"}
	}
	if c.FilePath == "" {
		return &ValidationError{Field: "code_change.file_path", Message: fmt.Sprintf("change for %s has no file path", c.IssueID)}
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return &ValidationError{Field: "code_change.confidence", Message: fmt.Sprintf("change for %s has confidence %v outside [0,1]", c.IssueID, c.Confidence)}
	}
	return nil
}

// QAVerdict is the verification outcome for one issue's changes.
type QAVerdict struct {
	IssueID     string   `json:"issue_id"`
	Status      QAStatus `json:"status"`
	SafeToApply bool     `json:"safe_to_apply"`
	Notes       string   `json:"notes,omitempty"`
}

func (v QAVerdict) Validate() error {
	if v.IssueID == "" {
		return &ValidationError{Field: "qa_verdict.issue_id", Message: "is required"}
	}
	switch v.Status {
	case QAPass, QAFail, QANeedsReview:
		return nil
	}
	return &ValidationError{Field: "qa_verdict.status", Message: fmt.Sprintf("verdict for %s has unknown status %q", v.IssueID, v.Status)}
}

// DocUpdate is a documentation note for one issue.
type DocUpdate struct {
	IssueID string `json:"issue_id"`
	Path    string `json:"path"`
	Summary string `json:"summary"`
}

func (d DocUpdate) Validate() error {
	if d.IssueID == "" {
		return &ValidationError{Field: "doc_update.issue_id", Message: "is required"}
	}
	return nil
}

// CleanupTask is follow-up housekeeping left behind by a fix.
type CleanupTask struct {
	IssueID     string   `json:"issue_id"`
	Description string   `json:"description"`
	Paths       []string `json:"paths,omitempty"`
}

func (c CleanupTask) Validate() error {
	if c.IssueID == "" {
		return &ValidationError{Field: "cleanup_task.issue_id", Message: "is required"}
	}
	return nil
}

// IndexEntry makes an issue discoverable by search terms.
type IndexEntry struct {
	IssueID string   `json:"issue_id"`
	Key     string   `json:"key"`
	Terms   []string `json:"terms,omitempty"`
}

func (e IndexEntry) Validate() error {
	if e.IssueID == "" {
		return &ValidationError{Field: "index_entry.issue_id", Message: "is required"}
	}
	return nil
}

// Stage inputs and outputs. Each worker receives the Input type of its
// stage as the envelope payload and answers with the Output type.

type AnalyzeInput struct {
	TargetHint      string      `json:"target_hint"`
	TaskDescription string      `json:"task_description"`
	Environment     Environment `json:"environment"`
}

type AnalyzeOutput struct {
	Findings []Finding `json:"findings"`
}

type ClassifyInput struct {
	TaskDescription string    `json:"task_description"`
	Findings        []Finding `json:"findings"`
}

type ClassifyOutput struct {
	Issues []Issue `json:"issues"`
}

type PlanInput struct {
	Issue Issue `json:"issue"`
}

type PlanOutput struct {
	FixPlan FixPlan `json:"fix_plan"`
}

type ImplementInput struct {
	Issue   Issue   `json:"issue"`
	FixPlan FixPlan `json:"fix_plan"`
}

type ImplementOutput struct {
	CodeChanges []CodeChange `json:"code_changes"`
}

type VerifyInput struct {
	Issue       Issue        `json:"issue"`
	CodeChanges []CodeChange `json:"code_changes"`
}

type VerifyOutput struct {
	QAVerdict QAVerdict `json:"qa_verdict"`
}

type DocumentInput struct {
	Issues      []Issue      `json:"issues"`
	FixPlans    []FixPlan    `json:"fix_plans"`
	CodeChanges []CodeChange `json:"code_changes"`
	QAVerdicts  []QAVerdict  `json:"qa_verdicts"`
}

type DocumentOutput struct {
	DocUpdates []DocUpdate `json:"doc_updates"`
}

type CleanupInput struct {
	Issues      []Issue      `json:"issues"`
	CodeChanges []CodeChange `json:"code_changes"`
}

type CleanupOutput struct {
	CleanupTasks []CleanupTask `json:"cleanup_tasks"`
}

type IndexInput struct {
	Findings   []Finding   `json:"findings"`
	Issues     []Issue     `json:"issues"`
	DocUpdates []DocUpdate `json:"doc_updates"`
}

type IndexOutput struct {
	IndexEntries []IndexEntry `json:"index_entries"`
}
