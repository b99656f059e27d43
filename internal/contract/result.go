package contract

import "fmt"

// RunStatus is the terminal state of a run.
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// StageStatus summarises how one stage ended.
type StageStatus string

const (
	StageOK       StageStatus = "ok"
	StageDegraded StageStatus = "degraded"
	StageSkipped  StageStatus = "skipped"
	StageFailed   StageStatus = "failed"
)

// StageReport is the per-stage annotation on a PipelineResult.
type StageReport struct {
	Stage  string      `json:"stage"`
	Role   string      `json:"role,omitempty"`
	Status StageStatus `json:"status"`
	Units  int         `json:"units"`
	Failed int         `json:"failed,omitempty"`
	Detail string      `json:"detail,omitempty"`
}

// StageError is one recorded failure within a stage.
type StageError struct {
	Stage   string    `json:"stage"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	IssueID string    `json:"issue_id,omitempty"`
}

// IssuePayload is the document sent to the external tracker.
type IssuePayload struct {
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
	Milestone *int     `json:"milestone,omitempty"`
}

func (p IssuePayload) Validate() error {
	if p.Title == "" {
		return &ValidationError{Field: "payload.title", Message: "is required"}
	}
	return nil
}

// CreatedItem is the tracker's answer to a create call.
type CreatedItem struct {
	ID     int    `json:"id"`
	URL    string `json:"url"`
	Status string `json:"status"`
}

func (c CreatedItem) Validate() error {
	if c.ID <= 0 {
		return &ValidationError{Field: "created.id", Message: fmt.Sprintf("must be positive, got %d", c.ID)}
	}
	return nil
}

// TrackedItem records what the track step did for one issue.
type TrackedItem struct {
	IssueID string        `json:"issue_id"`
	Allow   bool          `json:"allow"`
	Reason  string        `json:"reason"`
	Created bool          `json:"created"`
	Payload *IssuePayload `json:"payload,omitempty"`
	ID      int           `json:"id,omitempty"`
	URL     string        `json:"url,omitempty"`
	Status  string        `json:"status,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// PipelineResult is the aggregate outcome of one run.
type PipelineResult struct {
	RunID       string          `json:"run_id"`
	Request     PipelineRequest `json:"request"`
	Status      RunStatus       `json:"status"`
	AbortReason string          `json:"abort_reason,omitempty"`
	StartedAt   string          `json:"started_at"`

	Findings     []Finding     `json:"findings"`
	Issues       []Issue       `json:"issues"`
	FixPlans     []FixPlan     `json:"fix_plans"`
	CodeChanges  []CodeChange  `json:"code_changes"`
	QAVerdicts   []QAVerdict   `json:"qa_verdicts"`
	DocUpdates   []DocUpdate   `json:"doc_updates"`
	CleanupTasks []CleanupTask `json:"cleanup_tasks"`
	IndexEntries []IndexEntry  `json:"index_entries"`
	TrackedItems []TrackedItem `json:"tracked_items"`

	StageReports []StageReport `json:"stage_reports"`
	StageErrors  []StageError  `json:"stage_errors"`

	TotalIssuesFound int     `json:"total_issues_found"`
	IssuesFixed      int     `json:"issues_fixed"`
	IssuesDocumented int     `json:"issues_documented"`
	DurationSeconds  float64 `json:"duration_seconds"`
}

// NewPipelineResult returns an empty result with every list non-nil, so
// the encoded form always carries [] rather than null.
func NewPipelineResult(runID string, req PipelineRequest) *PipelineResult {
	return &PipelineResult{
		RunID:        runID,
		Request:      req,
		Findings:     []Finding{},
		Issues:       []Issue{},
		FixPlans:     []FixPlan{},
		CodeChanges:  []CodeChange{},
		QAVerdicts:   []QAVerdict{},
		DocUpdates:   []DocUpdate{},
		CleanupTasks: []CleanupTask{},
		IndexEntries: []IndexEntry{},
		TrackedItems: []TrackedItem{},
		StageReports: []StageReport{},
		StageErrors:  []StageError{},
	}
}

// Report returns the report for stage, or nil.
func (r *PipelineResult) Report(stage string) *StageReport {
	for i := range r.StageReports {
		if r.StageReports[i].Stage == stage {
			return &r.StageReports[i]
		}
	}
	return nil
}

// ErrorsFor returns the recorded errors for stage.
func (r *PipelineResult) ErrorsFor(stage string) []StageError {
	var out []StageError
	for _, e := range r.StageErrors {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// Recount recomputes the derived counters from the stage lists.
func (r *PipelineResult) Recount() {
	r.TotalIssuesFound = len(r.Issues)

	fixed := make(map[string]bool)
	for _, v := range r.QAVerdicts {
		if v.Status == QAPass && v.SafeToApply {
			fixed[v.IssueID] = true
		}
	}
	documented := make(map[string]bool)
	for _, d := range r.DocUpdates {
		documented[d.IssueID] = true
	}
	r.IssuesFixed = countKnown(fixed, r.Issues)
	r.IssuesDocumented = countKnown(documented, r.Issues)
}

func countKnown(ids map[string]bool, issues []Issue) int {
	n := 0
	for _, is := range issues {
		if ids[is.ID] {
			n++
		}
	}
	return n
}

// CheckIntegrity verifies that every issue_id referenced by a stage list
// exists in Issues. It returns the first violation found.
func (r *PipelineResult) CheckIntegrity() error {
	known := make(map[string]bool, len(r.Issues))
	for _, is := range r.Issues {
		known[is.ID] = true
	}
	check := func(stage, id string) error {
		if !known[id] {
			return &AggregationError{Stage: stage, IssueID: id, Message: "references an unknown issue"}
		}
		return nil
	}
	for _, p := range r.FixPlans {
		if err := check(StagePlan, p.IssueID); err != nil {
			return err
		}
	}
	for _, c := range r.CodeChanges {
		if err := check(StageImplement, c.IssueID); err != nil {
			return err
		}
	}
	for _, v := range r.QAVerdicts {
		if err := check(StageVerify, v.IssueID); err != nil {
			return err
		}
	}
	for _, d := range r.DocUpdates {
		if err := check(StageDocument, d.IssueID); err != nil {
			return err
		}
	}
	for _, c := range r.CleanupTasks {
		if err := check(StageCleanup, c.IssueID); err != nil {
			return err
		}
	}
	for _, e := range r.IndexEntries {
		if err := check(StageIndex, e.IssueID); err != nil {
			return err
		}
	}
	for _, t := range r.TrackedItems {
		if err := check(StageTrack, t.IssueID); err != nil {
			return err
		}
	}
	return nil
}
