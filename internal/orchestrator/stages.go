package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lucasnoah/relayfactory/internal/contract"
	"github.com/lucasnoah/relayfactory/internal/gate"
	"github.com/lucasnoah/relayfactory/internal/prompt"
)

// Skip details recorded on stage reports.
const (
	skipNoInput  = "skipped: no input"
	skipCancel   = "skipped: cancelled"
	skipDeadline = "skipped: deadline exceeded"
	skipAborted  = "skipped: run aborted"
)

// run holds the state of one pipeline execution. Only the coordinating
// goroutine touches res; fan-out workers return values that are merged
// after the join.
type run struct {
	o         *Orchestrator
	ctx       context.Context
	cancelled *atomic.Bool
	id        string
	req       contract.PipelineRequest
	res       *contract.PipelineResult
	deadline  time.Time
	aborted   bool

	selected []contract.Issue
}

func (r *run) execute() {
	r.analyze()
	r.classify()
	r.selectIssues()
	r.plan()
	r.implement()
	r.verify()
	r.document()
	if r.req.IncludeCleanup {
		r.cleanup()
	}
	if r.req.IncludeIndexing {
		r.index()
	}
	r.track()
}

// skipReason reports why a stage that has not started yet must not start.
func (r *run) skipReason() string {
	switch {
	case r.aborted:
		return skipAborted
	case r.cancelled.Load():
		return skipCancel
	case errors.Is(r.ctx.Err(), context.DeadlineExceeded):
		return skipDeadline
	case r.ctx.Err() != nil:
		return skipCancel
	case !r.deadline.IsZero() && !r.o.now().Before(r.deadline):
		return skipDeadline
	}
	return ""
}

// begin returns false, after recording the skip, when stage must not run.
func (r *run) begin(stage string) bool {
	reason := r.skipReason()
	if reason == "" {
		return true
	}
	r.skip(stage, reason)
	if reason != skipAborted {
		r.res.StageErrors = append(r.res.StageErrors, contract.StageError{
			Stage: stage, Kind: contract.KindSkipped, Message: reason,
		})
	}
	return false
}

func (r *run) role(stage string) string {
	return r.o.opts.Roles[stage]
}

func (r *run) skip(stage, detail string) {
	r.report(contract.StageReport{Stage: stage, Role: r.role(stage), Status: contract.StageSkipped, Detail: detail})
}

func (r *run) report(rep contract.StageReport) {
	r.res.StageReports = append(r.res.StageReports, rep)
	switch rep.Status {
	case contract.StageSkipped:
		r.o.logf("stage %s: %s", rep.Stage, rep.Detail)
	case contract.StageOK:
		r.o.logf("stage %s: %d units ok", rep.Stage, rep.Units)
	default:
		r.o.logf("stage %s %s: %d of %d units failed", rep.Stage, rep.Status, rep.Failed, rep.Units)
	}
	r.o.logger.Info("stage finished", "run_id", r.id, "stage", rep.Stage, "role", rep.Role,
		"status", string(rep.Status), "units", rep.Units, "failed", rep.Failed)
}

// fail records err against stage. An AggregationError aborts the run.
func (r *run) fail(stage, issueID string, err error) {
	var agg *contract.AggregationError
	if errors.As(err, &agg) {
		r.abort(err)
		return
	}
	r.res.StageErrors = append(r.res.StageErrors, contract.StageError{
		Stage: stage, Kind: kindOf(err), Message: err.Error(), IssueID: issueID,
	})
}

func (r *run) abort(err error) {
	var agg *contract.AggregationError
	stage := ""
	kind := contract.KindProviderExecution
	if errors.As(err, &agg) {
		stage, kind = agg.Stage, contract.KindAggregation
		r.res.StageErrors = append(r.res.StageErrors, contract.StageError{
			Stage: stage, Kind: kind, Message: agg.Message, IssueID: agg.IssueID,
		})
	}
	r.aborted = true
	r.res.Status = contract.RunAborted
	r.res.AbortReason = err.Error()
	r.o.logf("run %s aborted: %v", r.id, err)
	r.o.logger.Error("run aborted", "run_id", r.id, "stage", stage, "kind", string(kind), "error", err)
}

func kindOf(err error) contract.ErrorKind {
	var (
		ve *contract.ValidationError
		pu *contract.ProviderUnavailableError
		pe *contract.ProviderExecutionError
		ae *contract.AggregationError
	)
	switch {
	case errors.As(err, &ae):
		return contract.KindAggregation
	case errors.As(err, &ve):
		return contract.KindValidation
	case errors.As(err, &pu):
		return contract.KindProviderUnavailable
	case errors.As(err, &pe):
		return contract.KindProviderExecution
	}
	return contract.KindProviderExecution
}

// call sends in to the worker serving stage and decodes its answer into
// out. The returned error is one of the contract error types.
func (r *run) call(stage string, in, out any) error {
	env, err := contract.NewEnvelope(stage, r.role(stage), r.id, in)
	if err != nil {
		return err
	}
	if r.req.SessionID != "" {
		env = env.WithSession(r.req.SessionID)
	}
	res := r.o.dispatcher.Dispatch(r.ctx, env)
	if res.CorrelationID != r.id {
		return &contract.ValidationError{
			Field:   "correlation_id",
			Message: fmt.Sprintf("%s answered for run %q", stage, res.CorrelationID),
		}
	}
	if !res.Success {
		return contract.ResultError(res)
	}
	return res.Decode(out)
}

// single runs a stage that is one call. It returns false when the stage
// failed; the failure has been recorded.
func (r *run) single(stage string, in, out any) bool {
	if err := r.call(stage, in, out); err != nil {
		r.fail(stage, "", err)
		r.report(contract.StageReport{
			Stage: stage, Role: r.role(stage), Status: contract.StageDegraded,
			Units: 1, Failed: 1, Detail: err.Error(),
		})
		return false
	}
	return true
}

func (r *run) analyze() {
	stage := contract.StageAnalyze
	if !r.begin(stage) {
		r.abort(fmt.Errorf("required stage %s did not run: %s", stage, r.res.Report(stage).Detail))
		return
	}
	in := contract.AnalyzeInput{
		TargetHint:      r.req.TargetHint,
		TaskDescription: r.req.TaskDescription,
		Environment:     r.req.Environment,
	}
	var out contract.AnalyzeOutput
	err := r.call(stage, in, &out)
	if err == nil {
		err = validateFindings(out.Findings)
	}
	if err != nil {
		r.res.StageErrors = append(r.res.StageErrors, contract.StageError{
			Stage: stage, Kind: kindOf(err), Message: err.Error(),
		})
		r.report(contract.StageReport{
			Stage: stage, Role: r.role(stage), Status: contract.StageFailed,
			Units: 1, Failed: 1, Detail: err.Error(),
		})
		r.abort(fmt.Errorf("required stage %s failed: %w", stage, err))
		return
	}
	r.res.Findings = append(r.res.Findings, out.Findings...)
	r.report(contract.StageReport{Stage: stage, Role: r.role(stage), Status: contract.StageOK, Units: 1, Detail: fmt.Sprintf("%d findings", len(out.Findings))})
}

func validateFindings(findings []contract.Finding) error {
	seen := make(map[string]bool, len(findings))
	for _, f := range findings {
		if err := f.Validate(); err != nil {
			return err
		}
		if seen[f.ID] {
			return &contract.ValidationError{Field: "finding.id", Message: fmt.Sprintf("duplicate finding %s", f.ID)}
		}
		seen[f.ID] = true
	}
	return nil
}

func (r *run) classify() {
	stage := contract.StageClassify
	if !r.begin(stage) {
		return
	}
	if len(r.res.Findings) == 0 {
		r.skip(stage, skipNoInput)
		return
	}
	var out contract.ClassifyOutput
	in := contract.ClassifyInput{TaskDescription: r.req.TaskDescription, Findings: r.res.Findings}
	if !r.single(stage, in, &out) {
		return
	}

	known := make(map[string]bool, len(r.res.Findings))
	for _, f := range r.res.Findings {
		known[f.ID] = true
	}
	seen := make(map[string]bool, len(out.Issues))
	dropped := 0
	for _, is := range out.Issues {
		if err := is.Validate(); err != nil {
			r.fail(stage, is.ID, err)
			dropped++
			continue
		}
		if seen[is.ID] {
			r.fail(stage, is.ID, &contract.AggregationError{Stage: stage, IssueID: is.ID, Message: "issue id returned twice"})
			break
		}
		seen[is.ID] = true
		for _, fid := range is.FindingIDs {
			if !known[fid] {
				r.fail(stage, is.ID, &contract.AggregationError{Stage: stage, IssueID: is.ID, Message: fmt.Sprintf("references unknown finding %q", fid)})
				break
			}
		}
		if r.aborted {
			break
		}
		r.res.Issues = append(r.res.Issues, is)
	}
	if r.aborted {
		r.report(contract.StageReport{Stage: stage, Role: r.role(stage), Status: contract.StageFailed, Units: 1, Failed: 1, Detail: r.res.AbortReason})
		return
	}
	status := contract.StageOK
	if dropped > 0 {
		status = contract.StageDegraded
	}
	r.report(contract.StageReport{
		Stage: stage, Role: r.role(stage), Status: status, Units: 1,
		Detail: fmt.Sprintf("%d issues, %d rejected", len(r.res.Issues), dropped),
	})
}

// selectIssues picks the issues that proceed to planning: highest
// severity first, then by id, capped by max_items_to_fix.
func (r *run) selectIssues() {
	if r.aborted {
		return
	}
	ranked := append([]contract.Issue(nil), r.res.Issues...)
	sort.SliceStable(ranked, func(i, j int) bool {
		ri, rj := ranked[i].Severity.Rank(), ranked[j].Severity.Rank()
		if ri != rj {
			return ri < rj
		}
		return ranked[i].ID < ranked[j].ID
	})
	if n := r.req.MaxItemsToFix; len(ranked) > n {
		ranked = ranked[:n]
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].ID < ranked[j].ID })
	r.selected = ranked
	if len(r.res.Issues) > 0 {
		r.o.logf("selected %d of %d issues for fixing (max %d)", len(ranked), len(r.res.Issues), r.req.MaxItemsToFix)
	}
}

func (r *run) plan() {
	stage := contract.StagePlan
	if !r.begin(stage) {
		return
	}
	units := make([]unit, 0, len(r.selected))
	for _, is := range r.selected {
		units = append(units, unit{issueID: is.ID, input: contract.PlanInput{Issue: is}})
	}
	if len(units) == 0 {
		r.skip(stage, skipNoInput)
		return
	}
	outcomes := fanOut[contract.PlanOutput](r, stage, units)
	failed := 0
	for _, oc := range outcomes {
		err := oc.err
		if err == nil {
			err = checkUnit(stage, oc.issueID, oc.out.FixPlan.IssueID, oc.out.FixPlan.Validate())
		}
		if err != nil {
			failed++
			r.fail(stage, oc.issueID, err)
			continue
		}
		r.res.FixPlans = append(r.res.FixPlans, oc.out.FixPlan)
	}
	r.reportUnits(stage, len(units), failed)
}

func (r *run) implement() {
	stage := contract.StageImplement
	if !r.begin(stage) {
		return
	}
	plans := make(map[string]contract.FixPlan, len(r.res.FixPlans))
	for _, p := range r.res.FixPlans {
		plans[p.IssueID] = p
	}
	var units []unit
	for _, is := range r.selected {
		if p, ok := plans[is.ID]; ok {
			units = append(units, unit{issueID: is.ID, input: contract.ImplementInput{Issue: is, FixPlan: p}})
		}
	}
	if len(units) == 0 {
		r.skip(stage, skipNoInput)
		return
	}
	outcomes := fanOut[contract.ImplementOutput](r, stage, units)
	failed := 0
	for _, oc := range outcomes {
		err := oc.err
		if err == nil {
			for _, c := range oc.out.CodeChanges {
				if err = checkUnit(stage, oc.issueID, c.IssueID, c.Validate()); err != nil {
					break
				}
			}
		}
		if err != nil {
			failed++
			r.fail(stage, oc.issueID, err)
			continue
		}
		r.res.CodeChanges = append(r.res.CodeChanges, oc.out.CodeChanges...)
	}
	r.reportUnits(stage, len(units), failed)
}

func (r *run) verify() {
	stage := contract.StageVerify
	if !r.begin(stage) {
		return
	}
	changes := changesByIssue(r.res.CodeChanges)
	var units []unit
	for _, is := range r.selected {
		if cs := changes[is.ID]; len(cs) > 0 {
			units = append(units, unit{issueID: is.ID, input: contract.VerifyInput{Issue: is, CodeChanges: cs}})
		}
	}
	if len(units) == 0 {
		r.skip(stage, skipNoInput)
		return
	}
	outcomes := fanOut[contract.VerifyOutput](r, stage, units)
	failed := 0
	for _, oc := range outcomes {
		err := oc.err
		if err == nil {
			err = checkUnit(stage, oc.issueID, oc.out.QAVerdict.IssueID, oc.out.QAVerdict.Validate())
		}
		if err != nil {
			failed++
			r.fail(stage, oc.issueID, err)
			continue
		}
		r.res.QAVerdicts = append(r.res.QAVerdicts, oc.out.QAVerdict)
	}
	r.reportUnits(stage, len(units), failed)
}

// checkUnit validates one fan-out answer. An answer for another issue is a
// contract violation, not a worker failure.
func checkUnit(stage, want, got string, valid error) error {
	if valid != nil {
		return valid
	}
	if got != want {
		return &contract.AggregationError{Stage: stage, IssueID: got, Message: fmt.Sprintf("answered for %q while processing %q", got, want)}
	}
	return nil
}

func (r *run) reportUnits(stage string, units, failed int) {
	if r.aborted {
		r.report(contract.StageReport{Stage: stage, Role: r.role(stage), Status: contract.StageFailed, Units: units, Failed: failed, Detail: r.res.AbortReason})
		return
	}
	rep := contract.StageReport{Stage: stage, Role: r.role(stage), Status: contract.StageOK, Units: units, Failed: failed}
	if failed > 0 {
		rep.Status = contract.StageDegraded
		msgs := make([]string, 0, failed)
		for _, e := range r.res.ErrorsFor(stage) {
			msgs = append(msgs, e.IssueID+": "+e.Message)
		}
		rep.Detail = strings.Join(msgs, "; ")
	}
	r.report(rep)
}

func changesByIssue(changes []contract.CodeChange) map[string][]contract.CodeChange {
	out := make(map[string][]contract.CodeChange)
	for _, c := range changes {
		out[c.IssueID] = append(out[c.IssueID], c)
	}
	return out
}

func (r *run) document() {
	stage := contract.StageDocument
	if !r.begin(stage) {
		return
	}
	if len(r.res.Issues) == 0 {
		r.skip(stage, skipNoInput)
		return
	}
	in := contract.DocumentInput{
		Issues:      r.res.Issues,
		FixPlans:    r.res.FixPlans,
		CodeChanges: r.res.CodeChanges,
		QAVerdicts:  r.res.QAVerdicts,
	}
	var out contract.DocumentOutput
	if !r.single(stage, in, &out) {
		return
	}
	items := make([]referenced, len(out.DocUpdates))
	for i, d := range out.DocUpdates {
		items[i] = referenced{issueID: d.IssueID, valid: d.Validate()}
	}
	keep := r.admit(stage, items)
	for i, d := range out.DocUpdates {
		if keep[i] {
			r.res.DocUpdates = append(r.res.DocUpdates, d)
		}
	}
	r.reportSingle(stage, len(items)-countTrue(keep))
}

func (r *run) cleanup() {
	stage := contract.StageCleanup
	if !r.begin(stage) {
		return
	}
	if len(r.res.Issues) == 0 {
		r.skip(stage, skipNoInput)
		return
	}
	in := contract.CleanupInput{Issues: r.res.Issues, CodeChanges: r.res.CodeChanges}
	var out contract.CleanupOutput
	if !r.single(stage, in, &out) {
		return
	}
	items := make([]referenced, len(out.CleanupTasks))
	for i, c := range out.CleanupTasks {
		items[i] = referenced{issueID: c.IssueID, valid: c.Validate()}
	}
	keep := r.admit(stage, items)
	for i, c := range out.CleanupTasks {
		if keep[i] {
			r.res.CleanupTasks = append(r.res.CleanupTasks, c)
		}
	}
	r.reportSingle(stage, len(items)-countTrue(keep))
}

func (r *run) index() {
	stage := contract.StageIndex
	if !r.begin(stage) {
		return
	}
	if len(r.res.Issues) == 0 && len(r.res.Findings) == 0 {
		r.skip(stage, skipNoInput)
		return
	}
	in := contract.IndexInput{Findings: r.res.Findings, Issues: r.res.Issues, DocUpdates: r.res.DocUpdates}
	var out contract.IndexOutput
	if !r.single(stage, in, &out) {
		return
	}
	items := make([]referenced, len(out.IndexEntries))
	for i, e := range out.IndexEntries {
		items[i] = referenced{issueID: e.IssueID, valid: e.Validate()}
	}
	keep := r.admit(stage, items)
	for i, e := range out.IndexEntries {
		if keep[i] {
			r.res.IndexEntries = append(r.res.IndexEntries, e)
		}
	}
	r.reportSingle(stage, len(items)-countTrue(keep))
}

// referenced is one output item that points at an issue.
type referenced struct {
	issueID string
	valid   error
}

// admit decides which items of a whole-run stage output are merged.
// Structurally invalid items are dropped and recorded; an item naming an
// unknown issue aborts the run.
func (r *run) admit(stage string, items []referenced) []bool {
	known := make(map[string]bool, len(r.res.Issues))
	for _, is := range r.res.Issues {
		known[is.ID] = true
	}
	keep := make([]bool, len(items))
	for i, it := range items {
		if it.valid != nil {
			r.fail(stage, it.issueID, it.valid)
			continue
		}
		if !known[it.issueID] {
			r.fail(stage, it.issueID, &contract.AggregationError{Stage: stage, IssueID: it.issueID, Message: "references an unknown issue"})
			return make([]bool, len(items))
		}
		keep[i] = true
	}
	return keep
}

func (r *run) reportSingle(stage string, rejected int) {
	rep := contract.StageReport{Stage: stage, Role: r.role(stage), Status: contract.StageOK, Units: 1}
	switch {
	case r.aborted:
		rep.Status, rep.Failed, rep.Detail = contract.StageFailed, 1, r.res.AbortReason
	case rejected > 0:
		rep.Status, rep.Detail = contract.StageDegraded, fmt.Sprintf("%d items rejected", rejected)
	}
	r.report(rep)
}

func countTrue(bs []bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}

// track consults the safety gate and, when it allows, files one tracked
// item per issue. Blocks and tracker failures are recorded per item.
func (r *run) track() {
	stage := contract.StageTrack
	if !r.begin(stage) {
		return
	}
	if len(r.res.Issues) == 0 {
		r.skip(stage, skipNoInput)
		return
	}

	cfg := r.o.opts.Gate
	cfg.Mode = r.req.Mode
	target := r.req.TrackerTarget
	decision := gate.Evaluate(gate.ActionCreateIssue, target, cfg)
	r.o.logf("gate %s for %s: allow=%t (%s)", decision.Check, target, decision.Allow, decision.Reason)
	r.o.logger.Info("gate decision", "run_id", r.id, "target", target, "allow", decision.Allow,
		"check", string(decision.Check), "mode", string(decision.Mode))
	if !decision.Allow && decision.Check != gate.CheckMode {
		r.res.StageErrors = append(r.res.StageErrors, contract.StageError{
			Stage: stage, Kind: contract.KindSafetyBlocked, Message: decision.Reason,
		})
	}

	var owner, repo string
	if decision.Allow {
		// Validate already accepted the target; an allow implies one is set.
		owner, repo, _ = contract.SplitTarget(target)
	}

	plans := make(map[string]contract.FixPlan, len(r.res.FixPlans))
	for _, p := range r.res.FixPlans {
		plans[p.IssueID] = p
	}
	verdicts := make(map[string]contract.QAVerdict, len(r.res.QAVerdicts))
	for _, v := range r.res.QAVerdicts {
		verdicts[v.IssueID] = v
	}
	changes := changesByIssue(r.res.CodeChanges)

	created, failed := 0, 0
	for _, is := range r.res.Issues {
		item := contract.TrackedItem{IssueID: is.ID, Allow: decision.Allow, Reason: decision.Reason}
		if decision.BuildPayload {
			ictx := prompt.IssueContext{RunID: r.id, Issue: is, Changes: changes[is.ID]}
			if p, ok := plans[is.ID]; ok {
				ictx.Plan = &p
			}
			if v, ok := verdicts[is.ID]; ok {
				ictx.Verdict = &v
			}
			payload, err := r.o.opts.Renderer.Payload(ictx)
			if err != nil {
				item.Error = err.Error()
				r.res.StageErrors = append(r.res.StageErrors, contract.StageError{
					Stage: stage, Kind: contract.KindValidation, Message: err.Error(), IssueID: is.ID,
				})
				failed++
				r.res.TrackedItems = append(r.res.TrackedItems, item)
				continue
			}
			item.Payload = &payload
		}
		if decision.Allow {
			if err := r.create(owner, repo, &item); err != nil {
				item.Error = err.Error()
				r.res.StageErrors = append(r.res.StageErrors, contract.StageError{
					Stage: stage, Kind: contract.KindTracker, Message: err.Error(), IssueID: is.ID,
				})
				failed++
			} else {
				created++
			}
		}
		r.res.TrackedItems = append(r.res.TrackedItems, item)
	}

	rep := contract.StageReport{Stage: stage, Status: contract.StageOK, Units: len(r.res.Issues), Failed: failed, Detail: decision.Reason}
	if decision.Allow {
		rep.Detail = fmt.Sprintf("%d created on %s", created, target)
	}
	if failed > 0 {
		rep.Status = contract.StageDegraded
	}
	r.report(rep)
}

// create files one item. It refuses to start once the run is cancelled or
// past its deadline.
func (r *run) create(owner, repo string, item *contract.TrackedItem) error {
	if reason := r.skipReason(); reason != "" {
		return errors.New(reason)
	}
	if r.o.opts.Tracker == nil {
		return errors.New("no tracker client configured")
	}
	got, err := r.o.opts.Tracker.Create(r.ctx, owner, repo, *item.Payload)
	if err != nil {
		return fmt.Errorf("create tracked item: %w", err)
	}
	item.Created = true
	item.ID = got.ID
	item.URL = got.URL
	item.Status = got.Status
	return nil
}
