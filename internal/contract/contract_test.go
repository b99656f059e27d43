package contract

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewEnvelope(t *testing.T) {
	env, err := NewEnvelope(StagePlan, "planner", "run-1", PlanInput{Issue: Issue{ID: "ISS-001"}})
	if err != nil {
		t.Fatalf("NewEnvelope() error: %v", err)
	}
	if env.CorrelationID != "run-1" {
		t.Errorf("CorrelationID = %q, want run-1", env.CorrelationID)
	}
	var in PlanInput
	if err := env.DecodePayload(&in); err != nil {
		t.Fatalf("DecodePayload() error: %v", err)
	}
	if in.Issue.ID != "ISS-001" {
		t.Errorf("Issue.ID = %q, want ISS-001", in.Issue.ID)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	base := TaskEnvelope{TaskType: "analyze", TargetRole: "analyzer", CorrelationID: "c", Payload: json.RawMessage(`{}`)}
	tests := []struct {
		name  string
		mut   func(*TaskEnvelope)
		field string
	}{
		{"missing task type", func(e *TaskEnvelope) { e.TaskType = "" }, "task_type"},
		{"missing role", func(e *TaskEnvelope) { e.TargetRole = "" }, "target_role"},
		{"missing correlation", func(e *TaskEnvelope) { e.CorrelationID = "" }, "correlation_id"},
		{"missing payload", func(e *TaskEnvelope) { e.Payload = nil }, "payload"},
		{"bad payload", func(e *TaskEnvelope) { e.Payload = json.RawMessage(`{`) }, "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := base
			tt.mut(&env)
			err := env.Validate()
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("Field = %q, want %q", ve.Field, tt.field)
			}
		})
	}
	if err := base.Validate(); err != nil {
		t.Errorf("valid envelope: %v", err)
	}
}

func TestResultHelpers(t *testing.T) {
	env := TaskEnvelope{TaskType: "analyze", TargetRole: "analyzer", CorrelationID: "run-9", Payload: json.RawMessage(`{}`)}

	ok, err := Succeeded(env, AnalyzeOutput{Findings: []Finding{{ID: "F1", Message: "m"}}})
	if err != nil {
		t.Fatalf("Succeeded() error: %v", err)
	}
	if ok.CorrelationID != "run-9" || ok.AgentRole != "analyzer" {
		t.Errorf("result identity = %q/%q", ok.CorrelationID, ok.AgentRole)
	}
	var out AnalyzeOutput
	if err := ok.Decode(&out); err != nil || len(out.Findings) != 1 {
		t.Fatalf("Decode() = %v, findings %d", err, len(out.Findings))
	}

	failed := Failed(env, ErrUnreachable)
	if !failed.Transport() {
		t.Error("unreachable should be transport-class")
	}
	if Failed(env, "model refused").Transport() {
		t.Error("business failure should not be transport-class")
	}
	if err := failed.Decode(&out); err == nil {
		t.Error("Decode() on failure with null result should error")
	}

	var pu *ProviderUnavailableError
	if !errors.As(ResultError(Failed(env, ErrProviderUnavailable)), &pu) {
		t.Error("provider_unavailable should map to ProviderUnavailableError")
	}
	var pe *ProviderExecutionError
	if !errors.As(ResultError(Failed(env, "bad input")), &pe) {
		t.Error("business failure should map to ProviderExecutionError")
	}
}

func TestCanonical_StableKeys(t *testing.T) {
	a, err := Canonical(map[string]any{"b": 1, "a": map[string]any{"z": true, "y": []int{2, 1}}})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"a":{"y":[2,1],"z":true},"b":1}`
	if string(a) != want {
		t.Errorf("Canonical() = %s, want %s", a, want)
	}

	f1, _ := Fingerprint(PlanInput{Issue: Issue{ID: "X", Title: "t"}})
	f2, _ := Fingerprint(map[string]any{"issue": map[string]any{"title": "t", "id": "X", "category": "", "severity": "", "description": ""}})
	if f1 != f2 {
		t.Errorf("Fingerprint differs for equal values: %s vs %s", f1, f2)
	}
}

func TestDecodeStrict(t *testing.T) {
	var c CreatedItem
	if err := DecodeStrict([]byte(`{"id":3,"url":"u","status":"open"}`), &c); err != nil {
		t.Fatalf("DecodeStrict() error: %v", err)
	}
	if c.ID != 3 {
		t.Errorf("ID = %d, want 3", c.ID)
	}
	if err := DecodeStrict([]byte(`{"id":3,"extra":1}`), &c); err == nil {
		t.Error("expected unknown field to be rejected")
	}
	if err := DecodeStrict([]byte(`{"id":3}{"id":4}`), &c); err == nil {
		t.Error("expected trailing data to be rejected")
	}
}

func TestPipelineRequestValidate(t *testing.T) {
	good := PipelineRequest{TargetHint: "./svc", Environment: EnvDev, Mode: ModePreview}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid request: %v", err)
	}
	tests := []struct {
		name string
		mut  func(*PipelineRequest)
	}{
		{"empty target", func(r *PipelineRequest) { r.TargetHint = " " }},
		{"bad env", func(r *PipelineRequest) { r.Environment = "qa" }},
		{"negative cap", func(r *PipelineRequest) { r.MaxItemsToFix = -1 }},
		{"bad mode", func(r *PipelineRequest) { r.Mode = "yolo" }},
		{"bad tracker", func(r *PipelineRequest) { r.TrackerTarget = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := good
			tt.mut(&r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestParseModeAndEnvironment(t *testing.T) {
	if m, err := ParseMode("dry_run"); err != nil || m != ModeDryRun {
		t.Errorf("ParseMode(dry_run) = %q, %v", m, err)
	}
	if m, _ := ParseMode(""); m != ModePreview {
		t.Errorf("ParseMode(\"\") = %q, want preview", m)
	}
	if e, err := ParseEnvironment("production"); err != nil || e != EnvProd {
		t.Errorf("ParseEnvironment(production) = %q, %v", e, err)
	}
	if _, err := ParseEnvironment("moon"); err == nil {
		t.Error("expected error for unknown environment")
	}
}

func TestRecountAndIntegrity(t *testing.T) {
	r := NewPipelineResult("run", PipelineRequest{})
	r.Issues = []Issue{{ID: "A"}, {ID: "B"}}
	r.QAVerdicts = []QAVerdict{
		{IssueID: "A", Status: QAPass, SafeToApply: true},
		{IssueID: "B", Status: QANeedsReview},
	}
	r.DocUpdates = []DocUpdate{{IssueID: "A"}, {IssueID: "A"}, {IssueID: "B"}}
	r.Recount()

	if r.TotalIssuesFound != 2 || r.IssuesFixed != 1 || r.IssuesDocumented != 2 {
		t.Errorf("counters = %d/%d/%d, want 2/1/2", r.TotalIssuesFound, r.IssuesFixed, r.IssuesDocumented)
	}
	if err := r.CheckIntegrity(); err != nil {
		t.Fatalf("CheckIntegrity() error: %v", err)
	}

	r.CodeChanges = []CodeChange{{IssueID: "ZZZ", FilePath: "x.go"}}
	err := r.CheckIntegrity()
	var ae *AggregationError
	if !errors.As(err, &ae) {
		t.Fatalf("CheckIntegrity() = %v, want AggregationError", err)
	}
	if ae.IssueID != "ZZZ" || ae.Stage != StageImplement {
		t.Errorf("AggregationError = %+v", ae)
	}
}

func TestNewPipelineResult_EncodesEmptyLists(t *testing.T) {
	data, err := json.Marshal(NewPipelineResult("r", PipelineRequest{}))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "null") {
		t.Errorf("encoded result contains null: %s", data)
	}
}

func TestStageContractValidation(t *testing.T) {
	if err := (Issue{ID: "A", Title: "t", Severity: "urgent"}).Validate(); err == nil {
		t.Error("unknown severity should fail")
	}
	if err := (FixPlan{IssueID: "A", Steps: []string{"s"}, Risk: "extreme"}).Validate(); err == nil {
		t.Error("unknown risk should fail")
	}
	if err := (CodeChange{IssueID: "A", FilePath: "f", Confidence: 1.5}).Validate(); err == nil {
		t.Error("confidence > 1 should fail")
	}
	if err := (QAVerdict{IssueID: "A", Status: "maybe"}).Validate(); err == nil {
		t.Error("unknown QA status should fail")
	}
	if SeverityCritical.Rank() >= SeverityInfo.Rank() {
		t.Error("critical should rank before info")
	}
}
