// Package runstore persists pipeline results and their dispatch
// transcripts so runs can be listed, inspected and replayed.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// RunSummary is one row of a run listing.
type RunSummary struct {
	RunID            string             `json:"run_id"`
	Status           contract.RunStatus `json:"status"`
	Mode             contract.Mode      `json:"mode"`
	TargetHint       string             `json:"target_hint"`
	StartedAt        string             `json:"started_at"`
	DurationSeconds  float64            `json:"duration_seconds"`
	IssuesFound      int                `json:"issues_found"`
	IssuesFixed      int                `json:"issues_fixed"`
	IssuesDocumented int                `json:"issues_documented"`
}

// ListOptions filters ListRuns.
type ListOptions struct {
	Status contract.RunStatus
	Limit  int
}

// Store is implemented by the SQLite and Postgres backends.
type Store interface {
	Migrate(ctx context.Context) error
	Reset(ctx context.Context) error
	SaveRun(ctx context.Context, res *contract.PipelineResult, exchanges []contract.Exchange) error
	GetRun(ctx context.Context, runID string) (*contract.PipelineResult, error)
	ListRuns(ctx context.Context, opts ListOptions) ([]RunSummary, error)
	Exchanges(ctx context.Context, runID string) ([]contract.Exchange, error)
	Close() error
}

// Open connects to the backend named by driver ("sqlite" or "postgres").
// An empty sqlite dsn selects DefaultPath.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	switch driver {
	case "", "sqlite":
		if dsn == "" {
			p, err := DefaultPath()
			if err != nil {
				return nil, err
			}
			dsn = p
		}
		return OpenSQLite(dsn)
	case "postgres":
		return OpenPostgres(ctx, dsn)
	}
	return nil, fmt.Errorf("unknown store driver %q", driver)
}

// DefaultPath returns ~/.relay/relay.db, creating the directory if needed.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".relay")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "relay.db"), nil
}

func summarize(res *contract.PipelineResult) RunSummary {
	return RunSummary{
		RunID:            res.RunID,
		Status:           res.Status,
		Mode:             res.Request.Mode,
		TargetHint:       res.Request.TargetHint,
		StartedAt:        res.StartedAt,
		DurationSeconds:  res.DurationSeconds,
		IssuesFound:      res.TotalIssuesFound,
		IssuesFixed:      res.IssuesFixed,
		IssuesDocumented: res.IssuesDocumented,
	}
}

// Transcript collects dispatcher exchanges per correlation id. Its Record
// method is a dispatch.Recorder.
type Transcript struct {
	mu    sync.Mutex
	byRun map[string][]contract.Exchange
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{byRun: make(map[string][]contract.Exchange)}
}

// Record appends ex under its correlation id.
func (t *Transcript) Record(ex contract.Exchange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := ex.Envelope.CorrelationID
	t.byRun[id] = append(t.byRun[id], ex)
}

// Take returns and forgets the exchanges for correlationID, ordered by
// pipeline stage and then by payload so concurrent fan-out is stored
// deterministically.
func (t *Transcript) Take(correlationID string) []contract.Exchange {
	t.mu.Lock()
	exs := t.byRun[correlationID]
	delete(t.byRun, correlationID)
	t.mu.Unlock()

	sort.SliceStable(exs, func(i, j int) bool {
		si, sj := stageOrder(exs[i].Stage), stageOrder(exs[j].Stage)
		if si != sj {
			return si < sj
		}
		return string(exs[i].Envelope.Payload) < string(exs[j].Envelope.Payload)
	})
	return exs
}

var stageRank = map[string]int{
	contract.StageAnalyze:   0,
	contract.StageClassify:  1,
	contract.StagePlan:      2,
	contract.StageImplement: 3,
	contract.StageVerify:    4,
	contract.StageDocument:  5,
	contract.StageCleanup:   6,
	contract.StageIndex:     7,
}

func stageOrder(stage string) int {
	if r, ok := stageRank[stage]; ok {
		return r
	}
	return len(stageRank)
}
