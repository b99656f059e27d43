// Package tracker files tracked items in an external issue tracker. The
// GitHub client shells out to the gh CLI.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/lucasnoah/relayfactory/internal/contract"
)

// StatusExisting marks an item that was already open with the same title.
const StatusExisting = "existing"

// Client creates tracked items. Create is only ever called after the safety
// gate allowed it.
type Client interface {
	Create(ctx context.Context, owner, repo string, p contract.IssuePayload) (contract.CreatedItem, error)
}

// CmdRunner provides command execution. Interface for testing.
type CmdRunner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs gh commands via exec. Token, when set, is passed to gh as
// GH_TOKEN so the credential the gate checked is the one that is used.
type ExecRunner struct {
	Token string
}

func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "gh", args...)
	if r.Token != "" {
		cmd.Env = append(os.Environ(), "GH_TOKEN="+r.Token)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("gh %s: %s: %w", args[0], strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// GitHub implements Client with the gh CLI.
type GitHub struct {
	cmd CmdRunner
}

// NewGitHub creates a GitHub tracker client.
func NewGitHub(cmd CmdRunner) *GitHub {
	return &GitHub{cmd: cmd}
}

// createdProjection maps the REST issue response onto contract.CreatedItem.
const createdProjection = `{id: .number, url: .html_url, status: .state}`

// Create files p in owner/repo unless an open issue with the same title
// already exists, in which case that issue is returned with status
// "existing".
func (g *GitHub) Create(ctx context.Context, owner, repo string, p contract.IssuePayload) (contract.CreatedItem, error) {
	if err := p.Validate(); err != nil {
		return contract.CreatedItem{}, err
	}
	if owner == "" || repo == "" {
		return contract.CreatedItem{}, fmt.Errorf("create issue: owner and repo are required")
	}

	existing, err := g.FindOpenByTitle(ctx, owner, repo, p.Title)
	if err != nil {
		return contract.CreatedItem{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	args := []string{"api", "-X", "POST", fmt.Sprintf("repos/%s/%s/issues", owner, repo),
		"-f", "title=" + p.Title,
	}
	if p.Body != "" {
		args = append(args, "-f", "body="+p.Body)
	}
	for _, l := range p.Labels {
		args = append(args, "-f", "labels[]="+l)
	}
	for _, a := range p.Assignees {
		args = append(args, "-f", "assignees[]="+a)
	}
	if p.Milestone != nil {
		args = append(args, "-F", "milestone="+strconv.Itoa(*p.Milestone))
	}
	args = append(args, "--jq", createdProjection)

	out, err := g.cmd.Run(ctx, args...)
	if err != nil {
		return contract.CreatedItem{}, fmt.Errorf("create issue in %s/%s: %w", owner, repo, err)
	}

	var item contract.CreatedItem
	if err := contract.DecodeStrict([]byte(out), &item); err != nil {
		return contract.CreatedItem{}, fmt.Errorf("parse created issue: %w", err)
	}
	if err := item.Validate(); err != nil {
		return contract.CreatedItem{}, fmt.Errorf("parse created issue: %w", err)
	}
	return item, nil
}

// GitHub search has no escape for a double quote inside a quoted phrase, so
// quotes and backslashes are blanked out. The exact title comparison below
// still decides the match.
var searchUnsafe = strings.NewReplacer(`"`, " ", `\`, " ")

func titleQuery(title string) string {
	phrase := strings.Join(strings.Fields(searchUnsafe.Replace(title)), " ")
	return `"` + phrase + `" in:title`
}

// FindOpenByTitle returns the open issue whose title matches exactly, or
// nil when there is none.
func (g *GitHub) FindOpenByTitle(ctx context.Context, owner, repo, title string) (*contract.CreatedItem, error) {
	out, err := g.cmd.Run(ctx, "issue", "list",
		"-R", owner+"/"+repo,
		"--state", "open",
		"--search", titleQuery(title),
		"--json", "number,title,url,state",
		"--limit", "20",
	)
	if err != nil {
		return nil, fmt.Errorf("search issues in %s/%s: %w", owner, repo, err)
	}
	if out == "" {
		return nil, nil
	}

	var issues []struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		URL    string `json:"url"`
		State  string `json:"state"`
	}
	if err := json.Unmarshal([]byte(out), &issues); err != nil {
		return nil, fmt.Errorf("parse issue list JSON: %w", err)
	}
	for _, is := range issues {
		if is.Title == title {
			return &contract.CreatedItem{ID: is.Number, URL: is.URL, Status: StatusExisting}, nil
		}
	}
	return nil, nil
}
