package checks

import (
	"context"
	"fmt"
)

// SuiteResult is the outcome of running several checks in one directory.
type SuiteResult struct {
	Passed  bool      `json:"passed"`
	Results []*Result `json:"results"`
	// Failed names checks that could not be run at all, with the reason.
	Failed map[string]string `json:"failed,omitempty"`
}

// RunSuite runs every check in order. A check that cannot be executed is
// recorded in Failed and the suite moves on; only context cancellation
// stops it early.
func (r *Runner) RunSuite(ctx context.Context, dir string, cfgs []CheckConfig) (*SuiteResult, error) {
	suite := &SuiteResult{Passed: true, Results: []*Result{}}
	for _, cfg := range cfgs {
		if err := ctx.Err(); err != nil {
			return suite, fmt.Errorf("check suite interrupted before %q: %w", cfg.Name, err)
		}
		res, err := r.Run(ctx, dir, cfg)
		if err != nil {
			if suite.Failed == nil {
				suite.Failed = make(map[string]string)
			}
			suite.Failed[cfg.Name] = err.Error()
			suite.Passed = false
			continue
		}
		suite.Results = append(suite.Results, res)
		if !res.Passed {
			suite.Passed = false
		}
	}
	return suite, nil
}
