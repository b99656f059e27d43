package orchestrator

import (
	"sort"

	"golang.org/x/sync/errgroup"
)

// unit is one independent piece of a per-issue stage.
type unit struct {
	issueID string
	input   any
}

type outcome[T any] struct {
	issueID string
	out     T
	err     error
}

// fanOut dispatches every unit on a pool bounded by the configured size and
// returns the outcomes sorted by issue id, so the merge order never depends
// on completion order. Failures are carried in the outcomes; the group
// itself never errors.
func fanOut[T any](r *run, stage string, units []unit) []outcome[T] {
	results := make([]outcome[T], len(units))
	var g errgroup.Group
	g.SetLimit(r.o.opts.PoolSize)
	for i, u := range units {
		g.Go(func() error {
			var out T
			err := r.call(stage, u.input, &out)
			results[i] = outcome[T]{issueID: u.issueID, out: out, err: err}
			return nil
		})
	}
	_ = g.Wait()
	sort.SliceStable(results, func(i, j int) bool { return results[i].issueID < results[j].issueID })
	return results
}
