package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"pairforge/internal/domain"
)

// coordinate fans the required targets out to their runners and blocks
// until every runner has returned. The join is unconditional: a target
// exhausting early never releases the barrier, and results only become
// visible to the controller after all runners are done.
func (e *Engine) coordinate(ctx context.Context, run domain.Run, contract domain.Contract, feedback []string, targets []string, prior map[string]domain.ArtifactSet) map[string]TargetResult {
	results := make([]TargetResult, len(targets))

	if e.Config.Execution.Parallel && len(targets) > 1 {
		g := new(errgroup.Group)
		for i, name := range targets {
			g.Go(func() error {
				results[i] = e.runTarget(ctx, run, name, contract, feedback, prior[name])
				return nil
			})
		}
		g.Wait() //nolint:errcheck // runners report failure through TargetResult
	} else {
		for i, name := range targets {
			results[i] = e.runTarget(ctx, run, name, contract, feedback, prior[name])
		}
	}

	out := make(map[string]TargetResult, len(targets))
	for i, name := range targets {
		out[name] = results[i]
	}
	return out
}

// requiredTargets returns the generation targets the plan asked for,
// backend first for deterministic event ordering in sequential mode.
func requiredTargets(run domain.Run) []string {
	var out []string
	if run.NeedsBackend {
		out = append(out, domain.TargetBackend)
	}
	if run.NeedsFrontend {
		out = append(out, domain.TargetFrontend)
	}
	return out
}
