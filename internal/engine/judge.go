package engine

import (
	"context"
	"fmt"

	"pairforge/internal/domain"
	"pairforge/internal/events"
)

// judgeRun decides whether the produced subsystems fit together. Runs
// with an exhausted required target are incompatible without consulting
// the judgment collaborator, and a single-target run that passed is
// compatible by construction.
func (e *Engine) judgeRun(ctx context.Context, run domain.Run, contract domain.Contract, results map[string]TargetResult) domain.JudgmentResult {
	var issues []string
	for _, name := range requiredTargets(run) {
		if results[name].Target.Status == domain.TargetFailedExhausted {
			issues = append(issues, fmt.Sprintf("%s never produced a working subsystem", name))
			issues = append(issues, results[name].Diagnostics...)
		}
	}
	if len(issues) > 0 {
		return domain.JudgmentResult{
			Compatible: false,
			Issues:     issues,
			Summary:    "one or more subsystems exhausted their retry budget",
		}
	}
	if len(results) < 2 {
		return domain.JudgmentResult{Compatible: true, Summary: "single subsystem passed verification"}
	}

	sets := make(map[string]domain.ArtifactSet, len(results))
	for name, r := range results {
		sets[name] = r.Artifacts
	}
	jr, err := e.Judge.Judge(ctx, contract, sets)
	if err != nil {
		// Judgment is advisory on top of per-target verification, so a
		// broken judge falls back to the verifier verdicts.
		e.recordRun(run.ID, events.RunJudged, "judgment collaborator failed, assuming compatible: "+err.Error(), nil)
		return domain.JudgmentResult{Compatible: true, Summary: "judgment unavailable, subsystems individually verified"}
	}
	return jr
}
