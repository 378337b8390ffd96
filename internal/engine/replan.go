package engine

import (
	"strings"

	"pairforge/internal/domain"
)

// replanDecision tells the controller how to continue after an
// incompatible judgment.
type replanDecision struct {
	Stop     bool
	Reason   string
	Feedback []string
}

type failureStrategy struct {
	Stop   bool
	Reason string
}

// failureStrategies maps a detected failure class to a recovery policy.
// Permission problems cannot be fixed by regenerating code, so they stop
// the run immediately.
var failureStrategies = map[string]failureStrategy{
	"permission_denied": {Stop: true, Reason: "assistant lacks permission to write the workspace"},
	"tests_fail":        {Reason: "generated code failed its tests"},
	"lint_fail":         {Reason: "generated code failed static checks"},
	"build_fail":        {Reason: "generated code does not build"},
	"codegen_fail":      {Reason: "assistant produced no usable files"},
	"verify_fail":       {Reason: "verification rejected the generated code"},
}

// detectFailureType classifies accumulated diagnostics by scanning for
// the most specific marker first.
func detectFailureType(diags []string) string {
	joined := strings.ToLower(strings.Join(diags, "\n"))
	switch {
	case strings.Contains(joined, "permission denied"), strings.Contains(joined, "not permitted"):
		return "permission_denied"
	case strings.Contains(joined, "test"):
		return "tests_fail"
	case strings.Contains(joined, "lint"):
		return "lint_fail"
	case strings.Contains(joined, "build"), strings.Contains(joined, "compile"):
		return "build_fail"
	case strings.Contains(joined, "no files"), strings.Contains(joined, "generation failed"):
		return "codegen_fail"
	default:
		return "verify_fail"
	}
}

// replan turns an incompatible judgment into feedback for the next
// planning cycle, or a stop decision when retrying cannot help.
func (e *Engine) replan(judgment domain.JudgmentResult, results map[string]TargetResult, consecutiveFailures int) replanDecision {
	var diags []string
	for _, r := range results {
		diags = append(diags, r.Diagnostics...)
	}
	kind := detectFailureType(append(judgment.Issues, diags...))
	strat := failureStrategies[kind]
	if strat.Stop {
		return replanDecision{Stop: true, Reason: strat.Reason}
	}
	if max := e.Config.Execution.MaxFailures; max > 0 && consecutiveFailures >= max {
		return replanDecision{Stop: true, Reason: "consecutive failure budget exhausted"}
	}

	var fb []string
	for i, issue := range judgment.Issues {
		if i == 5 {
			break
		}
		fb = append(fb, "COMPATIBILITY ISSUE: "+issue)
	}
	for i, rec := range judgment.Recommendations {
		if i == 3 {
			break
		}
		fb = append(fb, "RECOMMENDATION: "+rec)
	}
	fb = append(fb, "FAILURE REASON: "+strat.Reason)
	return replanDecision{Feedback: fb}
}
