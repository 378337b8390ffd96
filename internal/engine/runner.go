package engine

import (
	"context"
	"time"

	"pairforge/internal/collab"
	"pairforge/internal/domain"
	"pairforge/internal/events"
)

// TargetResult is the message a runner hands back at the join barrier.
// The runner owns its target state exclusively while running; ownership
// transfers to the controller only through this value.
type TargetResult struct {
	Target      domain.Target
	Artifacts   domain.ArtifactSet
	Diagnostics []string
	Cancelled   bool
}

// runTarget executes the bounded Coding/Verifying loop for one target.
// Initial state Coding, terminal states Passed and FailedExhausted. The
// sub-iteration counter increments when a coding attempt starts and is
// checked before every retry, so a target that always fails verification
// exhausts after exactly MaxIterations attempts.
func (e *Engine) runTarget(ctx context.Context, run domain.Run, name string, contract domain.Contract, feedback []string, prior domain.ArtifactSet) TargetResult {
	t := domain.Target{
		RunID:         run.ID,
		Name:          name,
		Required:      true,
		Status:        domain.TargetPending,
		MaxIterations: e.Config.Execution.MaxTargetIterations,
		UpdatedAt:     e.now().UTC().Format(time.RFC3339),
	}
	res := TargetResult{Artifacts: prior}
	gen := e.Generators[name]

	for {
		// Cancellation is observed at the suspension point before each
		// collaborator call; Cancelled always wins over a retry decision.
		if ctx.Err() != nil {
			res.Cancelled = true
			res.Target = t
			return res
		}

		t.Iteration++
		t.Status = domain.TargetCoding
		e.recordTarget(run.ID, t, events.TargetCoding, "generating "+name)

		set, err := gen.Generate(ctx, collab.GenerateRequest{
			Target:   name,
			Goal:     run.Goal,
			Plan:     run.Plan,
			Contract: sliceContract(name, contract),
			Feedback: feedback,
			Prior:    res.Artifacts,
		})
		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				res.Target = t
				return res
			}
			diag := "generation failed: " + err.Error()
			res.Diagnostics = append(res.Diagnostics, diag)
			if t.Iteration >= t.MaxIterations {
				t.Status = domain.TargetFailedExhausted
				e.recordTarget(run.ID, t, events.TargetFailed, diag)
				res.Target = t
				return res
			}
			feedback = []string{diag}
			continue
		}
		res.Artifacts = set
		e.storeArtifacts(run.ID, name, t.Iteration, set)

		if ctx.Err() != nil {
			res.Cancelled = true
			res.Target = t
			return res
		}
		t.Status = domain.TargetVerifying
		e.recordTarget(run.ID, t, events.TargetVerifying, "verifying "+name)

		vr, err := e.Verifier.Verify(ctx, name, set, contract)
		if err != nil {
			if ctx.Err() != nil {
				res.Cancelled = true
				res.Target = t
				return res
			}
			vr = domain.VerificationResult{Passed: false, Diagnostics: []string{"verification failed: " + err.Error()}}
		}
		t.LastResult = &vr
		if vr.Passed {
			t.Status = domain.TargetPassed
			e.recordTarget(run.ID, t, events.TargetPassed, name+" passed verification")
			res.Target = t
			return res
		}
		res.Diagnostics = append(res.Diagnostics, vr.Diagnostics...)
		if t.Iteration >= t.MaxIterations {
			t.Status = domain.TargetFailedExhausted
			e.recordTarget(run.ID, t, events.TargetFailed, name+" exhausted its sub-iteration budget")
			res.Target = t
			return res
		}
		feedback = vr.Diagnostics
	}
}

// sliceContract narrows the shared contract to what one target needs.
// The backend does not see frontend page structure and vice versa; the
// endpoint list is common to both.
func sliceContract(name string, c domain.Contract) domain.Contract {
	out := c
	switch name {
	case domain.TargetBackend:
		out.Frontend = domain.FrontendSpec{}
	case domain.TargetFrontend:
		out.DataModels = nil
	}
	return out
}
