// Package collab defines the external collaborator capabilities the run
// controller drives: code generation, verification, planning and judgment.
// Implementations wrap interchangeable CLI assistants selected by config;
// the engine only sees these interfaces.
package collab

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pairforge/internal/domain"
)

// GenerateRequest carries everything a generation collaborator needs for
// one sub-iteration of one target.
type GenerateRequest struct {
	Target   string
	Goal     string
	Plan     string
	Contract domain.Contract
	// Feedback holds diagnostics from the previous failed sub-iteration
	// and structured replanning feedback from the previous top-level
	// iteration, if any.
	Feedback []string
	// Prior is the artifact set from the previous sub-iteration, if any.
	Prior domain.ArtifactSet
}

type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (domain.ArtifactSet, error)
}

type Verifier interface {
	Verify(ctx context.Context, target string, artifacts domain.ArtifactSet, contract domain.Contract) (domain.VerificationResult, error)
}

// PlanResult is the planner triple: plan text, contract, required targets.
type PlanResult struct {
	Plan          string
	Contract      domain.Contract
	NeedsBackend  bool
	NeedsFrontend bool
}

type Planner interface {
	Plan(ctx context.Context, goal string, feedback []string) (PlanResult, error)
}

type Judge interface {
	Judge(ctx context.Context, contract domain.Contract, artifacts map[string]domain.ArtifactSet) (domain.JudgmentResult, error)
}

// TimeoutError marks a collaborator call that exceeded its deadline. The
// engine treats it like any other collaborator error: a failed attempt
// charged against the relevant budget.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
}

// IsTimeout reports whether err is (or wraps) a collaborator timeout.
func IsTimeout(err error) bool {
	var te TimeoutError
	return errors.As(err, &te)
}

// wrapTimeout converts a context deadline error into a TimeoutError.
func wrapTimeout(ctx context.Context, op string, timeout time.Duration, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return TimeoutError{Op: op, After: timeout}
	}
	return err
}
