package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pairforge/internal/collab"
	"pairforge/internal/config"
	"pairforge/internal/domain"
	"pairforge/internal/events"
	"pairforge/internal/repo"
)

// Collaborators bundles the generation-side dependencies of the engine.
type Collaborators struct {
	Planner    collab.Planner
	Judge      collab.Judge
	Verifier   collab.Verifier
	Generators map[string]collab.Generator
}

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events *events.Writer
	Config *config.Config
	Now    func() time.Time

	Planner    collab.Planner
	Judge      collab.Judge
	Verifier   collab.Verifier
	Generators map[string]collab.Generator

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(db *sql.DB, cfg *config.Config, c Collaborators) *Engine {
	return &Engine{
		DB:         db,
		Repo:       repo.Repo{DB: db},
		Events:     &events.Writer{DB: db},
		Config:     cfg,
		Now:        time.Now,
		Planner:    c.Planner,
		Judge:      c.Judge,
		Verifier:   c.Verifier,
		Generators: c.Generators,
		cancels:    map[string]context.CancelFunc{},
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// runTransitions is the legal status graph for a run. Delivered, failed
// and stopped are terminal.
var runTransitions = map[string][]string{
	domain.RunCreated:    {domain.RunPlanning, domain.RunStopped},
	domain.RunPlanning:   {domain.RunRunning, domain.RunDelivered, domain.RunFailed, domain.RunStopped},
	domain.RunRunning:    {domain.RunJudging, domain.RunFailed, domain.RunStopped},
	domain.RunJudging:    {domain.RunDelivered, domain.RunReplanning, domain.RunFailed, domain.RunStopped},
	domain.RunReplanning: {domain.RunPlanning, domain.RunFailed, domain.RunStopped},
}

func ensureRunTransition(from, to string) error {
	for _, allowed := range runTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("invalid run transition %s -> %s", from, to)
}

// CreateRun records a new run in the created state. Execution starts
// separately so callers can choose between Launch and ExecuteRun.
func (e *Engine) CreateRun(ctx context.Context, goal, actorID string) (domain.Run, error) {
	if goal == "" {
		return domain.Run{}, errors.New("goal is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	run := domain.Run{
		ID:            uuid.NewString(),
		Goal:          goal,
		Status:        domain.RunCreated,
		MaxIterations: e.Config.Execution.MaxIterations,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Run{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertRun(ctx, tx, run); err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.RunCreated, run.ID, "", actorID, "run created", events.EventPayload{"goal": goal}); err != nil {
		return domain.Run{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

// Launch starts executing a created run in the background. StopRun
// cancels it.
func (e *Engine) Launch(runID, actorID string) {
	ctx, cancel := context.WithCancel(context.Background())
	e.register(runID, cancel)
	go func() {
		defer e.unregister(runID)
		e.ExecuteRun(ctx, runID, actorID) //nolint:errcheck // outcome is persisted on the run
	}()
}

// StopRun requests cancellation of a run. A run that is executing stops
// at its next suspension point; a run that never started is stopped
// directly.
func (e *Engine) StopRun(ctx context.Context, runID, actorID string) error {
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	cancel, executing := e.cancels[runID]
	e.mu.Unlock()
	if executing {
		cancel()
		return nil
	}
	switch run.Status {
	case domain.RunDelivered, domain.RunFailed, domain.RunStopped:
		return fmt.Errorf("run %s already finished with status %s", runID, run.Status)
	}
	run.StopReason = "stopped before execution"
	return e.setRunStatus(&run, domain.RunStopped, events.RunStopped, actorID, "run stopped", nil)
}

// GetStatus returns the run with its per-target progress.
func (e *Engine) GetStatus(ctx context.Context, runID string) (domain.Run, []domain.Target, error) {
	run, err := e.Repo.GetRun(ctx, runID)
	if err != nil {
		return domain.Run{}, nil, err
	}
	targets, err := e.Repo.ListTargets(ctx, runID)
	if err != nil {
		return domain.Run{}, nil, err
	}
	return run, targets, nil
}

// ExecuteRun drives a created run through the planning, generation,
// judgment and replanning cycle until a terminal state is reached. The
// top-level iteration counter increments when a cycle starts, and the
// budget check happens on the judgment verdict, so a run whose judge
// never accepts fails after exactly MaxIterations cycles.
func (e *Engine) ExecuteRun(ctx context.Context, runID, actorID string) error {
	run, err := e.Repo.GetRun(context.Background(), runID)
	if err != nil {
		return err
	}
	if run.Status != domain.RunCreated {
		return fmt.Errorf("run %s is %s, expected %s", runID, run.Status, domain.RunCreated)
	}
	ctx, cancel := context.WithCancel(ctx)
	e.register(runID, cancel)
	defer e.unregister(runID)

	var feedback []string
	prior := map[string]domain.ArtifactSet{}
	consecutiveFailures := 0

	for {
		if e.stopIfCancelled(ctx, &run, actorID) {
			return nil
		}
		run.Iteration++
		if err := e.setRunStatus(&run, domain.RunPlanning, events.RunPlanning, actorID,
			fmt.Sprintf("planning iteration %d", run.Iteration), events.EventPayload{"iteration": run.Iteration}); err != nil {
			return err
		}

		plan, err := e.planWithRetry(ctx, run.Goal, feedback)
		if err != nil {
			if e.stopIfCancelled(ctx, &run, actorID) {
				return nil
			}
			return e.failRun(&run, actorID, "planning failed: "+err.Error())
		}
		run.Plan = plan.Plan
		run.NeedsBackend = plan.NeedsBackend
		run.NeedsFrontend = plan.NeedsFrontend
		contractJSON, err := json.Marshal(plan.Contract)
		if err != nil {
			return e.failRun(&run, actorID, "encode contract: "+err.Error())
		}
		run.ContractJSON = string(contractJSON)
		e.recordRun(run.ID, events.RunPlanned, "plan ready", events.EventPayload{
			"needs_backend":  run.NeedsBackend,
			"needs_frontend": run.NeedsFrontend,
		})

		targets := requiredTargets(run)
		if len(targets) == 0 {
			run.CompletedAt = timePtr(e.now())
			return e.setRunStatus(&run, domain.RunDelivered, events.RunDelivered, actorID, "no generation targets required", nil)
		}

		if err := e.setRunStatus(&run, domain.RunRunning, events.RunRunning, actorID, "generating subsystems", nil); err != nil {
			return err
		}
		results := e.coordinate(ctx, run, plan.Contract, feedback, targets, prior)
		for name, r := range results {
			if len(r.Artifacts) > 0 {
				prior[name] = r.Artifacts
			}
		}
		if e.stopIfCancelled(ctx, &run, actorID) {
			return nil
		}

		if err := e.setRunStatus(&run, domain.RunJudging, events.RunJudging, actorID, "judging compatibility", nil); err != nil {
			return err
		}
		judgment := e.judgeRun(ctx, run, plan.Contract, results)
		e.recordRun(run.ID, events.RunJudged, judgment.Summary, events.EventPayload{
			"compatible": judgment.Compatible,
			"issues":     len(judgment.Issues),
		})
		if e.stopIfCancelled(ctx, &run, actorID) {
			return nil
		}

		if judgment.Compatible {
			run.CompletedAt = timePtr(e.now())
			return e.setRunStatus(&run, domain.RunDelivered, events.RunDelivered, actorID, judgment.Summary, nil)
		}

		consecutiveFailures++
		if run.Iteration >= run.MaxIterations {
			return e.failRun(&run, actorID, "iteration budget exhausted: "+judgment.Summary)
		}
		decision := e.replan(judgment, results, consecutiveFailures)
		if decision.Stop {
			return e.failRun(&run, actorID, decision.Reason)
		}
		if err := e.setRunStatus(&run, domain.RunReplanning, events.RunReplanning, actorID,
			"replanning with judgment feedback", events.EventPayload{"feedback": len(decision.Feedback)}); err != nil {
			return err
		}
		feedback = decision.Feedback
	}
}

// planWithRetry calls the planning collaborator with a bounded linear
// backoff. Cancellation aborts between attempts, never mid-sleep.
func (e *Engine) planWithRetry(ctx context.Context, goal string, feedback []string) (collab.PlanResult, error) {
	var lastErr error
	for attempt := 0; attempt <= e.Config.Execution.PlanRetries; attempt++ {
		res, err := e.Planner.Plan(ctx, goal, feedback)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt == e.Config.Execution.PlanRetries || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return collab.PlanResult{}, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * time.Second):
		}
	}
	return collab.PlanResult{}, lastErr
}

func (e *Engine) stopIfCancelled(ctx context.Context, run *domain.Run, actorID string) bool {
	if ctx.Err() == nil {
		return false
	}
	run.StopReason = "cancelled"
	run.CompletedAt = timePtr(e.now())
	e.setRunStatus(run, domain.RunStopped, events.RunStopped, actorID, "run stopped", nil) //nolint:errcheck
	return true
}

func (e *Engine) failRun(run *domain.Run, actorID, reason string) error {
	run.StopReason = reason
	run.CompletedAt = timePtr(e.now())
	return e.setRunStatus(run, domain.RunFailed, events.RunFailed, actorID, reason, nil)
}

// setRunStatus applies a guarded status transition and appends the
// matching event in the same transaction. Persistence uses a background
// context so a cancelled run still records its final state.
func (e *Engine) setRunStatus(run *domain.Run, to, evtType, actorID, message string, payload events.EventPayload) error {
	if err := ensureRunTransition(run.Status, to); err != nil {
		return err
	}
	ctx := context.Background()
	run.Status = to
	run.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateRun(ctx, tx, *run); err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, evtType, run.ID, "", actorID, message, payload); err != nil {
		return err
	}
	return tx.Commit()
}

// recordRun appends an informational event outside a status transition.
func (e *Engine) recordRun(runID, evtType, message string, payload events.EventPayload) {
	ctx := context.Background()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Events.Append(ctx, tx, evtType, runID, "", "engine", message, payload); err != nil {
		return
	}
	tx.Commit() //nolint:errcheck
}

// recordTarget persists a target snapshot with its transition event.
// Each runner only ever writes its own target row.
func (e *Engine) recordTarget(runID string, t domain.Target, evtType, message string) {
	ctx := context.Background()
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertTarget(ctx, tx, t); err != nil {
		return
	}
	if err := e.Events.Append(ctx, tx, evtType, runID, t.Name, "engine", message, events.EventPayload{
		"iteration": t.Iteration,
		"status":    t.Status,
	}); err != nil {
		return
	}
	tx.Commit() //nolint:errcheck
}

func (e *Engine) storeArtifacts(runID, target string, iteration int, set domain.ArtifactSet) {
	ctx := context.Background()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.ReplaceArtifacts(ctx, tx, runID, target, iteration, set, uuid.NewString, now); err != nil {
		return
	}
	tx.Commit() //nolint:errcheck
}

func (e *Engine) register(runID string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancels == nil {
		e.cancels = map[string]context.CancelFunc{}
	}
	e.cancels[runID] = cancel
}

func (e *Engine) unregister(runID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.cancels, runID)
}

func timePtr(t time.Time) *string {
	s := t.UTC().Format(time.RFC3339)
	return &s
}
