package domain

import "sort"

// Run statuses. A run's status moves only through Engine transition
// functions, never by concurrent writers directly.
const (
	RunCreated    = "created"
	RunPlanning   = "planning"
	RunRunning    = "running"
	RunJudging    = "judging"
	RunReplanning = "replanning"
	RunDelivered  = "delivered"
	RunFailed     = "failed"
	RunStopped    = "stopped"
)

// Target statuses.
const (
	TargetPending         = "pending"
	TargetCoding          = "coding"
	TargetVerifying       = "verifying"
	TargetPassed          = "passed"
	TargetFailedExhausted = "failed_exhausted"
)

// Target names. A run generates at most one of each.
const (
	TargetBackend  = "backend"
	TargetFrontend = "frontend"
)

type Run struct {
	ID            string  `json:"id"`
	Goal          string  `json:"goal"`
	Status        string  `json:"status" enum:"created,planning,running,judging,replanning,delivered,failed,stopped"`
	Plan          string  `json:"plan,omitempty"`
	ContractJSON  string  `json:"contract_json,omitempty"`
	Iteration     int     `json:"iteration"`
	MaxIterations int     `json:"max_iterations"`
	NeedsBackend  bool    `json:"needs_backend"`
	NeedsFrontend bool    `json:"needs_frontend"`
	StopReason    string  `json:"stop_reason,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
	UpdatedAt     string  `json:"updated_at" format:"date-time"`
	CompletedAt   *string `json:"completed_at,omitempty" format:"date-time"`
}

type Target struct {
	RunID         string              `json:"run_id"`
	Name          string              `json:"name" enum:"backend,frontend"`
	Required      bool                `json:"required"`
	Status        string              `json:"status" enum:"pending,coding,verifying,passed,failed_exhausted"`
	Iteration     int                 `json:"iteration"`
	MaxIterations int                 `json:"max_iterations"`
	LastResult    *VerificationResult `json:"last_result,omitempty"`
	UpdatedAt     string              `json:"updated_at" format:"date-time"`
}

// ArtifactSet maps relative file path to content. Immutable once produced
// for a given sub-iteration; a new sub-iteration stores a new set.
type ArtifactSet map[string]string

// Paths returns the file paths in sorted order.
func (a ArtifactSet) Paths() []string {
	out := make([]string, 0, len(a))
	for p := range a {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type VerificationResult struct {
	Passed      bool     `json:"passed"`
	Diagnostics []string `json:"diagnostics,omitempty"`
}

type JudgmentResult struct {
	Compatible      bool     `json:"compatible"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
	Summary         string   `json:"summary,omitempty"`
}

// Contract is the cross-target interface description produced by the
// planner and enforced by the judge.
type Contract struct {
	BaseURL     string       `json:"base_url,omitempty"`
	Endpoints   []Endpoint   `json:"endpoints,omitempty"`
	DataModels  []DataModel  `json:"data_models,omitempty"`
	Frontend    FrontendSpec `json:"frontend"`
	CORSOrigins []string     `json:"cors_origins,omitempty"`
	AuthMethod  string       `json:"auth_method,omitempty"`
}

type Endpoint struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	Description string         `json:"description,omitempty"`
	RequestBody map[string]any `json:"request_body,omitempty"`
	Response    map[string]any `json:"response,omitempty"`
}

type DataModel struct {
	Name   string            `json:"name"`
	Fields map[string]string `json:"fields,omitempty"`
}

type FrontendSpec struct {
	Description     string   `json:"description,omitempty"`
	Pages           []string `json:"pages,omitempty"`
	Components      []string `json:"components,omitempty"`
	APICalls        []string `json:"api_calls,omitempty"`
	StateManagement string   `json:"state_management,omitempty"`
}

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	Target  string `json:"target,omitempty"`
	ActorID string `json:"actor_id"`
	Message string `json:"message,omitempty"`
	Payload string `json:"payload_json"`
}

type Artifact struct {
	ID        string `json:"id"`
	RunID     string `json:"run_id"`
	Target    string `json:"target"`
	Iteration int    `json:"iteration"`
	Path      string `json:"path"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
