package server

import (
	"encoding/json"

	"pairforge/internal/domain"
)

// Request payloads

type CreateRunRequest struct {
	Goal string `json:"goal"`
}

// Response payloads

type RunResponse struct {
	ID            string          `json:"id"`
	Goal          string          `json:"goal"`
	Status        string          `json:"status" enum:"created,planning,running,judging,replanning,delivered,failed,stopped"`
	Plan          string          `json:"plan,omitempty"`
	Contract      json.RawMessage `json:"contract,omitempty"`
	Iteration     int             `json:"iteration"`
	MaxIterations int             `json:"max_iterations"`
	NeedsBackend  bool            `json:"needs_backend"`
	NeedsFrontend bool            `json:"needs_frontend"`
	StopReason    string          `json:"stop_reason,omitempty"`
	CreatedAt     string          `json:"created_at"`
	UpdatedAt     string          `json:"updated_at"`
	CompletedAt   *string         `json:"completed_at,omitempty"`
}

type TargetResponse struct {
	Name          string                     `json:"name" enum:"backend,frontend"`
	Status        string                     `json:"status" enum:"pending,coding,verifying,passed,failed_exhausted"`
	Iteration     int                        `json:"iteration"`
	MaxIterations int                        `json:"max_iterations"`
	LastResult    *domain.VerificationResult `json:"last_result,omitempty"`
	UpdatedAt     string                     `json:"updated_at"`
}

type RunDetailResponse struct {
	RunResponse
	Targets []TargetResponse `json:"targets"`
}

type EventResponse struct {
	ID      int64           `json:"id"`
	TS      string          `json:"ts"`
	Type    string          `json:"type"`
	Target  string          `json:"target,omitempty"`
	ActorID string          `json:"actor_id"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type FileEntry struct {
	Path      string `json:"path"`
	Target    string `json:"target"`
	Iteration int    `json:"iteration"`
	Size      int    `json:"size"`
}

type FileContentResponse struct {
	Path    string `json:"path"`
	Target  string `json:"target"`
	Content string `json:"content"`
}

type StatsResponse struct {
	RunCounts map[string]int `json:"run_counts"`
}

func runResponse(r domain.Run) RunResponse {
	out := RunResponse{
		ID:            r.ID,
		Goal:          r.Goal,
		Status:        r.Status,
		Plan:          r.Plan,
		Iteration:     r.Iteration,
		MaxIterations: r.MaxIterations,
		NeedsBackend:  r.NeedsBackend,
		NeedsFrontend: r.NeedsFrontend,
		StopReason:    r.StopReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
		CompletedAt:   r.CompletedAt,
	}
	if r.ContractJSON != "" && json.Valid([]byte(r.ContractJSON)) {
		out.Contract = json.RawMessage(r.ContractJSON)
	}
	return out
}

func mapRuns(items []domain.Run) []RunResponse {
	out := make([]RunResponse, 0, len(items))
	for _, r := range items {
		out = append(out, runResponse(r))
	}
	return out
}

func targetResponse(t domain.Target) TargetResponse {
	return TargetResponse{
		Name:          t.Name,
		Status:        t.Status,
		Iteration:     t.Iteration,
		MaxIterations: t.MaxIterations,
		LastResult:    t.LastResult,
		UpdatedAt:     t.UpdatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	payload := json.RawMessage([]byte("{}"))
	if e.Payload != "" && json.Valid([]byte(e.Payload)) {
		payload = json.RawMessage(e.Payload)
	}
	return EventResponse{
		ID:      e.ID,
		TS:      e.TS,
		Type:    e.Type,
		Target:  e.Target,
		ActorID: e.ActorID,
		Message: e.Message,
		Payload: payload,
	}
}
