package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"pairforge/internal/domain"
)

// CLIAssistant drives one interchangeable coding assistant CLI (codex,
// claude or gemini) in non-interactive mode. One instance serves one
// orchestration role; the prompt travels over stdin, output over stdout.
type CLIAssistant struct {
	Provider string
	Role     string
	Timeout  time.Duration
	Dir      string

	// runCommand is swappable in tests.
	runCommand func(ctx context.Context, provider, dir, prompt string) (string, error)
}

func NewCLIAssistant(provider, role string, timeout time.Duration, dir string) *CLIAssistant {
	return &CLIAssistant{
		Provider:   provider,
		Role:       role,
		Timeout:    timeout,
		Dir:        dir,
		runCommand: execAssistant,
	}
}

func commandFor(provider string) []string {
	switch provider {
	case "claude":
		return []string{"claude", "--dangerously-skip-permissions", "--print"}
	case "gemini":
		return []string{"gemini", "-s"}
	default:
		return []string{"codex", "exec", "--sandbox", "danger-full-access"}
	}
}

func execAssistant(ctx context.Context, provider, dir, prompt string) (string, error) {
	argv := commandFor(provider)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s: %w: %s", provider, err, strings.TrimSpace(stderr.String()))
	}
	return cleanOutput(provider, stdout.String()), nil
}

// cleanOutput strips provider banner noise so parsers see only content.
func cleanOutput(provider, out string) string {
	if provider != "gemini" {
		return strings.TrimSpace(out)
	}
	var kept []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Loaded cached credentials") || strings.HasPrefix(line, "Using project") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}

func (a *CLIAssistant) invoke(ctx context.Context, op, prompt string) (string, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if a.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	out, err := a.runCommand(callCtx, a.Provider, a.Dir, prompt)
	if err != nil {
		return "", wrapTimeout(callCtx, op, a.Timeout, err)
	}
	return out, nil
}

// Generate implements Generator.
func (a *CLIAssistant) Generate(ctx context.Context, req GenerateRequest) (domain.ArtifactSet, error) {
	out, err := a.invoke(ctx, "generate "+req.Target, generatePrompt(req))
	if err != nil {
		return nil, err
	}
	files := ParseArtifacts(out)
	if len(files) == 0 {
		return nil, fmt.Errorf("generate %s: no files in assistant response", req.Target)
	}
	return files, nil
}

// Plan implements Planner.
func (a *CLIAssistant) Plan(ctx context.Context, goal string, feedback []string) (PlanResult, error) {
	out, err := a.invoke(ctx, "plan", planPrompt(goal, feedback))
	if err != nil {
		return PlanResult{}, err
	}
	var decoded struct {
		Summary       string          `json:"summary"`
		Plan          string          `json:"plan"`
		NeedsBackend  bool            `json:"needs_backend"`
		NeedsFrontend bool            `json:"needs_frontend"`
		APISpec       json.RawMessage `json:"api_spec"`
		FrontendSpec  json.RawMessage `json:"frontend_spec"`
		Integration   struct {
			CORSOrigins []string `json:"cors_origins"`
			AuthMethod  string   `json:"auth_method"`
		} `json:"integration"`
	}
	if err := ExtractJSON(out, &decoded); err != nil {
		return PlanResult{}, fmt.Errorf("plan response: %w", err)
	}
	res := PlanResult{
		Plan:          decoded.Plan,
		NeedsBackend:  decoded.NeedsBackend,
		NeedsFrontend: decoded.NeedsFrontend,
	}
	if len(decoded.APISpec) > 0 {
		var spec struct {
			BaseURL    string             `json:"base_url"`
			Endpoints  []domain.Endpoint  `json:"endpoints"`
			DataModels []domain.DataModel `json:"data_models"`
		}
		if err := json.Unmarshal(decoded.APISpec, &spec); err == nil {
			res.Contract.BaseURL = spec.BaseURL
			res.Contract.Endpoints = spec.Endpoints
			res.Contract.DataModels = spec.DataModels
		}
	}
	if len(decoded.FrontendSpec) > 0 {
		_ = json.Unmarshal(decoded.FrontendSpec, &res.Contract.Frontend)
	}
	res.Contract.CORSOrigins = decoded.Integration.CORSOrigins
	res.Contract.AuthMethod = decoded.Integration.AuthMethod
	return res, nil
}

// Judge implements Judge.
func (a *CLIAssistant) Judge(ctx context.Context, contract domain.Contract, artifacts map[string]domain.ArtifactSet) (domain.JudgmentResult, error) {
	out, err := a.invoke(ctx, "judge", judgePrompt(contract, artifacts))
	if err != nil {
		return domain.JudgmentResult{}, err
	}
	var decoded struct {
		Compatible      bool     `json:"compatible"`
		Issues          []string `json:"issues"`
		Recommendations []string `json:"recommendations"`
		Summary         string   `json:"summary"`
	}
	if err := ExtractJSON(out, &decoded); err != nil {
		return domain.JudgmentResult{}, fmt.Errorf("judge response: %w", err)
	}
	return domain.JudgmentResult{
		Compatible:      decoded.Compatible,
		Issues:          decoded.Issues,
		Recommendations: decoded.Recommendations,
		Summary:         decoded.Summary,
	}, nil
}
