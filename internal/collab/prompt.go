package collab

import (
	"encoding/json"
	"fmt"
	"strings"

	"pairforge/internal/domain"
)

func contractJSON(c domain.Contract) string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil || string(data) == "{}" {
		return "No contract provided"
	}
	return string(data)
}

func feedbackBlock(feedback []string) string {
	if len(feedback) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n=== PREVIOUS FAILURE REASONS (FIX THESE) ===\n")
	b.WriteString("The previous attempt failed verification. Address every issue:\n")
	for _, f := range feedback {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return b.String()
}

func planPrompt(goal string, feedback []string) string {
	return fmt.Sprintf(`You are a senior project architect.

=== GOAL ===
%s
%s
Analyze from PM, tech lead, UX and integration perspectives, decide whether
a backend and/or a frontend are needed, and define the full contract
between them.

Respond ONLY with JSON in this shape:
{
  "summary": "one line",
  "needs_backend": true,
  "needs_frontend": true,
  "plan": "detailed technical plan",
  "api_spec": {
    "base_url": "http://localhost:8080",
    "endpoints": [{"method": "GET", "path": "/api/resource", "description": "", "request_body": {}, "response": {}}],
    "data_models": [{"name": "Model", "fields": {"field": "type"}}]
  },
  "frontend_spec": {"description": "", "pages": [], "components": [], "api_calls": [], "state_management": ""},
  "integration": {"cors_origins": ["http://localhost:5173"], "auth_method": "none"}
}`, goal, feedbackBlock(feedback))
}

func generatePrompt(req GenerateRequest) string {
	role := "backend developer"
	rules := `- Generate ONLY backend files; the frontend has its own developer.
- Implement EVERY endpoint from the contract with exact paths and methods.
- Include CORS configuration for the frontend origin.
- Include a dependency manifest so the project runs as-is.`
	if req.Target == domain.TargetFrontend {
		role = "frontend developer"
		rules = `- Generate ONLY frontend files; the backend has its own developer.
- Call EVERY endpoint from the contract with exact paths and methods.
- Use the contract base URL for all requests.`
	}
	prior := ""
	if len(req.Prior) > 0 {
		prior = fmt.Sprintf("\n=== PRIOR FILES (revise, do not start over) ===\n%s\n", strings.Join(req.Prior.Paths(), "\n"))
	}
	return fmt.Sprintf(`You are a senior %s.

=== GOAL ===
%s
%s
=== PLAN ===
%s

=== CONTRACT (MUST IMPLEMENT EXACTLY) ===
%s
%s
=== RULES ===
%s
- Code only; no markdown documents.
- Emit every file as:

FILE: relative/path
`+"```"+`
content
`+"```"+`
`, role, req.Goal, feedbackBlock(req.Feedback), req.Plan, contractJSON(req.Contract), prior, rules)
}

func judgePrompt(contract domain.Contract, artifacts map[string]domain.ArtifactSet) string {
	var b strings.Builder
	fmt.Fprintf(&b, `You are a senior integration reviewer. Check backend and frontend code
against the contract: endpoint matching, request/response shapes, base URL
and CORS configuration.

=== CONTRACT ===
%s
`, contractJSON(contract))
	for _, target := range []string{domain.TargetBackend, domain.TargetFrontend} {
		set, ok := artifacts[target]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n=== %s CODE (samples) ===\n", strings.ToUpper(target))
		for _, path := range set.Paths() {
			content := set[path]
			lines := strings.SplitN(content, "\n", 101)
			if len(lines) > 100 {
				content = strings.Join(lines[:100], "\n")
			}
			fmt.Fprintf(&b, "--- %s ---\n%s\n", path, content)
		}
	}
	b.WriteString(`
Respond ONLY with JSON:
{"compatible": true, "issues": [], "recommendations": [], "summary": ""}`)
	return b.String()
}
