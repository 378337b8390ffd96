package collab

import (
	"context"
	"fmt"
	"strings"

	"pairforge/internal/domain"
)

// MockAssistant produces deterministic canned output. It backs the mock
// provider so runs can be exercised without a CLI assistant installed.
type MockAssistant struct{}

func (MockAssistant) Plan(ctx context.Context, goal string, feedback []string) (PlanResult, error) {
	if ctx.Err() != nil {
		return PlanResult{}, ctx.Err()
	}
	return PlanResult{
		Plan: fmt.Sprintf("Backend: expose a REST API for %q. Frontend: render the data and call the API.", goal),
		Contract: domain.Contract{
			BaseURL: "http://localhost:8000",
			Endpoints: []domain.Endpoint{
				{Method: "GET", Path: "/api/items", Description: "List items"},
				{Method: "POST", Path: "/api/items", Description: "Create an item"},
			},
			DataModels: []domain.DataModel{
				{Name: "Item", Fields: map[string]string{"id": "int", "title": "str"}},
			},
			Frontend:    domain.FrontendSpec{Pages: []string{"index"}, Description: "single page calling the API"},
			CORSOrigins: []string{"*"},
		},
		NeedsBackend:  true,
		NeedsFrontend: true,
	}, nil
}

func (MockAssistant) Generate(ctx context.Context, req GenerateRequest) (domain.ArtifactSet, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if req.Target == domain.TargetFrontend {
		return domain.ArtifactSet{
			"index.html": "<!doctype html>\n<html><body><ul id=\"items\"></ul><script src=\"app.js\"></script></body></html>\n",
			"app.js":     "fetch('/api/items').then(r => r.json()).then(render);\nfunction render(items) { document.getElementById('items').innerHTML = items.map(i => `<li>${i.title}</li>`).join(''); }\n",
		}, nil
	}
	return domain.ArtifactSet{
		"main.py": strings.Join([]string{
			"from fastapi import FastAPI",
			"",
			"app = FastAPI()",
			"items = []",
			"",
			"@app.get('/api/items')",
			"def list_items():",
			"    return items",
			"",
			"@app.post('/api/items')",
			"def create_item(item: dict):",
			"    items.append(item)",
			"    return item",
			"",
		}, "\n"),
		"requirements.txt": "fastapi\nuvicorn\n",
	}, nil
}

func (MockAssistant) Judge(ctx context.Context, contract domain.Contract, artifacts map[string]domain.ArtifactSet) (domain.JudgmentResult, error) {
	if ctx.Err() != nil {
		return domain.JudgmentResult{}, ctx.Err()
	}
	return domain.JudgmentResult{Compatible: true, Summary: "mock subsystems always fit"}, nil
}
