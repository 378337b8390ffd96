package collab_test

import (
	"context"
	"strings"
	"testing"

	"pairforge/internal/collab"
	"pairforge/internal/domain"
)

func TestParseArtifactsFileHeaders(t *testing.T) {
	response := "Here is the code.\n" +
		"FILE: main.py\n" +
		"```python\n" +
		"print('hello')\n" +
		"```\n" +
		"FILE: requirements.txt\n" +
		"```\n" +
		"fastapi\n" +
		"```\n"
	files := collab.ParseArtifacts(response)
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %d: %v", len(files), files.Paths())
	}
	if files["main.py"] != "print('hello')" {
		t.Fatalf("unexpected main.py content %q", files["main.py"])
	}
	if files["requirements.txt"] != "fastapi" {
		t.Fatalf("unexpected requirements.txt content %q", files["requirements.txt"])
	}
}

func TestParseArtifactsFencePaths(t *testing.T) {
	response := "```python:app.py\nx = 1\n```\n```html:index.html\n<p>hi</p>\n```\n"
	files := collab.ParseArtifacts(response)
	if files["app.py"] != "x = 1" {
		t.Fatalf("unexpected app.py %q", files["app.py"])
	}
	if files["index.html"] != "<p>hi</p>" {
		t.Fatalf("unexpected index.html %q", files["index.html"])
	}
}

func TestParseArtifactsCommentHeader(t *testing.T) {
	response := "# app.js\n```js\nconsole.log(1);\n```\n"
	files := collab.ParseArtifacts(response)
	if files["app.js"] != "console.log(1);" {
		t.Fatalf("unexpected app.js %q", files["app.js"])
	}
}

func TestParseArtifactsNormalizesPaths(t *testing.T) {
	response := "FILE: `output/backend/main.py`\n```python\npass\n```\n"
	files := collab.ParseArtifacts(response)
	if _, ok := files["main.py"]; !ok {
		t.Fatalf("expected normalized path main.py, got %v", files.Paths())
	}
}

func TestParseArtifactsEmptyResponse(t *testing.T) {
	files := collab.ParseArtifacts("I could not generate anything, sorry.")
	if len(files) != 0 {
		t.Fatalf("expected no files, got %v", files.Paths())
	}
}

func TestExtractJSONWithProse(t *testing.T) {
	var out struct {
		Compatible bool   `json:"compatible"`
		Summary    string `json:"summary"`
	}
	response := "Sure! Here is my verdict:\n```json\n{\"compatible\": true, \"summary\": \"fits\"}\n```\nLet me know."
	if err := collab.ExtractJSON(response, &out); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !out.Compatible || out.Summary != "fits" {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestExtractJSONNested(t *testing.T) {
	var out struct {
		Plan struct {
			Backend string `json:"backend"`
		} `json:"plan"`
	}
	if err := collab.ExtractJSON(`{"plan": {"backend": "rest api"}}`, &out); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if out.Plan.Backend != "rest api" {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestExtractJSONMissing(t *testing.T) {
	var out map[string]any
	if err := collab.ExtractJSON("no structured data here", &out); err == nil {
		t.Fatalf("expected error")
	}
}

func TestStaticVerifierEmptySet(t *testing.T) {
	v := collab.StaticVerifier{}
	res, err := v.Verify(context.Background(), domain.TargetBackend, domain.ArtifactSet{}, domain.Contract{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Passed {
		t.Fatalf("expected failure for empty set")
	}
	if len(res.Diagnostics) == 0 || !strings.Contains(res.Diagnostics[0], "missing files") {
		t.Fatalf("unexpected diagnostics %v", res.Diagnostics)
	}
}

func TestStaticVerifierContractConformance(t *testing.T) {
	v := collab.StaticVerifier{}
	contract := domain.Contract{
		Endpoints: []domain.Endpoint{
			{Method: "GET", Path: "/api/items"},
			{Method: "POST", Path: "/api/items/new"},
		},
	}
	set := domain.ArtifactSet{"main.py": "@app.get('/api/items')\ndef list_items(): ..."}
	res, err := v.Verify(context.Background(), domain.TargetBackend, set, contract)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Passed {
		t.Fatalf("expected failure for missing endpoint")
	}
	found := false
	for _, d := range res.Diagnostics {
		if strings.Contains(d, "/api/items/new") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing endpoint diagnostic absent: %v", res.Diagnostics)
	}

	set["main.py"] += "\n@app.post('/api/items/new')\ndef create(): ..."
	res, err = v.Verify(context.Background(), domain.TargetBackend, set, contract)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass, got %v", res.Diagnostics)
	}
}

func TestStaticVerifierHiddenChars(t *testing.T) {
	v := collab.StaticVerifier{}
	set := domain.ArtifactSet{"app.js": "console.log(1);\x00"}
	res, err := v.Verify(context.Background(), domain.TargetFrontend, set, domain.Contract{})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if res.Passed {
		t.Fatalf("expected failure for hidden control characters")
	}
}

func TestMockAssistantRoundTrip(t *testing.T) {
	m := collab.MockAssistant{}
	ctx := context.Background()
	plan, err := m.Plan(ctx, "todo app", nil)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !plan.NeedsBackend || !plan.NeedsFrontend {
		t.Fatalf("expected both targets")
	}
	if plan.Contract.Frontend.Description == "" || len(plan.Contract.Frontend.Pages) == 0 {
		t.Fatalf("incomplete frontend spec: %+v", plan.Contract.Frontend)
	}
	backend, err := m.Generate(ctx, collab.GenerateRequest{Target: domain.TargetBackend})
	if err != nil {
		t.Fatalf("generate backend: %v", err)
	}
	frontend, err := m.Generate(ctx, collab.GenerateRequest{Target: domain.TargetFrontend})
	if err != nil {
		t.Fatalf("generate frontend: %v", err)
	}
	v := collab.StaticVerifier{}
	for target, set := range map[string]domain.ArtifactSet{
		domain.TargetBackend:  backend,
		domain.TargetFrontend: frontend,
	} {
		res, err := v.Verify(ctx, target, set, plan.Contract)
		if err != nil {
			t.Fatalf("verify %s: %v", target, err)
		}
		if !res.Passed {
			t.Fatalf("mock %s output failed verification: %v", target, res.Diagnostics)
		}
	}
}
