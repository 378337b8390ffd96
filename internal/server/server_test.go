package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pairforge/internal/collab"
	"pairforge/internal/config"
	"pairforge/internal/db"
	"pairforge/internal/domain"
	"pairforge/internal/engine"
	"pairforge/internal/migrate"
	"pairforge/internal/server"
)

type scriptedPlanner struct{}

func (scriptedPlanner) Plan(ctx context.Context, goal string, feedback []string) (collab.PlanResult, error) {
	return collab.PlanResult{
		Plan:         "build " + goal,
		Contract:     domain.Contract{BaseURL: "http://localhost:8000"},
		NeedsBackend: true,
	}, nil
}

type scriptedGenerator struct{}

func (scriptedGenerator) Generate(ctx context.Context, req collab.GenerateRequest) (domain.ArtifactSet, error) {
	return domain.ArtifactSet{"main.py": "print('ok')"}, nil
}

type passVerifier struct{}

func (passVerifier) Verify(ctx context.Context, target string, artifacts domain.ArtifactSet, contract domain.Contract) (domain.VerificationResult, error) {
	return domain.VerificationResult{Passed: true}, nil
}

type okJudge struct{}

func (okJudge) Judge(ctx context.Context, contract domain.Contract, artifacts map[string]domain.ArtifactSet) (domain.JudgmentResult, error) {
	return domain.JudgmentResult{Compatible: true, Summary: "fits"}, nil
}

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*httptest.Server, *engine.Engine) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	cfg.Execution.MaxIterations = 2
	cfg.Execution.MaxTargetIterations = 2
	eng := engine.New(conn, cfg, engine.Collaborators{
		Planner:  scriptedPlanner{},
		Judge:    okJudge{},
		Verifier: passVerifier{},
		Generators: map[string]collab.Generator{
			domain.TargetBackend:  scriptedGenerator{},
			domain.TargetFrontend: scriptedGenerator{},
		},
	})
	handler, err := server.New(server.Config{
		Engine: eng,
		Auth:   server.AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, eng
}

func doRequest(t *testing.T, method, url, body string, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func actorHeaders() map[string]string {
	return map[string]string{"X-Actor-Id": "tester"}
}

func signToken(t *testing.T, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func waitForStatus(t *testing.T, eng *engine.Engine, runID, want string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		run, _, err := eng.GetStatus(context.Background(), runID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if run.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never reached %s, status %s (%s)", want, run.Status, run.StopReason)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestHealthOpenWithoutAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _ := doRequest(t, http.MethodGet, srv.URL+"/v0/health", "", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
}

func TestUnauthorizedWithoutCredentials(t *testing.T) {
	srv, _ := newTestServer(t)
	res, body := doRequest(t, http.MethodGet, srv.URL+"/v0/runs", "", nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, body)
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, body)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", envelope.Error.Code)
	}
}

func TestJWTBearerAccepted(t *testing.T) {
	srv, _ := newTestServer(t)
	res, body := doRequest(t, http.MethodGet, srv.URL+"/v0/runs", "", map[string]string{
		"Authorization": "Bearer " + signToken(t, "jwt-user"),
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
}

func TestCreateRunLifecycle(t *testing.T) {
	srv, eng := newTestServer(t)
	res, body := doRequest(t, http.MethodPost, srv.URL+"/v0/runs", `{"goal":"todo app"}`, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", res.StatusCode, body)
	}
	var created server.RunResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode run: %v (%s)", err, body)
	}
	if created.Status != domain.RunCreated {
		t.Fatalf("expected created status, got %s", created.Status)
	}
	waitForStatus(t, eng, created.ID, domain.RunDelivered)

	res, body = doRequest(t, http.MethodGet, srv.URL+"/v0/runs/"+created.ID, "", actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	var detail server.RunDetailResponse
	if err := json.Unmarshal(body, &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if detail.Status != domain.RunDelivered || len(detail.Targets) != 1 {
		t.Fatalf("unexpected detail: status=%s targets=%d", detail.Status, len(detail.Targets))
	}
	if detail.Targets[0].Status != domain.TargetPassed {
		t.Fatalf("expected passed target, got %s", detail.Targets[0].Status)
	}
}

func TestCreateRunRequiresGoal(t *testing.T) {
	srv, _ := newTestServer(t)
	res, body := doRequest(t, http.MethodPost, srv.URL+"/v0/runs", `{"goal":""}`, actorHeaders())
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, body)
	}
}

func TestRunEventsEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)
	res, body := doRequest(t, http.MethodPost, srv.URL+"/v0/runs", `{"goal":"todo app"}`, actorHeaders())
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}
	var created server.RunResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, eng, created.ID, domain.RunDelivered)

	res, body = doRequest(t, http.MethodGet, srv.URL+"/v0/runs/"+created.ID+"/events", "", actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	var evts []server.EventResponse
	if err := json.Unmarshal(body, &evts); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	seen := map[string]bool{}
	for _, evt := range evts {
		seen[evt.Type] = true
	}
	for _, want := range []string{"run.created", "run.planning", "run.delivered"} {
		if !seen[want] {
			t.Fatalf("missing %s event", want)
		}
	}
}

func TestRunFilesEndpoints(t *testing.T) {
	srv, eng := newTestServer(t)
	_, body := doRequest(t, http.MethodPost, srv.URL+"/v0/runs", `{"goal":"todo app"}`, actorHeaders())
	var created server.RunResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, eng, created.ID, domain.RunDelivered)

	res, body := doRequest(t, http.MethodGet, srv.URL+"/v0/runs/"+created.ID+"/files", "", actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	var files []server.FileEntry
	if err := json.Unmarshal(body, &files); err != nil {
		t.Fatalf("decode files: %v", err)
	}
	if len(files) != 1 || files[0].Path != "main.py" {
		t.Fatalf("unexpected files: %v", files)
	}

	res, body = doRequest(t, http.MethodGet,
		srv.URL+"/v0/runs/"+created.ID+"/files/content?target=backend&path=main.py", "", actorHeaders())
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.StatusCode, body)
	}
	var content server.FileContentResponse
	if err := json.Unmarshal(body, &content); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if content.Content != "print('ok')" {
		t.Fatalf("unexpected content %q", content.Content)
	}

	res, _ = doRequest(t, http.MethodGet,
		srv.URL+"/v0/runs/"+created.ID+"/files/content?target=backend&path=nope.py", "", actorHeaders())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestGetUnknownRun(t *testing.T) {
	srv, _ := newTestServer(t)
	res, _ := doRequest(t, http.MethodGet, srv.URL+"/v0/runs/missing", "", actorHeaders())
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res.StatusCode)
	}
}

func TestStopFinishedRunConflicts(t *testing.T) {
	srv, eng := newTestServer(t)
	_, body := doRequest(t, http.MethodPost, srv.URL+"/v0/runs", `{"goal":"todo app"}`, actorHeaders())
	var created server.RunResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, eng, created.ID, domain.RunDelivered)
	res, body := doRequest(t, http.MethodPost, srv.URL+"/v0/runs/"+created.ID+"/stop", "{}", actorHeaders())
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, body)
	}
}
