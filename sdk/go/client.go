package pairforgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pairforge HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Run represents the API run model.
type Run struct {
	ID            string          `json:"id"`
	Goal          string          `json:"goal"`
	Status        string          `json:"status"`
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

// Target represents per-subsystem progress within a run.
type Target struct {
	Name          string `json:"name"`
	Status        string `json:"status"`
	Iteration     int    `json:"iteration"`
	MaxIterations int    `json:"max_iterations"`
	UpdatedAt     string `json:"updated_at"`
}

// RunDetail is a run with its targets.
type RunDetail struct {
	Run
	Targets []Target `json:"targets"`
}

// Event represents a log entry.
type Event struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts"`
	Type    string         `json:"type"`
	Target  string         `json:"target,omitempty"`
	ActorID string         `json:"actor_id"`
	Message string         `json:"message,omitempty"`
	Payload map[string]any `json:"payload"`
}

// FileEntry describes one generated file.
type FileEntry struct {
	Path      string `json:"path"`
	Target    string `json:"target"`
	Iteration int    `json:"iteration"`
	Size      int    `json:"size"`
}

// FileContent carries one generated file's content.
type FileContent struct {
	Path    string `json:"path"`
	Target  string `json:"target"`
	Content string `json:"content"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateRun creates a run and starts it.
func (c *Client) CreateRun(ctx context.Context, goal string) (Run, error) {
	body := map[string]any{"goal": goal}
	var resp Run
	err := c.do(ctx, http.MethodPost, "v0/runs", body, &resp)
	return resp, err
}

// ListRuns returns all runs, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]Run, error) {
	var resp []Run
	err := c.do(ctx, http.MethodGet, "v0/runs", nil, &resp)
	return resp, err
}

// GetRun fetches one run with target progress.
func (c *Client) GetRun(ctx context.Context, id string) (RunDetail, error) {
	var resp RunDetail
	err := c.do(ctx, http.MethodGet, "v0/runs/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// StopRun requests cancellation of a run.
func (c *Client) StopRun(ctx context.Context, id string) (Run, error) {
	var resp Run
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/runs/%s/stop", url.PathEscape(id)), map[string]any{}, &resp)
	return resp, err
}

// Events returns run events after the given id, oldest first.
func (c *Client) Events(ctx context.Context, runID string, afterID int64, limit int) ([]Event, error) {
	endpoint := fmt.Sprintf("v0/runs/%s/events?after_id=%d", url.PathEscape(runID), afterID)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s&limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Files lists a run's generated files.
func (c *Client) Files(ctx context.Context, runID, target string) ([]FileEntry, error) {
	endpoint := fmt.Sprintf("v0/runs/%s/files", url.PathEscape(runID))
	if target != "" {
		endpoint = fmt.Sprintf("%s?target=%s", endpoint, url.QueryEscape(target))
	}
	var resp []FileEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// FileContent fetches one generated file.
func (c *Client) FileContent(ctx context.Context, runID, target, path string) (FileContent, error) {
	endpoint := fmt.Sprintf("v0/runs/%s/files/content?target=%s&path=%s",
		url.PathEscape(runID), url.QueryEscape(target), url.QueryEscape(path))
	var resp FileContent
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// WaitForTerminal polls a run until it reaches a terminal status.
func (c *Client) WaitForTerminal(ctx context.Context, runID string, interval time.Duration) (RunDetail, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	for {
		detail, err := c.GetRun(ctx, runID)
		if err != nil {
			return RunDetail{}, err
		}
		switch detail.Status {
		case "delivered", "failed", "stopped":
			return detail, nil
		}
		select {
		case <-ctx.Done():
			return detail, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
