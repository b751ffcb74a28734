package plannersdk

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

// Client is a minimal Planner HTTP API client. Every domain operation goes
// through Invoke; the typed helpers below just wrap the common tools.
type Client struct {
	BaseURL     string
	TeamID      string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. "http://localhost:8787/v1".
func New(baseURL, teamID string) *Client {
	return &Client{
		BaseURL: baseURL,
		TeamID:  teamID,
		Timeout: 10 * time.Second,
	}
}

// Result is a tool invocation outcome. Failed invocations surface as
// *APIError instead, so Ok is always true on returned values.
type Result struct {
	Ok   bool           `json:"ok"`
	Data map[string]any `json:"data,omitempty"`
}

// ToolInfo is one catalog entry.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
	Metadata    struct {
		Category     string   `json:"category"`
		Tags         []string `json:"tags,omitempty"`
		ReadOnly     bool     `json:"read_only"`
		RequiresAuth bool     `json:"requires_auth"`
		RequiresTeam bool     `json:"requires_team"`
		Risk         string   `json:"risk_level"`
		Idempotent   bool     `json:"idempotent"`
	} `json:"metadata"`
}

// BatchOptions configures a batch run request. Zero values defer to the
// server's configuration.
type BatchOptions struct {
	DeadlineSeconds int    `json:"deadline_seconds,omitempty"`
	MaxItems        int    `json:"max_items,omitempty"`
	TaskID          string `json:"task_id,omitempty"`
	DryRun          bool   `json:"dry_run,omitempty"`
}

// BatchReport mirrors the server's run report.
type BatchReport struct {
	Locked     bool          `json:"locked"`
	DryRun     bool          `json:"dry_run"`
	Visited    int           `json:"visited"`
	Completed  int           `json:"completed"`
	Reassigned int           `json:"reassigned"`
	FallenBack int           `json:"fallen_back"`
	Skipped    int           `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

// APIError wraps non-2xx responses. Code carries the tool failure code when
// the server returned its structured envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d message=%s", e.StatusCode, e.Message)
}

// IsCode reports whether err is an APIError with the given failure code.
func IsCode(err error, code string) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Code == code
}

// Health checks liveness.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// Catalog lists the available tools.
func (c *Client) Catalog(ctx context.Context) ([]ToolInfo, error) {
	var resp struct {
		Tools []ToolInfo `json:"tools"`
	}
	err := c.do(ctx, http.MethodGet, "tools", nil, &resp)
	return resp.Tools, err
}

// Invoke runs a tool by name with the given argument object.
func (c *Client) Invoke(ctx context.Context, name string, args map[string]any) (Result, error) {
	if args == nil {
		args = map[string]any{}
	}
	var resp Result
	endpoint := "tools/" + url.PathEscape(name)
	err := c.do(ctx, http.MethodPost, endpoint, args, &resp)
	return resp, err
}

// RunBatch triggers one batch pass and returns its report.
func (c *Client) RunBatch(ctx context.Context, opts BatchOptions) (BatchReport, error) {
	var resp BatchReport
	err := c.do(ctx, http.MethodPost, "batch/runs", opts, &resp)
	return resp, err
}

// CreateProject creates a project in the client's team.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Result, error) {
	return c.Invoke(ctx, "planner.project.create", map[string]any{
		"name":        name,
		"description": description,
	})
}

// CreateTask creates a task. projectID may be empty when the team has
// exactly one project.
func (c *Client) CreateTask(ctx context.Context, title, projectID string) (Result, error) {
	args := map[string]any{"title": title}
	if projectID != "" {
		args["project_id"] = projectID
	}
	return c.Invoke(ctx, "planner.task.create", args)
}

// CompleteTask marks a task done.
func (c *Client) CompleteTask(ctx context.Context, taskID string) (Result, error) {
	return c.Invoke(ctx, "planner.task.complete", map[string]any{"task_id": taskID})
}

// TransferProject moves a project to another team. Without confirm the call
// fails with CONFIRMATION_REQUIRED and the impact preview in the error
// details.
func (c *Client) TransferProject(ctx context.Context, projectID, targetTeamID string, confirm bool) (Result, error) {
	return c.Invoke(ctx, "planner.project.transfer", map[string]any{
		"project_id":     projectID,
		"target_team_id": targetTeamID,
		"confirm":        confirm,
	})
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.TeamID != "" {
		req.Header.Set("X-Team-Id", c.TeamID)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(b)}
	if json.Unmarshal(b, &envelope) == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	}
	return apiErr
}
