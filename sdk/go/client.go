package venturegatesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Venturegate HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID names the human behind a shared API token.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base path, e.g. http://host:8080/v1.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type KickoffResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

type CheckpointOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// Checkpoint is a human approval request (partial).
type Checkpoint struct {
	ID                string             `json:"id"`
	RunID             string             `json:"run_id"`
	Name              string             `json:"checkpoint_name"`
	Title             string             `json:"title"`
	Options           []CheckpointOption `json:"options"`
	RecommendedOption string             `json:"recommended_option"`
	Status            string             `json:"status"`
	Decision          string             `json:"decision,omitempty"`
	DecidedBy         string             `json:"decided_by,omitempty"`
	CreatedAt         string             `json:"created_at"`
}

type ProgressEntry struct {
	Phase     int    `json:"phase"`
	PhaseName string `json:"phase_name"`
	Status    string `json:"status"`
	Decision  string `json:"decision,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Status is the run status view (partial).
type Status struct {
	RunID               string          `json:"run_id"`
	ProjectID           string          `json:"project_id"`
	Status              string          `json:"status"`
	CurrentPhase        int             `json:"current_phase"`
	PhaseName           string          `json:"phase_name"`
	HITLState           string          `json:"hitl_state,omitempty"`
	HITLPending         *Checkpoint     `json:"hitl_pending,omitempty"`
	Progress            []ProgressEntry `json:"progress"`
	DesirabilitySignal  string          `json:"desirability_signal,omitempty"`
	FeasibilitySignal   string          `json:"feasibility_signal,omitempty"`
	ViabilitySignal     string          `json:"viability_signal,omitempty"`
	PivotRecommendation string          `json:"pivot_recommendation,omitempty"`
	FinalDecision       string          `json:"final_decision,omitempty"`
	ErrorMessage        string          `json:"error_message,omitempty"`
}

type RunSummary struct {
	RunID        string `json:"run_id"`
	ProjectID    string `json:"project_id"`
	UserID       string `json:"user_id"`
	Status       string `json:"status"`
	CurrentPhase int    `json:"current_phase"`
	PhaseName    string `json:"phase_name"`
	UpdatedAt    string `json:"updated_at"`
}

type ApproveResult struct {
	Status    string `json:"status"`
	Option    string `json:"option,omitempty"`
	NextPhase *int   `json:"next_phase,omitempty"`
}

type BudgetCheck struct {
	Allowed bool    `json:"allowed"`
	Status  string  `json:"status"`
	Mode    string  `json:"mode"`
	Percent float64 `json:"utilization_pct"`
	Message string  `json:"message"`
}

type Selection struct {
	ExperimentType string `json:"experiment_type"`
	Policy         string `json:"policy"`
	Reason         string `json:"reason"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	RunID      string `json:"run_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given HTTP status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// Kickoff starts a validation run. The run executes asynchronously.
func (c *Client) Kickoff(ctx context.Context, projectID, userID, input string) (KickoffResponse, error) {
	body := map[string]any{
		"project_id":         projectID,
		"user_id":            userID,
		"entrepreneur_input": input,
	}
	var resp KickoffResponse
	err := c.do(ctx, http.MethodPost, "kickoff", body, &resp)
	return resp, err
}

func (c *Client) Status(ctx context.Context, runID string) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "status/"+url.PathEscape(runID), nil, &resp)
	return resp, err
}

// Approve resolves the pending checkpoint. decision is "approved", "rejected" or an option id.
func (c *Client) Approve(ctx context.Context, runID, checkpoint, decision, feedback string) (ApproveResult, error) {
	body := map[string]any{
		"run_id":     runID,
		"checkpoint": checkpoint,
		"decision":   decision,
	}
	if feedback != "" {
		body["feedback"] = feedback
	}
	var resp ApproveResult
	err := c.do(ctx, http.MethodPost, "hitl/approve", body, &resp)
	return resp, err
}

// Runs lists runs, newest first. Empty filters are ignored.
func (c *Client) Runs(ctx context.Context, projectID, status string, limit int) ([]RunSummary, error) {
	q := url.Values{}
	if projectID != "" {
		q.Set("project_id", projectID)
	}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []RunSummary
	err := c.do(ctx, http.MethodGet, withQuery("runs", q), nil, &resp)
	return resp, err
}

// Restart rewinds a paused, failed or finished run to phase (by name) and schedules it.
func (c *Client) Restart(ctx context.Context, runID, phase, reason string) (RunSummary, error) {
	body := map[string]any{"phase": phase}
	if reason != "" {
		body["reason"] = reason
	}
	var resp RunSummary
	err := c.do(ctx, http.MethodPost, "runs/"+url.PathEscape(runID)+"/restart", body, &resp)
	return resp, err
}

func (c *Client) Checkpoints(ctx context.Context, runID string) ([]Checkpoint, error) {
	var resp []Checkpoint
	err := c.do(ctx, http.MethodGet, "runs/"+url.PathEscape(runID)+"/checkpoints", nil, &resp)
	return resp, err
}

// Pending lists open checkpoints across runs.
func (c *Client) Pending(ctx context.Context, limit int) ([]Checkpoint, error) {
	q := url.Values{"status": {"pending"}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []Checkpoint
	err := c.do(ctx, http.MethodGet, withQuery("hitl", q), nil, &resp)
	return resp, err
}

// Sweep expires checkpoints older than ttl. A zero ttl uses the server default.
func (c *Client) Sweep(ctx context.Context, ttl time.Duration) ([]Checkpoint, error) {
	body := map[string]any{}
	if ttl > 0 {
		body["ttl"] = ttl.String()
	}
	var resp struct {
		Expired []Checkpoint `json:"expired"`
	}
	err := c.do(ctx, http.MethodPost, "hitl/sweep", body, &resp)
	return resp.Expired, err
}

func (c *Client) CheckBudget(ctx context.Context, userID string, current, proposed, limit float64) (BudgetCheck, error) {
	body := map[string]any{
		"user_id":        userID,
		"current_spend":  current,
		"proposed_spend": proposed,
		"limit":          limit,
	}
	var resp BudgetCheck
	err := c.do(ctx, http.MethodPost, "budget/check", body, &resp)
	return resp, err
}

// SelectPolicy asks the bandit which policy to use for an experiment type.
func (c *Client) SelectPolicy(ctx context.Context, experimentType string) (Selection, error) {
	var resp Selection
	err := c.do(ctx, http.MethodPost, "bandit/select", map[string]any{"experiment_type": experimentType}, &resp)
	return resp, err
}

// RecordOutcome appends an experiment outcome. A nil reward is derived from the primary metric.
func (c *Client) RecordOutcome(ctx context.Context, experimentType, policy, experimentID, metric string, value float64, reward *float64) error {
	body := map[string]any{
		"experiment_type": experimentType,
		"policy":          policy,
		"experiment_id":   experimentID,
		"primary_metric":  metric,
		"primary_value":   value,
	}
	if reward != nil {
		body["reward"] = *reward
	}
	return c.do(ctx, http.MethodPost, "bandit/outcomes", body, nil)
}

// Events returns recent events, optionally for one run.
func (c *Client) Events(ctx context.Context, runID string, limit int) ([]Event, error) {
	q := url.Values{}
	if runID != "" {
		q.Set("run_id", runID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/" + strings.TrimLeft(endpoint, "/")
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
