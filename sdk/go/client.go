package caselinesdk

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

// Client is a minimal Caseline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
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

// Case represents the API case model.
type Case struct {
	ID              string   `json:"id"`
	Status          string   `json:"status"`
	Priority        string   `json:"priority"`
	AssigneeID      *string  `json:"assignee_id,omitempty"`
	SubmissionID    *string  `json:"submission_id,omitempty"`
	DecisionType    string   `json:"decision_type"`
	DecisionTraceID *string  `json:"decision_trace_id,omitempty"`
	EvidenceIDs     []string `json:"evidence_ids"`
	Version         int64    `json:"version"`
	NextStatuses    []string `json:"next_statuses"`
	CreatedAt       string   `json:"created_at"`
	UpdatedAt       string   `json:"updated_at"`
}

// Submission is the applicant's form data.
type Submission struct {
	ID           string            `json:"id"`
	DecisionType string            `json:"decision_type"`
	Submitter    string            `json:"submitter"`
	Fields       map[string]string `json:"fields"`
}

// Event represents a ledger entry.
type Event struct {
	ID        int64          `json:"id"`
	CaseID    string         `json:"case_id"`
	Type      string         `json:"type"`
	ActorRole string         `json:"actor_role"`
	ActorName string         `json:"actor_name"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
}

// Decision is a recorded approve/reject outcome.
type Decision struct {
	ID          string         `json:"id"`
	CaseID      string         `json:"case_id"`
	Value       string         `json:"value"`
	Reason      string         `json:"reason"`
	Details     map[string]any `json:"details,omitempty"`
	DeciderRole string         `json:"decider_role"`
	DeciderName string         `json:"decider_name"`
	CreatedAt   string         `json:"created_at"`
}

type Signal struct {
	Type     string         `json:"type"`
	Source   string         `json:"source"`
	Strength float64        `json:"strength"`
	Complete bool           `json:"complete"`
	Metadata map[string]any `json:"metadata"`
}

type Snapshot struct {
	CaseID       string   `json:"case_id"`
	Completeness float64  `json:"completeness"`
	Confidence   float64  `json:"confidence"`
	Band         string   `json:"band"`
	Gaps         []string `json:"gaps"`
	Narrative    string   `json:"narrative"`
	ComputedAt   string   `json:"computed_at"`
}

// Intelligence pairs a snapshot with the signals it was scored from.
type Intelligence struct {
	Snapshot Snapshot `json:"snapshot"`
	Signals  []Signal `json:"signals"`
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

// PaginatedCases wraps list responses with cursors.
type PaginatedCases struct {
	Items      []Case `json:"items"`
	NextCursor string `json:"next_cursor"`
}

// CreateSubmission records form data for a decision type.
func (c *Client) CreateSubmission(ctx context.Context, decisionType string, fields map[string]string) (Submission, error) {
	body := map[string]any{"decision_type": decisionType}
	if len(fields) > 0 {
		body["fields"] = fields
	}
	var resp Submission
	err := c.do(ctx, http.MethodPost, "v1/submissions", body, &resp)
	return resp, err
}

// CreateCase opens a case for a submission.
func (c *Client) CreateCase(ctx context.Context, submissionID string) (Case, error) {
	body := map[string]any{"submission_id": submissionID}
	var resp Case
	err := c.do(ctx, http.MethodPost, "v1/cases", body, &resp)
	return resp, err
}

// GetCase fetches a case by id.
func (c *Client) GetCase(ctx context.Context, id string) (Case, error) {
	var resp Case
	err := c.do(ctx, http.MethodGet, c.casePath(id, ""), nil, &resp)
	return resp, err
}

// CasesPage returns a page of cases, optionally filtered by status.
func (c *Client) CasesPage(ctx context.Context, status string, limit int, cursor string) (PaginatedCases, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v1/cases"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedCases
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateStatus moves a case. expectedFrom may be empty.
func (c *Client) UpdateStatus(ctx context.Context, id, status, expectedFrom, reason string) (Case, error) {
	body := map[string]any{"status": status}
	if expectedFrom != "" {
		body["expected_from"] = expectedFrom
	}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Case
	err := c.do(ctx, http.MethodPost, c.casePath(id, "status"), body, &resp)
	return resp, err
}

// AddNote appends a note to the case ledger.
func (c *Client) AddNote(ctx context.Context, id, text string) (Event, error) {
	var resp Event
	err := c.do(ctx, http.MethodPost, c.casePath(id, "notes"), map[string]any{"text": text}, &resp)
	return resp, err
}

// Decide records an approved or rejected decision.
func (c *Client) Decide(ctx context.Context, id, decision, reason string) (Decision, error) {
	body := map[string]any{"decision": decision}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Decision
	err := c.do(ctx, http.MethodPost, c.casePath(id, "decisions"), body, &resp)
	return resp, err
}

// Timeline returns reviewer-facing events, newest first.
func (c *Client) Timeline(ctx context.Context, id string) ([]Event, error) {
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.casePath(id, "timeline"), nil, &resp)
	return resp.Items, err
}

// Intelligence returns the decision intelligence snapshot.
func (c *Client) Intelligence(ctx context.Context, id string) (Intelligence, error) {
	var resp Intelligence
	err := c.do(ctx, http.MethodGet, c.casePath(id, "intelligence"), nil, &resp)
	return resp, err
}

// RecomputeIntelligence regenerates signals and the snapshot.
func (c *Client) RecomputeIntelligence(ctx context.Context, id string) (Intelligence, error) {
	var resp Intelligence
	err := c.do(ctx, http.MethodPost, c.casePath(id, "intelligence/recompute"), nil, &resp)
	return resp, err
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

func (c *Client) casePath(id, sub string) string {
	p := "v1/cases/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
