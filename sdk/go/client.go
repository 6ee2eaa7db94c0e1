package fieldplansdk

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

// Client is a minimal Fieldplan HTTP API client. Each call issues one
// request; nothing is retried.
type Client struct {
	BaseURL     string
	ProjectID   string
	ActorID     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Project represents the API project model.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// Action is one drawing action, e.g. {"type":"add_vertex","coordinate":{...}}.
type Action map[string]any

// Session is kept as raw JSON so clients can round-trip it unchanged.
type Session = json.RawMessage

// PlanVersion represents a saved plan.
type PlanVersion struct {
	ProjectID string  `json:"project_id"`
	Version   int     `json:"version"`
	Note      string  `json:"note,omitempty"`
	SavedBy   string  `json:"saved_by"`
	SavedAt   string  `json:"saved_at"`
	Session   Session `json:"session,omitempty"`
}

type Step struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Done     bool   `json:"done"`
}

// Progress is the workflow checklist summary.
type Progress struct {
	Steps         []Step `json:"steps"`
	Completed     int    `json:"completed"`
	Total         int    `json:"total"`
	RequiredDone  int    `json:"required_done"`
	RequiredTotal int    `json:"required_total"`
	Percent       int    `json:"percent"`
	Next          string `json:"next,omitempty"`
}

// Route is a planned pipe path.
type Route struct {
	Path      []Coordinate `json:"path"`
	Blocked   bool         `json:"blocked"`
	Detoured  bool         `json:"detoured"`
	Direction string       `json:"direction,omitempty"`
	Fallback  bool         `json:"fallback"`
}

// HeadLossInput carries the three calculator inputs.
type HeadLossInput struct {
	PipeID           string  `json:"pipe_id"`
	ZoneID           string  `json:"zone_id,omitempty"`
	LossCoefficient  float64 `json:"loss_coefficient"`
	PipeLength       float64 `json:"pipe_length"`
	CorrectionFactor float64 `json:"correction_factor"`
}

// HeadLossRecord is an immutable stored calculation.
type HeadLossRecord struct {
	ID               string  `json:"id"`
	ProjectID        string  `json:"project_id"`
	PipeID           string  `json:"pipe_id"`
	ZoneID           string  `json:"zone_id,omitempty"`
	LossCoefficient  float64 `json:"loss_coefficient"`
	PipeLength       float64 `json:"pipe_length"`
	CorrectionFactor float64 `json:"correction_factor"`
	HeadLoss         float64 `json:"head_loss"`
	ActorID          string  `json:"actor_id"`
	CreatedAt        string  `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
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

// CreateProject creates the client's project. An empty ProjectID lets the
// server generate one; the client adopts it.
func (c *Client) CreateProject(ctx context.Context, name, description string) (Project, error) {
	body := map[string]any{
		"id":          c.ProjectID,
		"name":        name,
		"description": description,
	}
	var resp Project
	if err := c.do(ctx, http.MethodPost, "v1/projects", body, &resp); err != nil {
		return resp, err
	}
	if c.ProjectID == "" {
		c.ProjectID = resp.ID
	}
	return resp, nil
}

// Session fetches the draft session.
func (c *Client) Session(ctx context.Context) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, c.projectPath("session"), nil, &resp)
	return resp, err
}

// PushSession replaces the draft with a client-held session.
func (c *Client) PushSession(ctx context.Context, s Session) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPut, c.projectPath("session"), s, &resp)
	return resp, err
}

// ApplyActions applies drawing actions in order and returns the new draft.
func (c *Client) ApplyActions(ctx context.Context, actions ...Action) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, c.projectPath("session/actions"), map[string]any{"actions": actions}, &resp)
	return resp, err
}

// SavePlan snapshots the draft as a new plan version.
func (c *Client) SavePlan(ctx context.Context, note string) (PlanVersion, error) {
	var resp PlanVersion
	err := c.do(ctx, http.MethodPost, c.projectPath("plans"), map[string]any{"note": note}, &resp)
	return resp, err
}

func (c *Client) Plans(ctx context.Context) ([]PlanVersion, error) {
	var resp []PlanVersion
	err := c.do(ctx, http.MethodGet, c.projectPath("plans"), nil, &resp)
	return resp, err
}

func (c *Client) Progress(ctx context.Context) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, c.projectPath("progress"), nil, &resp)
	return resp, err
}

// Route plans a pipe between two points around the draft's obstacles.
func (c *Client) Route(ctx context.Context, start, end Coordinate) (Route, error) {
	var resp Route
	err := c.do(ctx, http.MethodPost, c.projectPath("route"), map[string]any{"start": start, "end": end}, &resp)
	return resp, err
}

// RecordHeadLoss stores a head-loss calculation for a pipe of the draft.
func (c *Client) RecordHeadLoss(ctx context.Context, in HeadLossInput) (HeadLossRecord, error) {
	var resp HeadLossRecord
	err := c.do(ctx, http.MethodPost, c.projectPath("headloss"), in, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case json.RawMessage:
		buf.Write(b)
	default:
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
	case c.ActorID != "":
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
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v1/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
