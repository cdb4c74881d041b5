package taskboardsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a minimal Taskboard HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
	// ForwardedFor is sent as X-Forwarded-For so a proxy can attribute rate limits.
	ForwardedFor string
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Project represents the API project model with its tasks.
type Project struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Tasks       []Task            `json:"tasks"`
}

// TaskConfiguration holds the optional task settings.
type TaskConfiguration struct {
	Priority     string            `json:"priority"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// Task represents the API task model.
type Task struct {
	ID            string            `json:"id"`
	ProjectID     string            `json:"projectId"`
	Title         string            `json:"title"`
	Description   string            `json:"description,omitempty"`
	Status        string            `json:"status"`
	AssignedTo    []string          `json:"assignedTo"`
	Configuration TaskConfiguration `json:"configuration"`
	Dependencies  []string          `json:"dependencies"`
}

// Comment is a note attached to a task.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
}

// EventData describes the field change recorded by an event.
type EventData struct {
	TaskID        string  `json:"taskId,omitempty"`
	Field         string  `json:"field,omitempty"`
	PreviousValue *string `json:"previousValue,omitempty"`
	NewValue      *string `json:"newValue,omitempty"`
}

// Event represents a project log entry.
type Event struct {
	ID        string     `json:"id"`
	Seq       int64      `json:"seq"`
	ProjectID string     `json:"projectId"`
	Type      string     `json:"type"`
	Message   string     `json:"message"`
	Timestamp time.Time  `json:"timestamp"`
	Data      *EventData `json:"data,omitempty"`
	Reverted  bool       `json:"reverted"`
}

// CreateTaskInput carries the fields accepted when creating a task.
type CreateTaskInput struct {
	ProjectID    string            `json:"projectId"`
	Title        string            `json:"title"`
	Description  string            `json:"description,omitempty"`
	AssignedTo   []string          `json:"assignedTo,omitempty"`
	Priority     string            `json:"priority,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
	CustomFields map[string]string `json:"customFields,omitempty"`
	Dependencies []string          `json:"dependencies,omitempty"`
}

// UndoResult is returned by a successful undo.
type UndoResult struct {
	Message string `json:"message"`
	Task    *Task  `json:"task,omitempty"`
}

// Notification is one frame of a live project feed.
type Notification struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsBlocked reports whether err is a dependency gate refusal.
func IsBlocked(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "blocked"
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// ListProjects returns every project with its tasks.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp struct {
		Items []Project `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, "projects", nil, &resp)
	return resp.Items, err
}

// GetProject fetches a project by id.
func (c *Client) GetProject(ctx context.Context, projectID string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, projectPath(projectID, ""), nil, &resp)
	return resp, err
}

// ListTasks returns a project's tasks, optionally filtered by status.
func (c *Client) ListTasks(ctx context.Context, projectID, status string) ([]Task, error) {
	endpoint := projectPath(projectID, "tasks")
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp struct {
		Items []Task `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

// CreateTask creates a task in input.ProjectID.
func (c *Client) CreateTask(ctx context.Context, input CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", input, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task to status. A gate refusal returns an *APIError with code "blocked".
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "tasks/"+url.PathEscape(taskID), map[string]any{"status": status}, &resp)
	return resp, err
}

// ListComments returns a task's comments, oldest first.
func (c *Client) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	var resp struct {
		Items []Comment `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%s/comments", url.PathEscape(taskID)), nil, &resp)
	return resp.Items, err
}

// AddComment attaches a comment to a task. An empty author is recorded as Anonymous.
func (c *Client) AddComment(ctx context.Context, taskID, content, author string) (Comment, error) {
	body := map[string]any{"content": content}
	if author != "" {
		body["author"] = author
	}
	var resp Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/comments", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// Events returns a project's log, most recent first, optionally filtered by type.
func (c *Client) Events(ctx context.Context, projectID, eventType string) ([]Event, error) {
	endpoint := projectPath(projectID, "events")
	if eventType != "" {
		endpoint += "?type=" + url.QueryEscape(eventType)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// Undo reverts the most recent reversible status change in a project.
func (c *Client) Undo(ctx context.Context, projectID string) (UndoResult, error) {
	var resp UndoResult
	err := c.do(ctx, http.MethodPost, projectPath(projectID, "undo"), nil, &resp)
	return resp, err
}

// Reset restores the seed dataset. The server must run with reset enabled.
func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "admin/reset", nil, nil)
}

// Watch streams a project's notifications over websocket until ctx is cancelled
// or the connection drops. The initial connected frame is passed to fn like any other.
func (c *Client) Watch(ctx context.Context, projectID string, fn func(Notification) error) error {
	wsURL, err := c.websocketURL(projectPath(projectID, "ws"))
	if err != nil {
		return err
	}
	header := http.Header{}
	if c.ForwardedFor != "" {
		header.Set("X-Forwarded-For", c.ForwardedFor)
	}
	conn, res, err := websocket.DefaultDialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if res != nil {
			b, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return parseAPIError(res.StatusCode, b)
		}
		return err
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var n Notification
		if err := conn.ReadJSON(&n); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if err := fn(n); err != nil {
			return err
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
	if c.ForwardedFor != "" {
		req.Header.Set("X-Forwarded-For", c.ForwardedFor)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return parseAPIError(resp.StatusCode, b)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) websocketURL(endpoint string) (string, error) {
	u, err := url.Parse(c.base() + "/" + strings.TrimLeft(endpoint, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}

func projectPath(projectID, p string) string {
	endpoint := "projects/" + url.PathEscape(projectID)
	if p != "" {
		endpoint += "/" + strings.TrimLeft(p, "/")
	}
	return endpoint
}

func (c *Client) base() string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + basePath
}
