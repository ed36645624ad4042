package client

import (
	"bufio"
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

// ErrStreamEnded is returned when a deployment stream closes before the
// terminal status event arrives.
var ErrStreamEnded = errors.New("stream ended before terminal status")

// Client provides typed access to the deploykit API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
	streamHTTP *http.Client
	dialer     *websocket.Dialer
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for both plain and streaming
// requests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
			c.streamHTTP = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		streamHTTP: &http.Client{},
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any, token string) (*http.Request, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	req, err := c.newRequest(ctx, method, path, body, token)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// User reflects the session user.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatar_url"`
}

// Me returns the user behind token.
func (c *Client) Me(ctx context.Context, token string) (User, error) {
	var resp struct {
		User User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/auth/me", nil, token, &resp); err != nil {
		return User{}, err
	}
	return resp.User, nil
}

// Project describes a deployable repository.
type Project struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	RepoName     string    `json:"repo_name"`
	RepoFullName string    `json:"repo_full_name"`
	RepoURL      string    `json:"repo_url"`
	Branch       string    `json:"branch"`
	Status       string    `json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// ListProjects returns the caller's projects, newest first.
func (c *Client) ListProjects(ctx context.Context, token string) ([]Project, error) {
	var projects []Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, token, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject fetches a single project.
func (c *Client) GetProject(ctx context.Context, token, projectID string) (Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(projectID), nil, token, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// CreateProjectInput captures the payload for project creation.
type CreateProjectInput struct {
	Name         string `json:"name"`
	RepoFullName string `json:"repo_full_name"`
	RepoURL      string `json:"repo_url,omitempty"`
	Branch       string `json:"branch,omitempty"`
}

// CreateProject registers a new project.
func (c *Client) CreateProject(ctx context.Context, token string, input CreateProjectInput) (Project, error) {
	var project Project
	if err := c.do(ctx, http.MethodPost, "/projects", input, token, &project); err != nil {
		return Project{}, err
	}
	return project, nil
}

// DeleteProject removes a project with its deployments and variables.
func (c *Client) DeleteProject(ctx context.Context, token, projectID string) error {
	return c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(projectID), nil, token, nil)
}

// Variable represents a decrypted environment variable.
type Variable struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListVariables returns the project's environment variables.
func (c *Client) ListVariables(ctx context.Context, token, projectID string) ([]Variable, error) {
	var vars []Variable
	if err := c.do(ctx, http.MethodGet, "/env/"+url.PathEscape(projectID), nil, token, &vars); err != nil {
		return nil, err
	}
	return vars, nil
}

// SetVariable creates or replaces key on the project.
func (c *Client) SetVariable(ctx context.Context, token, projectID, key, value string) (Variable, error) {
	body := map[string]string{"key": key, "value": value}
	var v Variable
	if err := c.do(ctx, http.MethodPost, "/env/"+url.PathEscape(projectID), body, token, &v); err != nil {
		return Variable{}, err
	}
	return v, nil
}

// DeleteVariable removes key from the project.
func (c *Client) DeleteVariable(ctx context.Context, token, projectID, key string) error {
	path := fmt.Sprintf("/env/%s/%s", url.PathEscape(projectID), url.PathEscape(key))
	return c.do(ctx, http.MethodDelete, path, nil, token, nil)
}

// Deployment is a deployment summary.
type Deployment struct {
	ID         string     `json:"id"`
	ProjectID  string     `json:"project_id"`
	Status     string     `json:"status"`
	Logs       string     `json:"logs"`
	LogLines   []string   `json:"log_lines"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at"`
}

// ListDeployments returns the project's finished deployments, newest first.
func (c *Client) ListDeployments(ctx context.Context, token, projectID string) ([]Deployment, error) {
	var deployments []Deployment
	if err := c.do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(projectID), nil, token, &deployments); err != nil {
		return nil, err
	}
	return deployments, nil
}

// GetDeployment fetches one deployment summary.
func (c *Client) GetDeployment(ctx context.Context, token, projectID, deploymentID string) (Deployment, error) {
	path := fmt.Sprintf("/deployments/%s/%s", url.PathEscape(projectID), url.PathEscape(deploymentID))
	var d Deployment
	if err := c.do(ctx, http.MethodGet, path, nil, token, &d); err != nil {
		return Deployment{}, err
	}
	return d, nil
}

// Event is one frame of a deployment stream. Exactly one field is set.
type Event struct {
	Log    string `json:"log,omitempty"`
	Status string `json:"status,omitempty"`
}

// EventHandler receives stream events in order. Returning an error stops
// the stream.
type EventHandler func(Event) error

// StartDeployment starts a deployment of projectID and feeds its events to
// fn until the terminal status. It returns the deployment id and final status.
func (c *Client) StartDeployment(ctx context.Context, token, projectID string, fn EventHandler) (string, string, error) {
	path := fmt.Sprintf("/deployments/%s/deploy", url.PathEscape(projectID))
	resp, err := c.openStream(ctx, path, token)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	id := resp.Header.Get("X-Deployment-ID")
	status, err := readSSE(resp.Body, fn)
	return id, status, err
}

// FollowDeployment attaches to a running or finished deployment over SSE.
func (c *Client) FollowDeployment(ctx context.Context, token, projectID, deploymentID string, fn EventHandler) (string, error) {
	path := fmt.Sprintf("/deployments/%s/%s/stream", url.PathEscape(projectID), url.PathEscape(deploymentID))
	resp, err := c.openStream(ctx, path, token)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	return readSSE(resp.Body, fn)
}

// WatchDeployment attaches to a deployment over the websocket transport.
func (c *Client) WatchDeployment(ctx context.Context, token, deploymentID string, fn EventHandler) (string, error) {
	target := "ws" + strings.TrimPrefix(c.baseURL, "http") + "/ws/deployments?deployment_id=" + url.QueryEscape(deploymentID)
	header := http.Header{}
	if strings.TrimSpace(token) != "" {
		header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}
	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return "", APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
		}
		return "", fmt.Errorf("dial websocket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return "", ErrStreamEnded
			}
			return "", fmt.Errorf("read websocket: %w", err)
		}
		if err := fn(ev); err != nil {
			return "", err
		}
		if ev.Status != "" {
			return ev.Status, nil
		}
	}
}

func (c *Client) openStream(ctx context.Context, path, token string) (*http.Response, error) {
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, token)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("perform request: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		return nil, APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}
	return resp, nil
}

// readSSE decodes data frames from body, skipping comment heartbeats, and
// returns the terminal status.
func readSSE(body io.Reader, fn EventHandler) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		raw, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return "", fmt.Errorf("decode event: %w", err)
		}
		if err := fn(ev); err != nil {
			return "", err
		}
		if ev.Status != "" {
			return ev.Status, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read stream: %w", err)
	}
	return "", ErrStreamEnded
}
