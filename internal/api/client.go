package api

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

	"dramaforge/internal/services"
)

// Client talks to a running daemon over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient builds a client for the daemon at bind, which may be a host:port
// pair or a full URL.
func NewClient(bind, token string, opts ...ClientOption) *Client {
	base := strings.TrimRight(strings.TrimSpace(bind), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	c := &Client{
		baseURL: base,
		token:   strings.TrimSpace(token),
		// Long-poll requests run up to maxLongPoll on the server.
		httpClient: &http.Client{Timeout: maxLongPoll + 10*time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error is a non-2xx reply. It unwraps to the services marker named by Kind,
// so errors.Is(err, services.ErrNotFound) works on the client side.
type Error struct {
	StatusCode int
	Kind       string
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api: %s", e.Message)
}

func (e *Error) Unwrap() error {
	for _, marker := range []error{services.ErrValidation, services.ErrConfiguration, services.ErrNotFound, services.ErrTimeout, services.ErrExternalTool, services.ErrCancelled, services.ErrTransient} {
		if e.Kind == marker.Error() {
			return marker
		}
	}
	return nil
}

// CreateProject starts a project.
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (ProjectResponse, error) {
	var resp ProjectResponse
	err := c.do(ctx, http.MethodPost, "/api/projects", nil, req, &resp)
	return resp, err
}

// Projects lists project summaries, optionally filtered by status.
func (c *Client) Projects(ctx context.Context, status string) (ProjectListResponse, error) {
	var query url.Values
	if status != "" {
		query = url.Values{"status": {status}}
	}
	var resp ProjectListResponse
	err := c.do(ctx, http.MethodGet, "/api/projects", query, nil, &resp)
	return resp, err
}

// Project fetches one project's full state.
func (c *Client) Project(ctx context.Context, id string) (ProjectResponse, error) {
	var resp ProjectResponse
	err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id), nil, nil, &resp)
	return resp, err
}

// Pause, Resume, Cancel, and Retry drive a project's lifecycle.
func (c *Client) Pause(ctx context.Context, id string) (ProjectResponse, error) {
	return c.control(ctx, id, "pause")
}

func (c *Client) Resume(ctx context.Context, id string) (ProjectResponse, error) {
	return c.control(ctx, id, "resume")
}

func (c *Client) Cancel(ctx context.Context, id string) (ProjectResponse, error) {
	return c.control(ctx, id, "cancel")
}

func (c *Client) Retry(ctx context.Context, id string) (ProjectResponse, error) {
	return c.control(ctx, id, "retry")
}

// Skip marks a pending stage to be skipped.
func (c *Client) Skip(ctx context.Context, id, stage string) (ProjectResponse, error) {
	var resp ProjectResponse
	path := "/api/projects/" + url.PathEscape(id) + "/stages/" + url.PathEscape(stage) + "/skip"
	err := c.do(ctx, http.MethodPost, path, nil, nil, &resp)
	return resp, err
}

func (c *Client) control(ctx context.Context, id, action string) (ProjectResponse, error) {
	var resp ProjectResponse
	err := c.do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(id)+"/"+action, nil, nil, &resp)
	return resp, err
}

// Checkpoints lists a project's checkpoints.
func (c *Client) Checkpoints(ctx context.Context, id string) (CheckpointListResponse, error) {
	var resp CheckpointListResponse
	err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id)+"/checkpoints", nil, nil, &resp)
	return resp, err
}

// PruneCheckpoints keeps only the newest keep checkpoints of a project.
func (c *Client) PruneCheckpoints(ctx context.Context, id string, keep int) (PruneResponse, error) {
	var resp PruneResponse
	err := c.do(ctx, http.MethodPost, "/api/projects/"+url.PathEscape(id)+"/checkpoints/prune", nil, PruneRequest{Keep: keep}, &resp)
	return resp, err
}

// Events long-polls the event hub. An empty project matches every project.
func (c *Client) Events(ctx context.Context, since uint64, project string, wait bool) (EventStreamResponse, error) {
	query := url.Values{"since": {strconv.FormatUint(since, 10)}}
	if project != "" {
		query.Set("project", project)
	}
	if wait {
		query.Set("wait", "1")
	}
	var resp EventStreamResponse
	err := c.do(ctx, http.MethodGet, "/api/events", query, nil, &resp)
	return resp, err
}

// Logs long-polls the daemon log stream.
func (c *Client) Logs(ctx context.Context, since uint64, project string, follow bool) (LogStreamResponse, error) {
	query := url.Values{"since": {strconv.FormatUint(since, 10)}}
	if project != "" {
		query.Set("project", project)
	}
	if follow {
		query.Set("follow", "1")
	}
	var resp LogStreamResponse
	err := c.do(ctx, http.MethodGet, "/api/logs", query, nil, &resp)
	return resp, err
}

// CacheStats reports content cache activity.
func (c *Client) CacheStats(ctx context.Context) (CacheStatsResponse, error) {
	var resp CacheStatsResponse
	err := c.do(ctx, http.MethodGet, "/api/cache", nil, nil, &resp)
	return resp, err
}

// ClearCache drops every content cache entry.
func (c *Client) ClearCache(ctx context.Context) (CacheClearResponse, error) {
	var resp CacheClearResponse
	err := c.do(ctx, http.MethodDelete, "/api/cache", nil, nil, &resp)
	return resp, err
}

// Status fetches daemon status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("api: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &Error{StatusCode: resp.StatusCode}
		var payload ErrorResponse
		if json.Unmarshal(raw, &payload) == nil {
			apiErr.Kind = payload.Kind
			apiErr.Message = payload.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode response: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the daemon could not be reached.
func IsUnavailable(err error) bool {
	var apiErr *Error
	return err != nil && !errors.As(err, &apiErr) && !errors.Is(err, context.Canceled)
}
