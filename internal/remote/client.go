// Package remote is the HTTP client for the n8n public API.
package remote

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

	"github.com/google/uuid"

	"github.com/pandeptwidyaop/n8n-monitor/internal/models"
)

const (
	apiPrefix        = "/api/v1"
	apiKeyHeader     = "X-N8N-API-KEY"
	requestIDHeader  = "X-Request-Id"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "n8n-monitor-go"
	// maxErrorBody caps how much of a failed response is kept for diagnostics.
	maxErrorBody = 4096
)

// HTTPError is a non-2xx response from the n8n server.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// TransportError is a failure to reach the server at all: refused
// connection, DNS failure or timeout.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the transport failure was a deadline.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(e.Err, &te) && te.Timeout()
}

// WorkflowQuery filters the workflow list.
type WorkflowQuery struct {
	Active *bool
	Limit  int
	Offset int
	Tags   []string
}

// ExecutionQuery filters the execution list.
type ExecutionQuery struct {
	WorkflowID string
	Status     string
	Limit      int
	Cursor     string
}

// API is the subset of the n8n API the monitor consumes.
type API interface {
	ListWorkflows(ctx context.Context, q WorkflowQuery) ([]models.WorkflowDTO, error)
	GetWorkflow(ctx context.Context, id string) (models.WorkflowDTO, error)
	ListExecutions(ctx context.Context, q ExecutionQuery) (models.ExecutionsResponse, error)
	GetExecution(ctx context.Context, id string, includeData bool) (models.ExecutionDTO, error)
	StopExecution(ctx context.Context, id string) error
}

// Options tunes a Client. Zero values select the defaults.
type Options struct {
	Timeout    time.Duration
	UserAgent  string
	HTTPClient *http.Client
}

// Client talks to one n8n instance with one API key.
type Client struct {
	baseURL    string
	apiKey     string
	userAgent  string
	httpClient *http.Client
}

var _ API = (*Client)(nil)

// New builds a client for baseURL. The URL is expected to be validated
// already; only surrounding whitespace and trailing slashes are trimmed.
func New(baseURL, apiKey string, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     apiKey,
		userAgent:  userAgent,
		httpClient: httpClient,
	}
}

// BaseURL returns the normalized server URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListWorkflows returns workflows. Older servers answer with a bare array,
// newer ones with a {"data": [...]} envelope; both are accepted.
func (c *Client) ListWorkflows(ctx context.Context, q WorkflowQuery) ([]models.WorkflowDTO, error) {
	params := url.Values{}
	if q.Active != nil {
		params.Set("active", strconv.FormatBool(*q.Active))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	if len(q.Tags) > 0 {
		params.Set("tags", strings.Join(q.Tags, ","))
	}

	var raw json.RawMessage
	if err := c.doJSON(ctx, http.MethodGet, "/workflows", params, nil, &raw); err != nil {
		return nil, err
	}
	return decodeWorkflowList(raw)
}

func decodeWorkflowList(raw json.RawMessage) ([]models.WorkflowDTO, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []models.WorkflowDTO{}, nil
	}
	if trimmed[0] == '[' {
		var list []models.WorkflowDTO
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode workflow list: %w", err)
		}
		return list, nil
	}
	var envelope models.WorkflowsResponse
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("decode workflow list: %w", err)
	}
	if envelope.Data == nil {
		return []models.WorkflowDTO{}, nil
	}
	return envelope.Data, nil
}

func (c *Client) GetWorkflow(ctx context.Context, id string) (models.WorkflowDTO, error) {
	var wf models.WorkflowDTO
	err := c.doJSON(ctx, http.MethodGet, "/workflows/"+url.PathEscape(id), nil, nil, &wf)
	return wf, err
}

// ListExecutions returns one page of executions. n8n uses "data" for the
// list; "results" is accepted as well.
func (c *Client) ListExecutions(ctx context.Context, q ExecutionQuery) (models.ExecutionsResponse, error) {
	params := url.Values{}
	if q.WorkflowID != "" {
		params.Set("workflowId", q.WorkflowID)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}

	var page struct {
		Results    []models.ExecutionDTO `json:"results"`
		Data       []models.ExecutionDTO `json:"data"`
		NextCursor *string               `json:"nextCursor"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/executions", params, nil, &page); err != nil {
		return models.ExecutionsResponse{}, err
	}

	resp := models.ExecutionsResponse{Results: page.Results, NextCursor: page.NextCursor}
	if resp.Results == nil {
		resp.Results = page.Data
	}
	if resp.Results == nil {
		resp.Results = []models.ExecutionDTO{}
	}
	return resp, nil
}

func (c *Client) GetExecution(ctx context.Context, id string, includeData bool) (models.ExecutionDTO, error) {
	params := url.Values{}
	params.Set("includeData", strconv.FormatBool(includeData))

	var exec models.ExecutionDTO
	err := c.doJSON(ctx, http.MethodGet, "/executions/"+url.PathEscape(id), params, nil, &exec)
	return exec, err
}

// StopExecution asks the server to stop a running execution. The response
// body, if any, is discarded.
func (c *Client) StopExecution(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, "/executions/"+url.PathEscape(id)+"/stop", nil, nil, nil)
}

// doJSON performs one request. It never retries; retry policy belongs to
// the caller.
func (c *Client) doJSON(ctx context.Context, method, path string, params url.Values, body, out any) error {
	endpoint := c.baseURL + apiPrefix + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(requestIDHeader, uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A caller cancelling is not a connectivity problem.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{StatusCode: resp.StatusCode, Message: errorMessage(payload)}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: "read " + path, Err: err}
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// errorMessage extracts n8n's {"message": "..."} or falls back to the raw
// body text.
func errorMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil && body.Message != "" {
		return body.Message
	}
	return strings.TrimSpace(string(payload))
}
