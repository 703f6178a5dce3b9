// Package client is a Go client for the daino HTTP API. Store backends use
// it to enqueue jobs, poll their progress and manage schedules.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"github.com/assaka/daino/custom_errors"
	"github.com/assaka/daino/internal/state"
	"github.com/assaka/daino/types"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

type Client struct {
	baseURL  string
	tenantID string
	token    string
	http     *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(cl *Client) { cl.token = token }
}

// New returns a client acting on behalf of tenantID.
func New(baseURL, tenantID string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		tenantID: tenantID,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a non-2xx answer of the API. It unwraps to the matching
// custom_errors sentinel so callers can use errors.Is.
type APIError struct {
	StatusCode int
	Message    string
	Details    []string

	sentinel error
}

func (e *APIError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("daino api: %d %s: %s", e.StatusCode, e.Message, strings.Join(e.Details, "; "))
	}
	return fmt.Sprintf("daino api: %d %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.sentinel }

type JobRequest struct {
	Type       string         `json:"type"`
	Payload    any            `json:"payload,omitempty"`
	Priority   types.Priority `json:"priority,omitempty"`
	MaxRetries *int           `json:"maxRetries,omitempty"`
	Metadata   types.Metadata `json:"metadata,omitempty"`
}

// Enqueue submits a job and returns its id.
func (c *Client) Enqueue(ctx context.Context, req JobRequest) (string, error) {
	var out struct {
		JobID string `json:"jobId"`
	}
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &out, nil); err != nil {
		return "", err
	}
	return out.JobID, nil
}

func (c *Client) Status(ctx context.Context, jobID string) (types.JobStatusView, error) {
	var view types.JobStatusView
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/status", nil, &view, custom_errors.ErrJobNotFound)
	return view, err
}

func (c *Client) Cancel(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(jobID)+"/cancel", nil, nil, custom_errors.ErrJobNotFound)
}

func (c *Client) Counts(ctx context.Context) (map[state.JobStatus]int, error) {
	var out struct {
		Counts map[state.JobStatus]int `json:"counts"`
	}
	err := c.do(ctx, http.MethodGet, "/jobs/status", nil, &out, nil)
	return out.Counts, err
}

// DefaultWaitInterval is the poll interval Wait uses when given none.
const DefaultWaitInterval = time.Second

// Wait polls a job every interval until it completes or fails. A
// non-positive interval means DefaultWaitInterval.
func (c *Client) Wait(ctx context.Context, jobID string, interval time.Duration) (types.JobStatusView, error) {
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		view, err := c.Status(ctx, jobID)
		if err != nil || view.Status.IsTerminal() {
			return view, err
		}
		select {
		case <-ctx.Done():
			return view, ctx.Err()
		case <-ticker.C:
		}
	}
}

type CronJobRequest struct {
	Name           string           `json:"name"`
	CronExpression string           `json:"cron_expression"`
	Timezone       string           `json:"timezone,omitempty"`
	JobType        string           `json:"job_type"`
	Configuration  any              `json:"configuration,omitempty"`
	IsActive       *bool            `json:"is_active,omitempty"`
	SourceType     types.SourceType `json:"source_type,omitempty"`
	SourceID       string           `json:"source_id,omitempty"`
}

func (c *Client) CreateCronJob(ctx context.Context, req CronJobRequest) (*types.CronJob, error) {
	var cj types.CronJob
	if err := c.do(ctx, http.MethodPost, "/cron-jobs", req, &cj, nil); err != nil {
		return nil, err
	}
	return &cj, nil
}

func (c *Client) CronJob(ctx context.Context, id string) (*types.CronJob, error) {
	return c.cronJobCall(ctx, http.MethodGet, id, "")
}

func (c *Client) PauseCronJob(ctx context.Context, id string) (*types.CronJob, error) {
	return c.cronJobCall(ctx, http.MethodPost, id, "/pause")
}

func (c *Client) ResumeCronJob(ctx context.Context, id string) (*types.CronJob, error) {
	return c.cronJobCall(ctx, http.MethodPost, id, "/resume")
}

// ActivateCronJob turns on a schedule created inactive or deleted earlier.
func (c *Client) ActivateCronJob(ctx context.Context, id string) (*types.CronJob, error) {
	return c.cronJobCall(ctx, http.MethodPost, id, "/activate")
}

func (c *Client) DeleteCronJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/cron-jobs/"+url.PathEscape(id), nil, nil, custom_errors.ErrCronJobNotFound)
}

// RunCronJob fires a schedule now and returns the execution id.
func (c *Client) RunCronJob(ctx context.Context, id string) (int64, error) {
	var out struct {
		ExecutionID int64 `json:"executionId"`
	}
	err := c.do(ctx, http.MethodPost, "/cron-jobs/"+url.PathEscape(id)+"/run", nil, &out, custom_errors.ErrCronJobNotFound)
	return out.ExecutionID, err
}

func (c *Client) Executions(ctx context.Context, id string, page, pageSize int) (*types.PaginationResult[types.CronJobExecution], error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	var out types.PaginationResult[types.CronJobExecution]
	path := "/cron-jobs/" + url.PathEscape(id) + "/executions?" + q.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &out, custom_errors.ErrCronJobNotFound); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stats(ctx context.Context) (*types.Stats, error) {
	var stats types.Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &stats, nil); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (c *Client) cronJobCall(ctx context.Context, method, id, suffix string) (*types.CronJob, error) {
	var cj types.CronJob
	if err := c.do(ctx, method, "/cron-jobs/"+url.PathEscape(id)+suffix, nil, &cj, custom_errors.ErrCronJobNotFound); err != nil {
		return nil, err
	}
	return &cj, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, notFound error) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Tenant-ID", c.tenantID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp, notFound)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response, notFound error) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Details = body.Details
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		apiErr.sentinel = notFound
	case resp.StatusCode == http.StatusForbidden:
		apiErr.sentinel = custom_errors.ErrForbidden
	case resp.StatusCode == http.StatusConflict:
		apiErr.sentinel = custom_errors.ErrInvalidTransition
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(apiErr.Message, custom_errors.ErrHandlerNotFound.Error()):
		apiErr.sentinel = custom_errors.ErrHandlerNotFound
	}
	return apiErr
}
