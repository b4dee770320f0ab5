package monitor

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

	"github.com/fyrsmithlabs/kravscan/internal/jobs"
	"github.com/fyrsmithlabs/kravscan/internal/pipeline"
	"github.com/fyrsmithlabs/kravscan/internal/review"
)

// APIError is a non-2xx answer from kravd.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kravd returned %d: %s", e.Status, e.Message)
}

// Client talks to the kravd HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
}

// ReviewResult is the answer to a review submission.
type ReviewResult struct {
	Merge   *review.MergeStats `json:"merge,omitempty"`
	Retrain *review.Report     `json:"retrain,omitempty"`
}

// NewClient creates a new API client. Retrains run synchronously, so the
// timeout is generous.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: 30 * time.Minute,
		},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Health checks GET /health.
func (c *Client) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("unhealthy: %q", resp.Status)
	}
	return nil
}

// Submit queues a scan job.
func (c *Client) Submit(ctx context.Context, p pipeline.Params) (*jobs.Job, error) {
	var j jobs.Job
	if err := c.do(ctx, http.MethodPost, "/api/v1/jobs", p, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Status fetches a job.
func (c *Client) Status(ctx context.Context, id string) (*jobs.Job, error) {
	var j jobs.Job
	if err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Revoke cancels a job.
func (c *Client) Revoke(ctx context.Context, id string) (*jobs.Job, error) {
	var j jobs.Job
	if err := c.do(ctx, http.MethodDelete, "/api/v1/jobs/"+url.PathEscape(id), nil, &j); err != nil {
		return nil, err
	}
	return &j, nil
}

// Review submits corrections and optionally retrains.
func (c *Client) Review(ctx context.Context, corrections []review.Correction, retrain bool) (*ReviewResult, error) {
	body := struct {
		Corrections []review.Correction `json:"corrections"`
		Retrain     bool                `json:"retrain"`
	}{corrections, retrain}
	var res ReviewResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/review", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(data)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// errorMessage extracts echo's {"message": ...}, falling back to the raw body.
func errorMessage(data []byte) string {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &e) == nil && e.Message != "" {
		return e.Message
	}
	return strings.TrimSpace(string(data))
}
