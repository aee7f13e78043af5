// Package client talks to the flowdesk REST API. It implements the editor backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/funcscan/flowdesk/pkg/models"
)

const (
	DefaultRetries       = 2
	DefaultRetryInterval = 500 * time.Millisecond
)

// Client is an HTTP client of the flowdesk API. Reads are retried on transport
// failures and 5xx answers; writes are sent once.
type Client struct {
	baseURL  string
	http     *http.Client
	retries  uint64
	interval time.Duration
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithRetry sets how many times a failed read is retried and the fixed wait between tries.
func WithRetry(retries int, interval time.Duration) Option {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = uint64(retries)
		}

		if interval > 0 {
			c.interval = interval
		}
	}
}

func New(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		http:     &http.Client{Timeout: 30 * time.Second},
		retries:  DefaultRetries,
		interval: DefaultRetryInterval,
		logger:   logger.With("module", "api_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) GetWorkflow(ctx context.Context, id int64) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.get(ctx, fmt.Sprintf("/workflows/%d", id), &wf); err != nil {
		return nil, err
	}

	return &wf, nil
}

func (c *Client) ListWorkflows(ctx context.Context) ([]models.Workflow, error) {
	var list []models.Workflow
	if err := c.get(ctx, "/workflows", &list); err != nil {
		return nil, err
	}

	return list, nil
}

func (c *Client) CreateWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.do(ctx, http.MethodPost, "/workflows", workflow, &wf); err != nil {
		return nil, err
	}

	return &wf, nil
}

func (c *Client) UpdateWorkflow(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/workflows/%d", workflow.ID), workflow, &wf); err != nil {
		return nil, err
	}

	return &wf, nil
}

func (c *Client) CreateTestCase(ctx context.Context, testCase *models.TestCase) (*models.TestCase, error) {
	var tc models.TestCase
	if err := c.do(ctx, http.MethodPost, "/test-cases", testCase, &tc); err != nil {
		return nil, err
	}

	return &tc, nil
}

func (c *Client) UpdateTestCase(ctx context.Context, testCase *models.TestCase) (*models.TestCase, error) {
	var tc models.TestCase
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/test-cases/%d", testCase.ID), testCase, &tc); err != nil {
		return nil, err
	}

	return &tc, nil
}

func (c *Client) CreateStepTest(ctx context.Context, step *models.StepTest) (*models.StepTest, error) {
	var st models.StepTest
	if err := c.do(ctx, http.MethodPost, "/step-tests", step, &st); err != nil {
		return nil, err
	}

	return &st, nil
}

func (c *Client) UpdateStepTest(ctx context.Context, step *models.StepTest) (*models.StepTest, error) {
	var st models.StepTest
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/step-tests/%d", step.ID), step, &st); err != nil {
		return nil, err
	}

	return &st, nil
}

// DeleteTestCase removes a test case together with its steps.
func (c *Client) DeleteTestCase(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/test-cases/%d", id), nil, nil)
}

func (c *Client) DeleteStepTest(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/step-tests/%d", id), nil, nil)
}

func (c *Client) TestCasesByWorkflow(ctx context.Context, workflowID int64) ([]models.TestCase, error) {
	var list []models.TestCase
	if err := c.get(ctx, fmt.Sprintf("/workflows/%d/test-cases", workflowID), &list); err != nil {
		return nil, err
	}

	return list, nil
}

func (c *Client) StepTestsByTestCase(ctx context.Context, testCaseID int64) ([]models.StepTest, error) {
	var list []models.StepTest
	if err := c.get(ctx, fmt.Sprintf("/test-cases/%d/step-tests", testCaseID), &list); err != nil {
		return nil, err
	}

	return list, nil
}

func (c *Client) ExecuteWorkflow(ctx context.Context, workflowID, userID int64) (*models.ExecutionAck, error) {
	body := map[string]int64{}
	if userID > 0 {
		body["user_id"] = userID
	}

	var ack models.ExecutionAck
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/workflows/%d/execute", workflowID), body, &ack); err != nil {
		return nil, err
	}

	return &ack, nil
}

func (c *Client) Notifications(ctx context.Context, userID int64) ([]models.Notification, error) {
	var list []models.Notification
	if err := c.get(ctx, fmt.Sprintf("/notifications/user/%d", userID), &list); err != nil {
		return nil, err
	}

	return list, nil
}

func (c *Client) Status(ctx context.Context, workflowID int64) (*models.StatusSummary, error) {
	var summary models.StatusSummary
	if err := c.get(ctx, fmt.Sprintf("/workflows/%d/status", workflowID), &summary); err != nil {
		return nil, err
	}

	return &summary, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), c.retries), ctx)

	return backoff.Retry(func() error {
		err := c.do(ctx, http.MethodGet, path, nil, out)
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}

		if err != nil {
			c.logger.DebugContext(ctx, "retrying request", "path", path, "error", err)
		}

		return err
	}, policy)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader

	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", method, path, err)
		}

		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}

	req.Header.Set("Accept", "application/json")

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(method, path, resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s %s: %w", method, path, err)
	}

	return nil
}

func decodeError(method, path string, resp *http.Response) error {
	apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode}

	var problem struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(raw, &problem) == nil {
		apiErr.Type = problem.Type
		apiErr.Detail = problem.Detail
	}

	return apiErr
}
