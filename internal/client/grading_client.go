// Package client talks to the remote grading API.
package client

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

	"github.com/stemsi/exstem-proctor/internal/model"
)

// maxErrorBody bounds how much of a failed response is kept in APIError.
const maxErrorBody = 2048

// APIError is returned when the grading API answers with a non-2xx status.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: grading api returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: grading api returned %d: %s", e.Op, e.StatusCode, e.Body)
}

// envelope mirrors the grading API's standard response wrapper.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// GradingClient is an HTTP client for the grading API.
type GradingClient struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
}

// NewGradingClient creates a new GradingClient.
func NewGradingClient(baseURL, token, deviceID string, timeout time.Duration) *GradingClient {
	return &GradingClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		token:    token,
		deviceID: deviceID,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *GradingClient) do(ctx context.Context, op, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode: %w", op, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-ID", c.deviceID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

// FetchQuestions retrieves the raw question set of an exam.
func (c *GradingClient) FetchQuestions(ctx context.Context, examID string, examType model.ExamType) ([]model.Question, error) {
	q := url.Values{"type": {string(examType)}}
	var questions []model.Question
	path := "/exams/" + url.PathEscape(examID) + "/questions?" + q.Encode()
	if err := c.do(ctx, "fetch questions", http.MethodGet, path, nil, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// FetchProgress retrieves the server-side progress snapshot for a reference
// number. A missing snapshot is returned as nil without error.
func (c *GradingClient) FetchProgress(ctx context.Context, examRefNo string) (*model.Progress, error) {
	var progress model.Progress
	err := c.do(ctx, "fetch progress", http.MethodGet, "/progress/"+url.PathEscape(examRefNo), nil, &progress)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// UpsertProgress caches one answer and the remaining time server-side.
func (c *GradingClient) UpsertProgress(ctx context.Context, examRefNo string, update model.ProgressUpdate) error {
	return c.do(ctx, "upsert progress", http.MethodPut, "/progress/"+url.PathEscape(examRefNo), update, nil)
}

// ClearProgress deletes the server-side progress snapshot.
func (c *GradingClient) ClearProgress(ctx context.Context, examRefNo string) error {
	return c.do(ctx, "clear progress", http.MethodDelete, "/progress/"+url.PathEscape(examRefNo), nil, nil)
}

// Submit delivers a final answer sheet.
func (c *GradingClient) Submit(ctx context.Context, payload model.SubmissionPayload) error {
	return c.do(ctx, "submit", http.MethodPost, "/submissions", payload, nil)
}

// NotifyStopped tells the grading API the session on this device stopped.
func (c *GradingClient) NotifyStopped(ctx context.Context, examID string) error {
	return c.do(ctx, "notify stopped", http.MethodPost, "/exams/"+url.PathEscape(examID)+"/stop", nil, nil)
}

// Ping checks that the grading API is reachable.
func (c *GradingClient) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/health", nil, nil)
}
