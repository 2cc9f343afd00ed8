// Package aiclient implements the client side of the remote-inference
// collaborator: a small HTTP client that POSTs a prompt request and parses
// a structured completion, wrapped in its own bounded exponential-backoff
// retry and circuit breaker, independent of whatever retry budget the
// scheduler applies to the task that invoked it.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/swarmguard/taskrunner/internal/resilience"
)

// Request mirrors the external remote-inference collaborator request shape.
type Request struct {
	TaskID      string                 `json:"task_id"`
	Prompt      string                 `json:"prompt"`
	Mode        string                 `json:"mode,omitempty"`
	Persona     string                 `json:"persona,omitempty"`
	Model       string                 `json:"model,omitempty"`
	Temperature *float64               `json:"temperature,omitempty"`
	MaxTokens   *int                   `json:"max_tokens,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Stream      bool                   `json:"stream,omitempty"`
}

// Response mirrors the external remote-inference collaborator response shape.
type Response struct {
	TaskID           string  `json:"task_id"`
	Result           string  `json:"result"`
	ProcessingTimeMs *int64  `json:"processing_time_ms,omitempty"`
	ModelUsed        *string `json:"model_used,omitempty"`
	TokensUsed       *int    `json:"tokens_used,omitempty"`
}

// Client talks to an external inference collaborator over HTTP.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Retries    int
	RetryDelay time.Duration
	Breaker    *resilience.CircuitBreaker
	// Limiter caps the outbound request rate to the collaborator; a denied
	// request fails with ErrRateLimited before any transport attempt.
	Limiter *resilience.RateLimiter
}

// New constructs a Client pointed at baseURL with sensible defaults for
// retry and circuit-breaking.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		Retries:    3,
		RetryDelay: 200 * time.Millisecond,
		Breaker:    resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 10*time.Second, 2),
		Limiter:    resilience.NewRateLimiter(10, 5, time.Minute, 300),
	}
}

// ErrCircuitOpen is returned when the breaker has tripped and the request
// was never attempted.
var ErrCircuitOpen = fmt.Errorf("aiclient: circuit breaker open")

// ErrRateLimited is returned when the outbound rate limiter denies the
// request before it is attempted.
var ErrRateLimited = fmt.Errorf("aiclient: request rate limited")

// SendPrompt sends req to the collaborator's /process endpoint, retrying
// with exponential backoff within the deadline carried by ctx.
func (c *Client) SendPrompt(ctx context.Context, req Request) (*Response, error) {
	if c.Limiter != nil && !c.Limiter.Allow() {
		return nil, ErrRateLimited
	}
	if !c.Breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	resp, err := resilience.Retry(ctx, c.Retries, c.RetryDelay, func() (*Response, error) {
		return c.doRequest(ctx, "/process", req)
	})
	c.Breaker.RecordResult(err == nil)
	return resp, err
}

// StreamPrompt sends req to the collaborator's /stream endpoint and invokes
// onChunk with each block of bytes read from the response body as it
// arrives. Blocks are passed on raw, with no line splitting or JSON
// decoding; their concatenation becomes the returned Response.Result.
func (c *Client) StreamPrompt(ctx context.Context, req Request, onChunk func(chunk string)) (*Response, error) {
	if c.Limiter != nil && !c.Limiter.Allow() {
		return nil, ErrRateLimited
	}
	if !c.Breaker.Allow() {
		return nil, ErrCircuitOpen
	}
	req.Stream = true
	body, err := json.Marshal(req)
	if err != nil {
		c.Breaker.RecordResult(false)
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/stream", bytes.NewReader(body))
	if err != nil {
		c.Breaker.RecordResult(false)
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		c.Breaker.RecordResult(false)
		return nil, fmt.Errorf("aiclient: stream request: %w", err)
	}
	defer httpResp.Body.Close()

	var full bytes.Buffer
	buf := make([]byte, 4096)
	for {
		n, readErr := httpResp.Body.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			full.WriteString(chunk)
			onChunk(chunk)
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			c.Breaker.RecordResult(false)
			return nil, fmt.Errorf("aiclient: stream read: %w", readErr)
		}
	}
	c.Breaker.RecordResult(true)
	return &Response{TaskID: req.TaskID, Result: full.String()}, nil
}

func (c *Client) doRequest(ctx context.Context, path string, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("aiclient: request: %w", err)
	}
	defer httpResp.Body.Close()

	limited := io.LimitReader(httpResp.Body, 10<<20)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("aiclient: read response: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		return nil, fmt.Errorf("aiclient: collaborator returned status %d: %s", httpResp.StatusCode, string(data))
	}
	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("aiclient: decode response: %w", err)
	}
	return &out, nil
}
