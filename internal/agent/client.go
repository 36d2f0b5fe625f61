// Package agent implements the device side of the print queue: a polling
// client that claims jobs for one printer, prints them and acknowledges the
// outcome.
package agent

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

	"github.com/cassiomorais/printqueue/pkg/retry"
	"golang.org/x/time/rate"
)

const printerKeyHeader = "X-Printer-Key"

var (
	// ErrUnauthorized means the server rejected the printer key.
	ErrUnauthorized = errors.New("printer key rejected")
	// ErrAlreadyFinished means the job was acknowledged before.
	ErrAlreadyFinished = errors.New("print job already finished")
)

// Job is a claimed print job as served by the API.
type Job struct {
	ID         string    `json:"id"`
	PrinterID  string    `json:"printer_id"`
	StickerID  string    `json:"sticker_id"`
	StickerURL string    `json:"sticker_url"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusError is a non-success response from the API.
type StatusError struct {
	Status int
	Code   string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api returned %d (%s)", e.Status, e.Code)
	}
	return fmt.Sprintf("api returned %d", e.Status)
}

func (e *StatusError) retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL       string
	PrinterKey    string
	Timeout       time.Duration
	Retry         retry.Config
	RatePerSecond float64
}

// Client talks to the printer endpoints of the API. Requests are rate
// limited and transient failures (network errors, 429, 5xx) are retried
// with backoff.
type Client struct {
	baseURL string
	key     string
	http    *http.Client
	retry   retry.Config
	limiter *rate.Limiter
}

// NewClient creates a new Client. A nil httpClient uses a client with
// cfg.Timeout.
func NewClient(cfg ClientConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		key:     cfg.PrinterKey,
		http:    httpClient,
		retry:   cfg.Retry,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Claim asks for up to maxJobs queued jobs. An empty queue yields no jobs
// and no error.
func (c *Client) Claim(ctx context.Context, maxJobs int) ([]Job, error) {
	path := "/api/v1/printer/jobs/claim"
	if maxJobs > 0 {
		path += "?max_jobs=" + strconv.Itoa(maxJobs)
	}

	var jobs []Job
	err := c.do(ctx, http.MethodPost, path, nil, func(resp *http.Response) error {
		if resp.StatusCode == http.StatusNoContent {
			jobs = nil
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(&jobs)
	})
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	return jobs, nil
}

// Acknowledge reports the outcome of a job. Reason is required on failure.
func (c *Client) Acknowledge(ctx context.Context, jobID string, success bool, reason string) error {
	body := map[string]any{"success": success}
	if !success {
		body["reason"] = reason
	}
	path := "/api/v1/printer/jobs/" + url.PathEscape(jobID) + "/ack"

	err := c.do(ctx, http.MethodPost, path, body, func(*http.Response) error { return nil })
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return fmt.Errorf("acknowledge %s: %w", jobID, ErrAlreadyFinished)
	}
	if err != nil {
		return fmt.Errorf("acknowledge %s: %w", jobID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, onSuccess func(*http.Response) error) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	return retry.Do(ctx, c.retry, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set(printerKeyHeader, c.key)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := onSuccess(resp); err != nil {
				return retry.Permanent(fmt.Errorf("decode response: %w", err))
			}
			return nil
		}

		se := readStatusError(resp)
		if resp.StatusCode == http.StatusUnauthorized {
			return retry.Permanent(fmt.Errorf("%w: %w", ErrUnauthorized, se))
		}
		if se.retryable() {
			return se
		}
		return retry.Permanent(se)
	})
}

func readStatusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	se := &StatusError{Status: resp.StatusCode, Body: string(raw)}
	var payload struct {
		Code string `json:"code"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		se.Code = payload.Code
	}
	return se
}
