// Package httpx is the REST transport used by pkg/provider to call the
// CycleCloud cluster API: a context.Context-bound *http.Client with
// status-range-based outcome classification, generalized from a
// boolean health probe to a JSON request/response round trip, with
// retry composed from pkg/errs.RetryQuadratic rather than a second
// retry dependency.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cyclecloud/azslurmd/pkg/errs"
)

// Client is a small JSON-over-HTTP client bound to a CycleCloud cluster
// API base URL.
type Client struct {
	BaseURL    string
	Username   string
	Password   string
	HTTPClient *http.Client
	Attempts   int
}

// New returns a Client with a default 30s connect/read timeout and a
// 5-attempt quadratic retry policy.
func New(baseURL, username, password string) *Client {
	return &Client{
		BaseURL:  baseURL,
		Username: username,
		Password: password,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		Attempts: 5,
	}
}

// Do performs method against path (relative to BaseURL), marshaling body
// (if non-nil) as the JSON request payload and unmarshaling the response
// into out (if non-nil). 5xx responses and transport errors are
// classified Unavailable and retried per RetryQuadratic; 4xx responses
// are classified InvalidState and never retried.
func (c *Client) Do(ctx context.Context, method, path string, body, out any) error {
	return errs.RetryQuadratic(ctx, c.Attempts, func() error {
		return c.doOnce(ctx, method, path, body, out)
	})
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errs.Wrap(errs.InvalidState, "marshaling request body", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reqBody)
	if err != nil {
		return errs.Wrap(errs.InvalidState, "building request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Username != "" {
		req.SetBasicAuth(c.Username, c.Password)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.Unavailable, fmt.Sprintf("%s %s", method, path), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.Unavailable, "reading response body", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return errs.New(errs.Unavailable, fmt.Sprintf("%s %s: %d %s", method, path, resp.StatusCode, string(respBody)))
	case resp.StatusCode >= 400:
		return errs.New(errs.InvalidState, fmt.Sprintf("%s %s: %d %s", method, path, resp.StatusCode, string(respBody)))
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return errs.Wrap(errs.InvalidState, "decoding response body", err)
		}
	}
	return nil
}
