package account

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/jmcleod/gw2link/httpclient"
)

// RetryPolicy bounds how often a raw GET is repeated on recoverable statuses.
type RetryPolicy struct {
	// Attempts is the total number of requests, including the first.
	Attempts int
	// Delay is the pause before the first retry. Zero retries immediately.
	Delay time.Duration
	// Multiplier grows Delay after each retry. Values <= 1 keep it fixed.
	Multiplier float64
}

// DefaultRetryPolicy makes five attempts without delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 5}
}

func (p RetryPolicy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// backoff returns the pause before retry n (1-based).
func (p RetryPolicy) backoff(n int) time.Duration {
	d := p.Delay
	if p.Multiplier > 1 {
		for i := 1; i < n; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
		}
	}
	return d
}

// recoverable reports whether a response is worth retrying. The API answers
// 502/504 under load and sometimes a 400 carrying ErrTimeout.
func recoverable(resp *httpclient.Response) bool {
	switch resp.Status {
	case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	case http.StatusBadRequest:
		return errorText(resp.Body) == textTimeout
	}
	return false
}

// get issues a GET against the API with the retry policy applied. Transport
// errors are returned immediately; after the last attempt the last response
// is returned whatever its status.
func (c *Client) get(ctx context.Context, path string, query url.Values) (*httpclient.Response, error) {
	var resp *httpclient.Response
	attempts := c.retry.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		var err error
		resp, err = c.http.Get(ctx, c.baseURL+path, query)
		if err != nil {
			return nil, err
		}
		c.logStatus(path, resp)
		if !recoverable(resp) || attempt == attempts {
			return resp, nil
		}

		if d := c.retry.backoff(attempt); d > 0 {
			select {
			case <-ctx.Done():
				return resp, nil
			case <-time.After(d):
			}
		}
	}
	return resp, nil
}

func (c *Client) logStatus(path string, resp *httpclient.Response) {
	switch resp.Status {
	case http.StatusOK, http.StatusPartialContent:
	case http.StatusBadRequest:
		c.logger.Warn("bad request", "path", path, "text", errorText(resp.Body))
	case http.StatusNotFound:
		c.logger.Error("not found", "path", path)
	case http.StatusRequestTimeout:
		c.logger.Warn("request timeout", "path", path)
	case http.StatusBadGateway:
		c.logger.Warn("bad gateway", "path", path)
	case http.StatusGatewayTimeout:
		c.logger.Warn("gateway timeout", "path", path)
	default:
		c.logger.Error("unexpected status", "path", path, "status", resp.Status, "body", truncate(resp.Body, 256))
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
