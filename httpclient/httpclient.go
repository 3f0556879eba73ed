// Package httpclient provides a persistent HTTP client with shared default
// headers and the 202/Location redirect protocol used by the account API.
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/jmcleod/gw2link/internal/apperr"
)

const (
	// DefaultUserAgent is sent when no user agent option is given.
	DefaultUserAgent = "gw2link/1.0.0"
	// DefaultTimeout bounds one logical Request, redirects included.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRedirects bounds the 202/Location loop.
	DefaultMaxRedirects = 10
)

// ErrTooManyRedirects is returned when the 202/Location chain exceeds the configured bound.
var ErrTooManyRedirects = errors.New("too many 202 redirects")

// Response is the outcome of one logical request.
type Response struct {
	Status int
	Body   []byte
	// URL is the resolved URL of the last request issued.
	URL string
}

// Client issues requests with a shared set of default headers.
type Client struct {
	http         *http.Client
	userAgent    string
	verifyTLS    bool
	timeout      time.Duration
	maxRedirects int
	transport    http.RoundTripper
	logger       *slog.Logger

	mu      sync.RWMutex
	headers map[string]string
}

// Option configures a Client.
type Option func(*Client)

// WithUserAgent sets the User-Agent header sent on every request.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithTLSVerification toggles certificate validation. Disabling it still
// negotiates TLS; only the certificate chain check is skipped.
func WithTLSVerification(enabled bool) Option {
	return func(c *Client) {
		c.verifyTLS = enabled
	}
}

// WithTimeout sets the per-request timeout. Requests exceeding it are
// reported as status 408.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithMaxRedirects bounds how many 202/Location hops one Request follows.
func WithMaxRedirects(n int) Option {
	return func(c *Client) {
		c.maxRedirects = n
	}
}

// WithTransport overrides the underlying round tripper. The TLS verification
// option is ignored when a transport is supplied.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a Client. TLS verification is enabled unless disabled explicitly.
func New(opts ...Option) *Client {
	c := &Client{
		userAgent:    DefaultUserAgent,
		verifyTLS:    true,
		timeout:      DefaultTimeout,
		maxRedirects: DefaultMaxRedirects,
		headers:      make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "httpclient")

	rt := c.transport
	if rt == nil {
		t := http.DefaultTransport.(*http.Transport).Clone()
		if !c.verifyTLS {
			t.TLSClientConfig = &tls.Config{
				InsecureSkipVerify: true,
				MinVersion:         tls.VersionTLS12,
			}
		}
		rt = t
	}
	c.http = &http.Client{Transport: rt}
	c.headers["User-Agent"] = c.userAgent
	return c
}

// UpdateHeaders merges headers into the default header set used by every
// subsequent request.
func (c *Client) UpdateHeaders(headers map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	maps.Copy(c.headers, headers)
}

// RemoveHeader drops name from the default header set.
func (c *Client) RemoveHeader(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.headers, name)
}

// Header returns the current default value of a header.
func (c *Client) Header(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.headers[name]
}

// Get is shorthand for Request with GET and no body.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values) (*Response, error) {
	return c.Request(ctx, http.MethodGet, rawURL, query, nil)
}

// Request issues method against rawURL and follows 202/Location redirects as
// GETs carrying a Referer of the previous resolved URL. A timeout yields a
// Response with status 408 and no body; other transport failures are
// returned as errors.
func (c *Client) Request(ctx context.Context, method, rawURL string, query url.Values, body io.Reader) (*Response, error) {
	headers := c.snapshotHeaders()

	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindProtocol, "request", "parsing url", err)
	}
	if len(query) > 0 {
		q := target.Query()
		for k, vs := range query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}

	reqCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	for hop := 0; ; hop++ {
		if hop > c.maxRedirects {
			return nil, apperr.Wrap(apperr.KindProtocol, "request", target.String(), ErrTooManyRedirects)
		}

		status, respBody, location, resolved, err := c.do(reqCtx, method, target, headers, body)
		if err != nil {
			if ctx.Err() == nil && isTimeout(reqCtx, err) {
				c.logger.Warn("request timed out", "method", method, "url", target.String())
				return &Response{Status: http.StatusRequestTimeout, URL: target.String()}, nil
			}
			return nil, apperr.Wrap(apperr.KindTransport, "request", fmt.Sprintf("%s %s", method, target), err)
		}

		if status != http.StatusAccepted || location == "" {
			return &Response{Status: status, Body: respBody, URL: resolved.String()}, nil
		}

		next, err := resolved.Parse(location)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindProtocol, "request", "parsing Location header", err)
		}
		c.logger.Debug("following 202 redirect", "from", resolved.String(), "to", next.String())
		headers["Referer"] = resolved.String()
		method = http.MethodGet
		body = nil
		target = next
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// snapshotHeaders copies the default headers for one logical request and
// drops any Referer left behind by earlier calls.
func (c *Client) snapshotHeaders() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.headers, "Referer")
	return maps.Clone(c.headers)
}

func (c *Client) do(ctx context.Context, method string, target *url.URL, headers map[string]string, body io.Reader) (int, []byte, string, *url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return 0, nil, "", nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, "", nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, "", nil, err
	}

	resolved := target
	if resp.Request != nil && resp.Request.URL != nil {
		resolved = resp.Request.URL
	}
	return resp.StatusCode, data, resp.Header.Get("Location"), resolved, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
