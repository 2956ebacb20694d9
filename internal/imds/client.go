// Package imds queries the EC2 instance metadata service.
//
// Plain IMDSv1 requests are tried first; when they are refused the
// token-based IMDSv2 flow is used as a fallback. Every call gets exactly
// one attempt under a short timeout: the metadata service is either on
// the link or it is not, and the caller cannot afford to wait.
package imds

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single metadata call.
	DefaultTimeout = 100 * time.Millisecond

	tokenPath       = "/latest/api/token"
	instanceIDPath  = "/latest/meta-data/instance-id"
	identityDocPath = "/latest/dynamic/instance-identity/document"

	tokenTTLHeader  = "X-aws-ec2-metadata-token-ttl-seconds"
	tokenHeader     = "X-aws-ec2-metadata-token"
	tokenTTLSeconds = "21600"
)

// Client is a minimal HTTP client for the metadata endpoint. It never
// returns errors: transport failures surface as a nil Response and a
// debug log line, since an absent metadata service is an expected
// environment, not a fault.
type Client struct {
	endpoint string
	http     *http.Client
	timeout  time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithEndpoint overrides the metadata service base URL.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = strings.TrimSuffix(endpoint, "/") }
}

// WithTimeout overrides the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a metadata client against the link-local endpoint.
func NewClient(opts ...Option) *Client {
	c := &Client{
		endpoint: "http://169.254.169.254",
		http:     &http.Client{},
		timeout:  DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Response is a fully-read metadata reply. Callers decide usability by
// status band; the client hands back whatever the service said.
type Response struct {
	StatusCode int
	Body       string
}

// OK reports whether the response exists and its status is below 400.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 400
}

// Get issues one GET against path. Returns nil on any transport failure.
func (c *Client) Get(ctx context.Context, path string, headers map[string]string) *Response {
	return c.do(ctx, http.MethodGet, path, headers)
}

// Put issues one PUT against path. Returns nil on any transport failure.
func (c *Client) Put(ctx context.Context, path string, headers map[string]string) *Response {
	return c.do(ctx, http.MethodPut, path, headers)
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string) *Response {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, nil)
	if err != nil {
		slog.Debug("metadata request build failed", "method", method, "path", path, "err", err)
		return nil
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		slog.Debug("metadata request failed", "method", method, "path", path, "err", err)
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Debug("metadata response read failed", "method", method, "path", path, "err", err)
		return nil
	}
	return &Response{StatusCode: resp.StatusCode, Body: string(body)}
}
