// Package notaryapi is the transport for the contract-drafting backend: JSON
// requests, the HTML contract fragment and the streamed chat reply.
package notaryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"notary-chat/internal/domain"
)

const (
	defaultBaseURL     = "http://127.0.0.1:5000"
	defaultTimeout     = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second
	defaultChunkSize   = 4096
	maxBodyBytes       = 4 << 20

	// DefaultSentinel separates streamed text from the trailing context JSON.
	DefaultSentinel = "__contexto_actualizado__"
)

// Request describes one call. Credentials is nil for the unauthenticated
// endpoints.
type Request struct {
	Method      string
	Path        string
	Query       url.Values
	Body        any
	Credentials *domain.Credentials
}

// Client talks to the drafting backend. It never retries; retry policy
// belongs to callers.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
	idleTimeout  time.Duration
	sentinel     string
	chunkSize    int
	log          *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
		c.streamClient = httpClient
	}
}

// WithStreamHTTPClient sets the client used for streaming calls only. It
// should carry no overall timeout; the idle timeout bounds silence instead.
func WithStreamHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.streamClient = httpClient
		}
	}
}

// NewStreamHTTPClient returns a client without an overall timeout whose dial
// and TLS handshake are bounded by connectTimeout.
func NewStreamHTTPClient(connectTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if connectTimeout > 0 {
		transport.DialContext = (&net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}).DialContext
		transport.TLSHandshakeTimeout = connectTimeout
	}
	return &http.Client{Transport: transport}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithIdleTimeout bounds the silence between two stream chunks. Zero
// disables the bound.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.idleTimeout = d
	}
}

func WithSentinel(sentinel string) Option {
	return func(c *Client) {
		if sentinel != "" {
			c.sentinel = sentinel
		}
	}
}

func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("notaryapi: invalid base url %q", baseURL)
	}
	c := &Client{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: defaultTimeout},
		streamClient: &http.Client{},
		idleTimeout:  defaultIdleTimeout,
		sentinel:     DefaultSentinel,
		chunkSize:    defaultChunkSize,
		log:          slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// FetchJSON performs r and decodes the JSON response into out. A nil out
// discards the body.
func (c *Client) FetchJSON(ctx context.Context, r Request, out any) error {
	raw, err := c.fetch(ctx, r, "application/json")
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("notaryapi: decode %s %s: %w", r.Method, r.Path, err)
	}
	return nil
}

// FetchText performs r and returns the raw body, used for the HTML document.
func (c *Client) FetchText(ctx context.Context, r Request) (string, error) {
	raw, err := c.fetch(ctx, r, "text/html")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (c *Client) fetch(ctx context.Context, r Request, accept string) ([]byte, error) {
	req, target, err := c.newRequest(ctx, r)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)

	start := time.Now()
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, &TransportError{Op: r.Method + " " + r.Path, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	c.log.Debug("notaryapi request", "method", r.Method, "path", r.Path, "status", res.StatusCode, "elapsed", time.Since(start))

	if err := checkStatus(res, target); err != nil {
		return nil, err
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Op: "read " + r.Path, Err: err}
	}
	return buf, nil
}

func (c *Client) newRequest(ctx context.Context, r Request) (*http.Request, string, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	target := c.baseURL + "/" + strings.TrimLeft(r.Path, "/")
	if len(r.Query) > 0 {
		target += "?" + r.Query.Encode()
	}

	var body io.Reader
	if r.Body != nil {
		buf, err := json.Marshal(r.Body)
		if err != nil {
			return nil, "", fmt.Errorf("notaryapi: marshal request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, "", fmt.Errorf("notaryapi: create request: %w", err)
	}
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.Credentials != nil {
		if !r.Credentials.Valid() {
			return nil, "", fmt.Errorf("notaryapi: %s %s: %w: missing credentials", method, r.Path, ErrUnauthorized)
		}
		req.Header.Set("Authorization", r.Credentials.AuthorizationHeader())
	}
	return req, target, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c *Client) resolvedStreamClient() *http.Client {
	if c.streamClient != nil {
		return c.streamClient
	}
	return &http.Client{}
}

func checkStatus(res *http.Response, target string) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return &StatusError{
		StatusCode: res.StatusCode,
		URL:        target,
		Message:    errorMessage(buf),
		Body:       string(buf),
	}
}

// IsTransport reports whether err is a network-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
