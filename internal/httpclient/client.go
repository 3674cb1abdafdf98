// Package httpclient is the outbound HTTP client shared by every source.
// Each request waits on the per-host limiter and then holds a fetch permit
// for the round trip and the body read.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"

	"github.com/JakeFAU/stockcrawler/internal/fetchgate"
	"github.com/JakeFAU/stockcrawler/internal/metrics"
	"github.com/JakeFAU/stockcrawler/internal/policy/ratelimit"
)

// DefaultTimeout bounds a whole request including the body read.
const DefaultTimeout = 60 * time.Second

// Config controls client behavior.
type Config struct {
	Timeout   time.Duration
	UserAgent string
}

// Client performs gated HTTP requests.
type Client struct {
	http      *http.Client
	gate      *fetchgate.Gate
	limiter   *ratelimit.Limiter
	userAgent string
}

// NewTransport returns the pooled transport used by all outbound clients.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       10 * time.Second,
	}
}

// New builds a Client. gate is required; limiter may be nil.
func New(cfg Config, gate *fetchgate.Gate, limiter *ratelimit.Limiter) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:      &http.Client{Timeout: timeout, Transport: NewTransport()},
		gate:      gate,
		limiter:   limiter,
		userAgent: cfg.UserAgent,
	}
}

// Gate returns the fetch gate the client draws permits from.
func (c *Client) Gate() *fetchgate.Gate {
	return c.gate
}

// Limiter returns the per-host limiter, possibly nil.
func (c *Client) Limiter() *ratelimit.Limiter {
	return c.limiter
}

// UserAgent returns the configured User-Agent header.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Text decodes the body from the named charset ("big5", "utf-8", ...).
// An empty charset returns the body unchanged.
func (r Response) Text(charset string) (string, error) {
	if charset == "" {
		return string(r.Body), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	s, _, err := transform.String(enc.NewDecoder(), string(r.Body))
	if err != nil {
		return "", fmt.Errorf("decode %s body: %w", charset, err)
	}
	return s, nil
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.StatusCode)
}

// Get fetches url. A non-2xx status yields the response and a *StatusError.
func (c *Client) Get(ctx context.Context, url string) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	return c.Do(req)
}

// Do sends req through the limiter and the gate.
func (c *Client) Do(req *http.Request) (Response, error) {
	ctx := req.Context()
	url := req.URL.String()
	if err := c.limiter.Wait(ctx, url); err != nil {
		return Response{}, err
	}
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	var out Response
	err := c.gate.Do(ctx, func(context.Context) error {
		resp, err := c.http.Do(req)
		if err != nil {
			metrics.ObserveSourceRequest(url, 0)
			return fmt.Errorf("%s %s: %w", req.Method, url, err)
		}
		defer func() { _ = resp.Body.Close() }()
		metrics.ObserveSourceRequest(url, resp.StatusCode)

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body %s: %w", url, err)
		}
		out = Response{URL: url, StatusCode: resp.StatusCode, Header: resp.Header.Clone(), Body: body}
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	if out.StatusCode < 200 || out.StatusCode > 299 {
		return out, &StatusError{Method: req.Method, URL: url, StatusCode: out.StatusCode}
	}
	return out, nil
}

// GetJSON fetches url and decodes a UTF-8 JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode json from %s: %w", url, err)
	}
	return nil
}

// PostJSON posts body as JSON. The response is decoded into v when v is non-nil.
func (c *Client) PostJSON(ctx context.Context, url string, body, v any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body, v); err != nil {
		return fmt.Errorf("decode json from %s: %w", url, err)
	}
	return nil
}
