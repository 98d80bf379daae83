// Package httpclient is the context-aware HTTP client used to talk to the
// maintenance backend REST API.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mainthub/notifier/internal/errors"
)

const (
	// DefaultTimeout applies when the request context has no deadline.
	DefaultTimeout = 15 * time.Second

	defaultMaxIdleConnsPerHost   = 4
	defaultIdleConnTimeout       = 90 * time.Second
	defaultTLSHandshakeTimeout   = 10 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultDialTimeout           = 10 * time.Second
	defaultDialKeepAlive         = 30 * time.Second

	defaultUserAgent = "mainthub-notifier"
)

// Client wraps http.Client with a base URL, per-request default timeouts and
// observability hooks. Safe for concurrent use.
type Client struct {
	client         *http.Client
	baseURL        *url.URL
	defaultTimeout time.Duration
	userAgent      string

	hookMu        sync.RWMutex
	beforeRequest func(*http.Request)
	afterResponse func(*http.Request, *http.Response, error, time.Duration)
}

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL is prepended to relative request paths, e.g. http://host:8089/api
	BaseURL string

	// DefaultTimeout applies when the request context has no deadline
	DefaultTimeout time.Duration

	UserAgent string

	MaxIdleConnsPerHost int

	// Transport overrides the tuned default transport
	Transport http.RoundTripper
}

// DefaultConfig returns a Config with production defaults and no base URL.
func DefaultConfig() Config {
	return Config{
		DefaultTimeout:      DefaultTimeout,
		UserAgent:           defaultUserAgent,
		MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
	}
}

// New creates a Client. A nil cfg uses DefaultConfig; zero fields fall back
// to defaults. The caller's config is not mutated.
func New(cfg *Config) (*Client, error) {
	c := DefaultConfig()
	if cfg != nil {
		c.BaseURL = cfg.BaseURL
		c.Transport = cfg.Transport
		if cfg.DefaultTimeout > 0 {
			c.DefaultTimeout = cfg.DefaultTimeout
		}
		if cfg.UserAgent != "" {
			c.UserAgent = cfg.UserAgent
		}
		if cfg.MaxIdleConnsPerHost > 0 {
			c.MaxIdleConnsPerHost = cfg.MaxIdleConnsPerHost
		}
	}

	var base *url.URL
	if c.BaseURL != "" {
		u, err := url.Parse(strings.TrimRight(c.BaseURL, "/") + "/")
		if err != nil {
			return nil, errors.New(err).
				Component("httpclient").
				Category(errors.CategoryConfiguration).
				Context("operation", "parse_base_url").
				Build()
		}
		base = u
	}

	transport := c.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   defaultDialTimeout,
				KeepAlive: defaultDialKeepAlive,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConnsPerHost:   c.MaxIdleConnsPerHost,
			IdleConnTimeout:       defaultIdleConnTimeout,
			TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
			ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		}
	}

	return &Client{
		client:         &http.Client{Transport: transport},
		baseURL:        base,
		defaultTimeout: c.DefaultTimeout,
		userAgent:      c.UserAgent,
	}, nil
}

// HTTPClient exposes the underlying client, e.g. for httpmock.ActivateNonDefault.
func (c *Client) HTTPClient() *http.Client {
	return c.client
}

// ResolveURL joins a relative path onto the base URL. Absolute URLs pass through.
func (c *Client) ResolveURL(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", errors.New(err).
			Component("httpclient").
			Category(errors.CategoryValidation).
			Context("operation", "resolve_url").
			Build()
	}
	if ref.IsAbs() || c.baseURL == nil {
		return ref.String(), nil
	}
	return c.baseURL.ResolveReference(&url.URL{Path: strings.TrimLeft(ref.Path, "/"), RawQuery: ref.RawQuery}).String(), nil
}

// Do executes req. When ctx has no deadline the default timeout applies.
// The response body must be closed by the caller if err is nil.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.Newf("nil request").Component("httpclient").Category(errors.CategoryValidation).Build()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.defaultTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		// the body outlives Do; release the timer when the body is closed
		req = req.WithContext(ctx)
		resp, err := c.do(req)
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}

	return c.do(req.WithContext(ctx))
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	c.hookMu.RLock()
	before, after := c.beforeRequest, c.afterResponse
	c.hookMu.RUnlock()

	if before != nil {
		before(req)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if after != nil {
		after(req, resp, err, time.Since(start))
	}

	if err != nil {
		return nil, errors.New(err).
			Component("httpclient").
			Category(errors.CategoryNetwork).
			NetworkContext(req.URL.String(), c.defaultTimeout).
			Context("method", req.Method).
			Build()
	}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	defer b.cancel()
	return b.ReadCloser.Close()
}

// Get performs a GET request against path, relative to the base URL.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	target, err := c.ResolveURL(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, errors.New(err).Component("httpclient").Category(errors.CategoryHTTP).Build()
	}
	req.Header.Set("Accept", "application/json")
	return c.Do(ctx, req)
}

// PostJSON marshals body to JSON and POSTs it to path.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	target, err := c.ResolveURL(path)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, errors.New(err).
			Component("httpclient").
			Category(errors.CategoryPayload).
			Context("operation", "marshal_body").
			Build()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, errors.New(err).Component("httpclient").Category(errors.CategoryHTTP).Build()
	}
	req.Header.Set("Content-Type", "application/json")
	return c.Do(ctx, req)
}

// SetBeforeRequestHook sets a function called before each request.
func (c *Client) SetBeforeRequestHook(fn func(*http.Request)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.beforeRequest = fn
}

// SetAfterResponseHook sets a function called after each request with its latency.
func (c *Client) SetAfterResponseHook(fn func(*http.Request, *http.Response, error, time.Duration)) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.afterResponse = fn
}

// Close closes idle connections in the pool.
func (c *Client) Close() {
	c.client.CloseIdleConnections()
}
