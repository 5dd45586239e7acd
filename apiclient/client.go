// Package apiclient performs authenticated JSON calls against an external API
// on behalf of one credential.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/tenant-insights/internal/errors"
	"github.com/jrsteele09/tenant-insights/internal/logging"
	"github.com/jrsteele09/tenant-insights/internal/metrics"
	"github.com/jrsteele09/tenant-insights/token"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

// Client sends requests to BaseURL with a bearer token from the token source.
type Client struct {
	name       string
	baseURL    string
	credential token.Credential
	tokens     token.Source
	httpClient *http.Client
	limiter    *rate.Limiter
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

type Option func(*Client)

// WithName labels the client in metrics and logs, e.g. "identity" or "rmm".
func WithName(name string) Option {
	return func(c *Client) {
		c.name = name
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit caps outbound requests per second; burst defaults to one second's worth.
func WithRateLimit(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

func New(baseURL string, cred token.Credential, tokens token.Source, options ...Option) *Client {
	c := &Client{
		name:       "external",
		baseURL:    strings.TrimRight(baseURL, "/"),
		credential: cred,
		tokens:     tokens,
		logger:     logging.Component("apiclient"),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return c
}

func (c *Client) Name() string { return c.name }

func (c *Client) Credential() token.Credential { return c.credential }

// Do sends a request and decodes a JSON response into T. A 204 response
// returns (nil, nil): the call succeeded but there is no value.
func Do[T any](ctx context.Context, c *Client, method, path string, body interface{}) (*T, error) {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("[Client Do] failed to decode %s response: %w", path, err)
	}
	return &out, nil
}

// Get is Do with GET and no body.
func Get[T any](ctx context.Context, c *Client, path string) (*T, error) {
	return Do[T](ctx, c, http.MethodGet, path, nil)
}

// Action sends a request whose response body, if any, is discarded.
func (c *Client) Action(ctx context.Context, method, path string, body interface{}) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

func (c *Client) send(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, c.classify(path, err)
		}
	}

	tok, err := c.tokens.GetToken(ctx, c.credential)
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("[Client send] failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.resolve(path), reader)
	if err != nil {
		return nil, fmt.Errorf("[Client send] failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		err = c.classify(path, err)
		outcome := "error"
		if errors.IsTimeout(err) {
			outcome = "timeout"
		}
		c.metrics.ExternalRequest(c.name, outcome, elapsed)
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.metrics.ExternalRequest(c.name, "api_error", elapsed)
		c.logger.Debug().Str("api", c.name).Str("path", path).Int("status", resp.StatusCode).Msg("external request failed")
		return nil, &errors.APIError{Path: path, Status: resp.StatusCode, Body: string(raw)}
	}

	outcome := "ok"
	if resp.StatusCode == http.StatusNoContent {
		outcome = "no_content"
	}
	c.metrics.ExternalRequest(c.name, outcome, elapsed)
	return resp, nil
}

// resolve joins path to the base URL unless path is already absolute, as
// with server-provided next-page links.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "https://") || strings.HasPrefix(path, "http://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) classify(path string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &errors.TimeoutError{Path: path, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &errors.TimeoutError{Path: path, Err: err}
	}
	return fmt.Errorf("[Client send] %s %s: %w", c.name, path, err)
}

// Page is a cursor-paginated request window.
type Page struct {
	PageSize int
	After    string
}

// WithPage appends the page parameters to path.
func WithPage(path string, p Page) string {
	q := url.Values{}
	if p.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(p.PageSize))
	}
	if p.After != "" {
		q.Set("after", p.After)
	}
	if len(q) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}
