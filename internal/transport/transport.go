// Package transport sends a user query to the chat backend and extracts the
// bot's textual reply.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/sony/gobreaker"
	"github.com/tidwall/gjson"

	"github.com/comigor/chatbox-go/internal/config"
	"github.com/comigor/chatbox-go/internal/logger"
)

// maxBodyPreview bounds how much of a bad body is kept on a ProtocolError.
const maxBodyPreview = 256

// Fetcher is the subset of Client the session and view depend on; it is easy
// to mock in tests.
type Fetcher interface {
	FetchChatResponse(ctx context.Context, query string) (string, error)
}

// Client is a client for the chat backend HTTP API
type Client struct {
	endpoint   string
	queryParam string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// NewClient creates a new Client from the transport configuration
func NewClient(cfg config.TransportConfig, opts ...Option) (*Client, error) {
	endpoint, err := joinEndpoint(cfg.BaseURL, cfg.Path)
	if err != nil {
		return nil, err
	}
	queryParam := cfg.QueryParam
	if queryParam == "" {
		queryParam = "query"
	}

	c := &Client{
		endpoint:   endpoint,
		queryParam: queryParam,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.Breaker.Enabled {
		c.breaker = newBreaker(cfg.Breaker)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func joinEndpoint(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("base url %q is not absolute", base)
	}
	if path == "" {
		path = "/chat/"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = ""
	return u.String(), nil
}

func newBreaker(cfg config.BreakerConfig) *gobreaker.CircuitBreaker {
	maxFailures := cfg.MaxFailures
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chat-backend",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// cancellation says nothing about backend health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.L.Warn("circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// Endpoint returns the URL queries are sent to, without the query string.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// FetchChatResponse performs a single GET with query as a query-string
// parameter and returns the "response" field of the JSON body. There are no
// retries and no caching.
func (c *Client) FetchChatResponse(ctx context.Context, query string) (string, error) {
	if c.breaker == nil {
		return c.fetch(ctx, query)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetch(ctx, query)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &NetworkError{Op: http.MethodGet, URL: c.endpoint, Err: fmt.Errorf("%w: %v", ErrCircuitOpen, err)}
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (c *Client) fetch(ctx context.Context, query string) (string, error) {
	params := url.Values{}
	params.Set(c.queryParam, query)
	reqURL := c.endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	logger.L.Debug("chat request", "url", c.endpoint, "query_len", len(query))
	resp, err := c.client.Do(req)
	if err != nil {
		return "", &NetworkError{Op: http.MethodGet, URL: c.endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NetworkError{Op: "read body", URL: c.endpoint, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.L.Warn("chat backend returned error status", "status", resp.StatusCode)
		return "", &ProtocolError{StatusCode: resp.StatusCode, Reason: resp.Status, Body: preview(body)}
	}

	text, err := extractResponse(body)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			perr.StatusCode = resp.StatusCode
		}
		logger.L.Warn("malformed chat response", "error", err)
		return "", err
	}
	logger.L.Debug("chat response", "status", resp.StatusCode, "response_len", len(text))
	return text, nil
}

// extractResponse validates the body shape explicitly instead of trusting
// the field to exist.
func extractResponse(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", &ProtocolError{Reason: "body is not valid JSON", Body: preview(body)}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return "", &ProtocolError{Reason: "body is not a JSON object", Body: preview(body)}
	}
	field := root.Get("response")
	if !field.Exists() {
		return "", &ProtocolError{Reason: `missing "response" field`, Body: preview(body)}
	}
	if field.Type != gjson.String {
		return "", &ProtocolError{Reason: fmt.Sprintf(`"response" field is %s, want string`, field.Type), Body: preview(body)}
	}
	return field.String(), nil
}

// preview truncates body without splitting a UTF-8 sequence.
func preview(body []byte) string {
	if len(body) <= maxBodyPreview {
		return string(body)
	}
	cut := maxBodyPreview
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return string(body[:cut])
}
