// Package origin talks to the authentication origin over HTTP. It is a
// thin fetch layer: endpoints are hit, bodies are decoded and
// normalized, and that is all. Session interpretation, caching, and
// cross-context coordination live above it.
package origin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// DefaultBaseURL is used when no base URL is configured anywhere.
const DefaultBaseURL = "http://localhost:3000/api/auth"

// EnvBaseURL is the environment variable consulted when Config.BaseURL
// is empty.
const EnvBaseURL = "AUTHSYNC_URL"

// Config configures a Client.
type Config struct {
	// BaseURL is the auth origin's API root, e.g.
	// "https://app.example.com/api/auth". When empty, EnvBaseURL is
	// consulted; if that is also unset the client falls back to
	// DefaultBaseURL and logs a configuration warning.
	BaseURL string

	// HTTPClient overrides the transport.
	// Default: an http.Client with a 10 second timeout.
	HTTPClient *http.Client
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithTracing wraps every origin request in an OpenTelemetry span using
// the named tracer from the global tracer provider.
func WithTracing(tracerName string) Option {
	return func(c *Client) {
		c.tracer = otel.Tracer(tracerName)
	}
}

// Client fetches session state from and posts auth actions to the
// origin. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
	tracer  trace.Tracer

	mu        sync.Mutex
	csrfToken string
}

// FetchError describes a failed origin request.
type FetchError struct {
	// Endpoint is the path that was hit, relative to the base URL.
	Endpoint string

	// Status is the HTTP status code, or 0 when the request never
	// produced a response.
	Status int

	// Err is the underlying transport or decode error, if any.
	Err error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("origin %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("origin %s: unexpected status %d", e.Endpoint, e.Status)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewClient creates an origin client.
func NewClient(config Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "origin")

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv(EnvBaseURL)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
		logger.Warn("no auth origin configured, falling back to default",
			"env", EnvBaseURL,
			"base_url", DefaultBaseURL)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	c := &Client{
		baseURL: baseURL,
		http:    httpClient,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the resolved origin root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Session fetches the current session document. Returns (nil, nil) when
// the origin reports no active session: an empty body, an empty JSON
// object, or JSON null all normalize to nil.
func (c *Client) Session(ctx context.Context) (json.RawMessage, error) {
	body, err := c.get(ctx, "/session")
	if err != nil {
		return nil, err
	}
	return NormalizeSession(body), nil
}

// csrfResponse is the /csrf endpoint's body.
type csrfResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// CSRF returns the origin's CSRF token, fetching it on first use and
// caching it for the lifetime of the client.
func (c *Client) CSRF(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.csrfToken
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	return c.refreshCSRF(ctx)
}

// refreshCSRF fetches a fresh token, replacing the cache.
func (c *Client) refreshCSRF(ctx context.Context) (string, error) {
	body, err := c.get(ctx, "/csrf")
	if err != nil {
		return "", err
	}
	var parsed csrfResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &FetchError{Endpoint: "/csrf", Err: err}
	}

	c.mu.Lock()
	c.csrfToken = parsed.CSRFToken
	c.mu.Unlock()
	return parsed.CSRFToken, nil
}

// Provider describes one sign-in provider published by the origin.
type Provider struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	SignInURL   string `json:"signinUrl"`
	CallbackURL string `json:"callbackUrl"`
}

// Providers fetches the provider registry keyed by provider ID.
func (c *Client) Providers(ctx context.Context) (map[string]Provider, error) {
	body, err := c.get(ctx, "/providers")
	if err != nil {
		return nil, err
	}
	var providers map[string]Provider
	if err := json.Unmarshal(body, &providers); err != nil {
		return nil, &FetchError{Endpoint: "/providers", Err: err}
	}
	return providers, nil
}

// SignInResult reports the origin's answer to a sign-in post.
type SignInResult struct {
	// URL is where the origin wants the user to go next.
	URL string

	// OK is true when the origin accepted the credentials.
	OK bool

	// Status is the HTTP status code of the response.
	Status int
}

// SignIn posts credentials for the given provider. fields may be nil.
// The CSRF token is attached automatically; on a stale-token response
// the token is refreshed and the post retried once.
func (c *Client) SignIn(ctx context.Context, provider string, fields url.Values) (SignInResult, error) {
	endpoint := "/signin/" + url.PathEscape(provider)

	form := url.Values{}
	for k, vs := range fields {
		form[k] = vs
	}
	form.Set("json", "true")

	res, err := c.postForm(ctx, endpoint, form)
	if err != nil {
		return SignInResult{}, err
	}
	return SignInResult{
		URL:    res.URL,
		OK:     res.Status >= 200 && res.Status < 300,
		Status: res.Status,
	}, nil
}

// SignOut posts a sign-out and returns the origin's redirect URL. The
// caller clears local state regardless of whether this call succeeds.
func (c *Client) SignOut(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("json", "true")

	res, err := c.postForm(ctx, "/signout", form)
	if err != nil {
		return "", err
	}
	if res.Status < 200 || res.Status >= 300 {
		return "", &FetchError{Endpoint: "/signout", Status: res.Status}
	}
	return res.URL, nil
}

// postResult is the decoded body of a form post.
type postResult struct {
	URL    string `json:"url"`
	Status int    `json:"-"`
}

// postForm posts a CSRF-protected form and decodes the JSON answer.
// A 403 is treated as a stale CSRF token: refresh and retry once.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (postResult, error) {
	token, err := c.CSRF(ctx)
	if err != nil {
		return postResult{}, err
	}

	for attempt := 0; ; attempt++ {
		form.Set("csrfToken", token)

		status, body, err := c.do(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return postResult{}, err
		}

		if status == http.StatusForbidden && attempt == 0 {
			if token, err = c.refreshCSRF(ctx); err != nil {
				return postResult{}, err
			}
			continue
		}

		res := postResult{Status: status}
		if len(body) > 0 {
			// Bodies without a url field decode to an empty URL, which
			// callers treat as "stay where you are".
			if err := json.Unmarshal(body, &res); err != nil {
				c.logger.Debug("undecodable post response", "endpoint", endpoint, "error", err)
			}
			res.Status = status
		}
		return res, nil
	}
}

// get fetches an endpoint and returns the body for 200 responses.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	status, body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &FetchError{Endpoint: endpoint, Status: status}
	}
	return body, nil
}

// do executes one request against the origin, tracing it when a tracer
// is configured.
func (c *Client) do(ctx context.Context, method, endpoint string, body io.Reader) (int, []byte, error) {
	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, "origin "+method+" "+endpoint,
			trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, body)
	if err != nil {
		return 0, nil, &FetchError{Endpoint: endpoint, Err: err}
	}
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, &FetchError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, &FetchError{Endpoint: endpoint, Status: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, data, nil
}

// NormalizeSession maps the origin's ways of saying "no session" (empty
// body, JSON null, empty object) to nil, and returns anything else
// verbatim.
func NormalizeSession(body []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return nil
	}
	return json.RawMessage(trimmed)
}
