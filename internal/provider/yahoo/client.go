package yahoo

import (
	"log/slog"
	"net/http"
	"time"

	"yahooprovider/internal/provider/ratelimit"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=yahoo_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryPolicy bounds the retry loop for transient upstream failures.
// Every knob is configuration so hosts and tests can tune it.
type RetryPolicy struct {
	// MaxAttempts is the total attempt ceiling, first try included.
	MaxAttempts int
	// BackoffBase is the delay before the second attempt.
	BackoffBase time.Duration
	// BackoffMultiplier grows the delay after each failed attempt.
	BackoffMultiplier float64
	// Jitter randomizes each delay within [0.5x, 1.5x].
	Jitter bool
}

// DefaultRetryPolicy matches Yahoo's tolerance for polite clients.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       4,
		BackoffBase:       500 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// Client is a client for the Yahoo Finance chart API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient performs the HTTP requests.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// limiter, when set, gates every HTTP attempt. Shared between
	// clients it becomes the one rate budget for the upstream source.
	limiter ratelimit.Limiter
	logger  *slog.Logger
	retry   RetryPolicy
}

// ClientOption is a configuration option for the Yahoo API client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// WithLimiter sets the shared rate limiter gating upstream attempts.
func WithLimiter(l ratelimit.Limiter) ClientOption {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRetryPolicy sets the retry configuration.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(c *Client) {
		c.retry = p
	}
}

// NewClient creates a new Yahoo Finance API client. The chart API needs
// no key, but it rejects requests without a browser-looking User-Agent.
func NewClient(options ...ClientOption) *Client {
	c := &Client{
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		logger:     slog.Default(),
		retry:      DefaultRetryPolicy(),
	}
	c.header.Set("Accept", "application/json")
	c.header.Set("User-Agent", "Mozilla/5.0 (compatible; yahooprovider/1.0)")
	for _, option := range options {
		option(c)
	}
	return c
}
