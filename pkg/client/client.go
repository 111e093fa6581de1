// Package client provides the resilient Hacker News HTTP client with
// retry, circuit breaking, and error classification.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/hn-best-stories/pkg/circuit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for upstream client operations.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_upstream_requests_total",
		Help: "Total upstream attempts by operation and status",
	}, []string{"operation", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hn_upstream_request_duration_seconds",
		Help:    "Upstream attempt duration in seconds by operation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"operation"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hn_upstream_errors_total",
		Help: "Total upstream attempt errors by class",
	}, []string{"class"})
)

const (
	// OperationIDs labels the best story id list call.
	OperationIDs = "ids"

	// OperationItem labels the per-item call.
	OperationItem = "item"

	// DefaultBaseURL is the public Hacker News API.
	DefaultBaseURL = "https://hacker-news.firebaseio.com/v0/"

	bestStoriesPath = "beststories.json"
	maxBodyBytes    = 1 << 20
)

// Item is a Hacker News item as returned by item/{id}.json.
type Item struct {
	ID          int    `json:"id"`
	Title       string `json:"title,omitempty"`
	URL         string `json:"url,omitempty"`
	By          string `json:"by,omitempty"`
	Time        int64  `json:"time"`
	Score       int    `json:"score"`
	Descendants int    `json:"descendants"`
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the API, e.g. "https://hacker-news.firebaseio.com/v0/".
	BaseURL string

	// User-Agent header sent with every request.
	UserAgent string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// Retry policy shared by both operations.
	Retry RetryConfig

	// Breaker template; each operation gets its own breaker named after it.
	Breaker circuit.Config
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		UserAgent: userAgent,
		Timeout:   30 * time.Second,
		Retry:     DefaultRetryConfig(),
		Breaker:   circuit.DefaultConfig(""),
	}
}

// Client calls the upstream API. Each operation has its own breaker.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	breakers   map[string]*circuit.Breaker
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http(s), got %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.Retry = cfg.Retry.withDefaults()

	c := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		config:     cfg,
		logger:     logger.With().Str("component", "hn-client").Logger(),
	}

	c.breakers = make(map[string]*circuit.Breaker, 2)
	for _, op := range []string{OperationIDs, OperationItem} {
		bc := cfg.Breaker
		bc.Name = op
		bc.IsFailure = countsAsFailure
		bc.OnStateChange = c.logStateChange
		c.breakers[op] = circuit.New(bc)
	}

	return c, nil
}

// FetchBestStoryIDs returns the ranked best story ids.
func (c *Client) FetchBestStoryIDs(ctx context.Context) ([]int, error) {
	var ids []int
	err := c.call(ctx, OperationIDs, func(ctx context.Context) error {
		ids = nil
		found, err := c.getJSON(ctx, OperationIDs, &ids, bestStoriesPath)
		if err != nil {
			return err
		}
		if !found {
			return &UpstreamError{
				Operation:  OperationIDs,
				StatusCode: http.StatusNotFound,
				ErrorClass: ErrorClassClient,
				Message:    "best stories list not found",
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// FetchItem returns the item with the given id, or nil without error when
// the upstream reports it as not found.
func (c *Client) FetchItem(ctx context.Context, id int) (*Item, error) {
	var item *Item
	err := c.call(ctx, OperationItem, func(ctx context.Context) error {
		var decoded Item
		found, err := c.getJSON(ctx, OperationItem, &decoded, "item", strconv.Itoa(id)+".json")
		if err != nil {
			return err
		}
		item = nil
		if found {
			item = &decoded
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// CircuitState returns the breaker state of an operation.
func (c *Client) CircuitState(operation string) circuit.State {
	if b, ok := c.breakers[operation]; ok {
		return b.State()
	}
	return circuit.Closed
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// call runs fn through the operation's breaker and the retry loop. A retry
// sequence that ends in failure counts as one breaker failure.
func (c *Client) call(ctx context.Context, op string, fn func(context.Context) error) error {
	err := c.breakers[op].Execute(func() error {
		return c.retryWithBackoff(ctx, op, fn)
	})
	if errors.Is(err, circuit.ErrOpen) {
		c.logger.Debug().Str("operation", op).Msg("Request short-circuited")
		upstreamRequestsTotal.WithLabelValues(op, "circuit_open").Inc()
		return fmt.Errorf("%w: %s", ErrCircuitOpen, op)
	}
	return err
}

// getJSON performs one GET attempt and decodes the body into out.
// found is false for a 404 or a literal null body.
func (c *Client) getJSON(ctx context.Context, op string, out any, path ...string) (bool, error) {
	endpoint := c.baseURL.JoinPath(path...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	upstreamRequestDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())
	if err != nil {
		errClass := classify(err)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		upstreamRequestsTotal.WithLabelValues(op, string(errClass)).Inc()
		return false, &UpstreamError{
			Operation:  op,
			ErrorClass: errClass,
			Message:    "request failed",
			Err:        err,
		}
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errClass := ErrorClassServer
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			errClass = ErrorClassClient
		}
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Debug().
			Str("operation", op).
			Str("url", endpoint.String()).
			Int("status", resp.StatusCode).
			Msg("Upstream returned error status")
		return false, &UpstreamError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		errClass := classify(err)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		return false, &UpstreamError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    "read body",
			Err:        err,
		}
	}

	body = bytes.TrimSpace(body)
	if bytes.Equal(body, []byte("null")) {
		return false, nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassPayload)).Inc()
		return false, &UpstreamError{
			Operation:  op,
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassPayload,
			Message:    "malformed payload",
			Err:        err,
		}
	}
	return true, nil
}

func (c *Client) logStateChange(name string, from, to circuit.State) {
	event := c.logger.Warn()
	if to == circuit.Closed {
		event = c.logger.Info()
	}
	event.
		Str("operation", name).
		Stringer("from", from).
		Stringer("to", to).
		Msg("Circuit state changed")
}
