// Package registry fetches publication pages from the Amtsblattportal
// export API.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/eunmann/shab-cache/pkg/publication"
)

// DefaultBaseURL is the XML export endpoint of the Amtsblattportal.
const DefaultBaseURL = "https://amtsblattportal.ch/api/v1/publications/xml"

// Config configures the registry client.
type Config struct {
	// BaseURL is the export endpoint. Default: DefaultBaseURL.
	BaseURL string

	// PageSize is the number of publications requested per page.
	// Default: 3000.
	PageSize int

	// Timeout bounds a single HTTP attempt. Default: 30s.
	Timeout time.Duration

	// RetryMax is the number of retries after the first attempt.
	// Default: 5.
	RetryMax int

	// RetryWaitMin and RetryWaitMax bound the exponential backoff.
	// Defaults: 1s and 30s.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64
}

// DefaultConfig returns the settings used against the public API.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		PageSize:          3000,
		Timeout:           30 * time.Second,
		RetryMax:          5,
		RetryWaitMin:      time.Second,
		RetryWaitMax:      30 * time.Second,
		RequestsPerSecond: 2,
	}
}

// StatusError is returned when the API answers with a non-success status
// after retries are exhausted.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("registry returned HTTP %d for %s", e.Code, e.URL)
}

// Client is a paced, retrying client for the export API. One Client is meant
// to be reused for a whole reconciliation run so connections are shared.
type Client struct {
	cfg     Config
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

// NewClient creates a Client, filling zero fields of cfg from DefaultConfig.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = def.RetryMax
	}
	if cfg.RetryWaitMin <= 0 {
		cfg.RetryWaitMin = def.RetryWaitMin
	}
	if cfg.RetryWaitMax <= 0 {
		cfg.RetryWaitMax = def.RetryWaitMax
	}

	hc := retryablehttp.NewClient()
	hc.HTTPClient.Timeout = cfg.Timeout
	hc.RetryMax = cfg.RetryMax
	hc.RetryWaitMin = cfg.RetryWaitMin
	hc.RetryWaitMax = cfg.RetryWaitMax
	hc.CheckRetry = retryPolicy
	hc.Backoff = retryablehttp.DefaultBackoff
	hc.ErrorHandler = lastResponse
	hc.Logger = leveledLogger{log: log.With().Str("component", "registry").Logger()}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &Client{
		cfg:     cfg,
		http:    hc,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// PageURL builds the request URL for one page of one publication day.
func (c *Client) PageURL(day time.Time, page int) string {
	d := publication.FormatDay(day)
	q := url.Values{}
	q.Set("publicationStates", "PUBLISHED")
	q.Set("tenant", "shab")
	q.Set("rubrics", "HR")
	q.Set("publicationDate.start", d)
	q.Set("publicationDate.end", d)
	q.Set("pageRequest.size", strconv.Itoa(c.cfg.PageSize))
	q.Set("pageRequest.sortOrders", "")
	q.Set("pageRequest.page", strconv.Itoa(page))
	return c.cfg.BaseURL + "?" + q.Encode()
}

// FetchPage requests one page for day and decodes it. Transient failures are
// retried inside the transport; a body that does not parse returns an error
// wrapping ErrMalformed.
func (c *Client) FetchPage(ctx context.Context, day time.Time, page int) ([]publication.Entry, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.PageURL(day, page)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get page %d for %s: %w", page, publication.FormatDay(day), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, URL: u}
	}

	entries, err := ParsePage(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("page %d for %s: %w", page, publication.FormatDay(day), err)
	}
	return entries, nil
}

// lastResponse hands the final response back once retries are exhausted so
// its status code reaches StatusError. Transport errors pass through.
func lastResponse(resp *http.Response, err error, attempts int) (*http.Response, error) {
	if resp != nil {
		return resp, nil
	}
	return nil, fmt.Errorf("giving up after %d attempt(s): %w", attempts, err)
}

// retryPolicy retries transport errors and the throttling / gateway statuses
// for idempotent methods only.
func retryPolicy(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if resp != nil && resp.Request != nil && !idempotent(resp.Request.Method) {
		return false, err
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// leveledLogger routes retryablehttp's key/value logging into zerolog.
type leveledLogger struct {
	log zerolog.Logger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	withFields(l.log.Error(), keysAndValues).Msg(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	withFields(l.log.Info(), keysAndValues).Msg(msg)
}

// Debug drops request tracing to trace level; it fires on every attempt.
func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	withFields(l.log.Trace(), keysAndValues).Msg(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	withFields(l.log.Warn(), keysAndValues).Msg(msg)
}

func withFields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		e = e.Interface(fmt.Sprint(kv[i]), kv[i+1])
	}
	return e
}
