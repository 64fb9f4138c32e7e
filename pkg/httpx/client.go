// Package httpx is the outbound HTTP wrapper: client-side pacing, an
// env-gated latency/retry layer built on failsafe-go, and per-request
// observations. Default is pass-through; set LATENCY_RETRY_ENABLED=1
// to arm the retry layer.
package httpx

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"golang.org/x/time/rate"

	"github.com/bnzr-team/grinder/internal/core"
)

// EnvLatencyRetryEnabled arms the retry/deadline wrapper.
const EnvLatencyRetryEnabled = "LATENCY_RETRY_ENABLED"

// Observer receives request-level observations.
type Observer interface {
	HTTPRequest(op string)
	HTTPRetry(op string)
	HTTPFail(op string, reason string)
	HTTPLatencyMs(op string, ms float64)
}

type nopObserver struct{}

func (nopObserver) HTTPRequest(string)           {}
func (nopObserver) HTTPRetry(string)             {}
func (nopObserver) HTTPFail(string, string)      {}
func (nopObserver) HTTPLatencyMs(string, float64) {}

// Config tunes the client.
type Config struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// RequestsPerSecond bounds outbound request rate; zero disables
	// pacing.
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig mirrors production settings.
func DefaultConfig() Config {
	return Config{
		Timeout:           5 * time.Second,
		MaxRetries:        2,
		RetryBaseDelay:    100 * time.Millisecond,
		RetryMaxDelay:     2 * time.Second,
		RequestsPerSecond: 8,
		Burst:             16,
	}
}

// Client wraps http.Client with pacing and optional failsafe retries.
type Client struct {
	inner    *http.Client
	limiter  *rate.Limiter
	observer Observer
	logger   core.ILogger
	retry    retrypolicy.RetryPolicy[*http.Response]
	armed    bool
}

// NewClient builds the wrapper. observer may be nil.
func NewClient(config Config, observer Observer, logger core.ILogger) *Client {
	if observer == nil {
		observer = nopObserver{}
	}
	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithMaxRetries(config.MaxRetries).
		WithBackoff(config.RetryBaseDelay, config.RetryMaxDelay).
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp != nil && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500)
		}).
		Build()

	return &Client{
		inner:    &http.Client{Timeout: config.Timeout},
		limiter:  limiter,
		observer: observer,
		logger:   logger.WithField("component", "http_client"),
		retry:    retry,
		armed:    os.Getenv(EnvLatencyRetryEnabled) == "1",
	}
}

// Do sends one request under the wrapper. op is the stable operation
// label for metrics.
func (c *Client) Do(ctx context.Context, op string, req *http.Request) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	c.observer.HTTPRequest(op)
	start := time.Now()

	var resp *http.Response
	var err error
	if c.armed {
		attempts := 0
		resp, err = failsafe.With(c.retry).Get(func() (*http.Response, error) {
			attempts++
			if attempts > 1 {
				c.observer.HTTPRetry(op)
			}
			return c.inner.Do(req.WithContext(ctx))
		})
	} else {
		resp, err = c.inner.Do(req.WithContext(ctx))
	}

	c.observer.HTTPLatencyMs(op, float64(time.Since(start).Milliseconds()))
	if err != nil {
		pe := core.ClassifyPortError(op, err)
		c.observer.HTTPFail(op, string(pe.Reason))
		return nil, err
	}
	if resp.StatusCode >= 400 {
		reason := "4xx"
		if resp.StatusCode == http.StatusTooManyRequests {
			reason = "429"
		} else if resp.StatusCode >= 500 {
			reason = "5xx"
		}
		c.observer.HTTPFail(op, reason)
	}
	return resp, nil
}
