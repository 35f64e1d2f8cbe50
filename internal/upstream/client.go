package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
	"github.com/spatialviewer/backend/internal/infrastructure/resilience"
)

// Fetch kinds, used as metric labels.
const (
	KindDocument = "document"
	KindResource = "resource"
	KindManifest = "manifest"
)

// ErrUnreachable wraps every transport-level failure, including requests
// short-circuited by an open breaker.
var ErrUnreachable = errors.New("upstream unreachable")

// UpstreamError is a non-2xx answer from the target.
type UpstreamError struct {
	Status     int
	StatusText string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded %d %s", e.Status, e.StatusText)
}

// Config configures a Client.
type Config struct {
	UserAgent string
	// Timeout of zero leaves the transport default in place.
	Timeout time.Duration
	// RateLimit caps outgoing requests per second; zero is unlimited.
	RateLimit float64

	BreakerEnabled      bool
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	// BreakerIdleTTL forgets closed breakers of hosts not fetched for this
	// long. Zero keeps them.
	BreakerIdleTTL      time.Duration

	// Transport replaces the pooled transport, mainly for tests.
	Transport http.RoundTripper
	Logger    *zap.Logger
	Metrics   *monitoring.Metrics
}

// Request is a single upstream GET.
type Request struct {
	URL            string
	Kind           string
	Accept         string
	AcceptLanguage string
}

// Response is an upstream answer whose body has not been read yet. The
// caller must close Body.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       io.ReadCloser
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Client fetches from real origins. Nothing is retried.
type Client struct {
	resty    *resty.Client
	breakers *resilience.Group
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu      sync.RWMutex
	limiter *rate.Limiter
}

// New creates an upstream client.
func New(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("upstream")

	transport := cfg.Transport
	if transport == nil {
		// Pooled transport only; retries stay disabled.
		retryClient := retryablehttp.NewClient()
		retryClient.RetryMax = 0
		retryClient.Logger = nil
		transport = retryClient.HTTPClient.Transport
	}

	restyClient := resty.New().
		SetTransport(transport).
		SetRetryCount(0).
		SetCookieJar(nil).
		SetLogger(logger.Sugar()).
		SetHeader("User-Agent", cfg.UserAgent)
	if cfg.Timeout > 0 {
		restyClient.SetTimeout(cfg.Timeout)
	}

	c := &Client{
		resty:   restyClient,
		logger:  logger,
		metrics: cfg.Metrics,
	}
	c.SetRateLimit(cfg.RateLimit)

	if cfg.BreakerEnabled {
		failures := cfg.ConsecutiveFailures
		if failures == 0 {
			failures = 10
		}
		c.breakers = resilience.NewGroup(resilience.Settings{
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			IdleTTL:     cfg.BreakerIdleTTL,
			ReadyToTrip: func(counts resilience.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			OnStateChange: func(name string, from, to resilience.State) {
				logger.Warn("upstream breaker state changed",
					zap.String("host", name),
					zap.Stringer("from", from),
					zap.Stringer("to", to))
				cfg.Metrics.RecordBreakerChange(to.String())
			},
		})
	}

	return c
}

// SetRateLimit configures rate limiting (requests per second).
func (c *Client) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = rate.NewLimiter(rate.Inf, 0)
	} else {
		c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
	}
}

// BreakerStates reports per-host breaker states, nil when disabled.
func (c *Client) BreakerStates() map[string]resilience.State {
	if c.breakers == nil {
		return nil
	}
	return c.breakers.States()
}

// Fetch performs a GET and hands back the unread body. A non-2xx status is
// not an error; transport failures are wrapped in ErrUnreachable.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	kind := req.Kind
	if kind == "" {
		kind = KindResource
	}
	timer := monitoring.NewTimer(c.metrics, kind)

	done, err := c.allow(target.Hostname())
	if err != nil {
		timer.Stop(monitoring.OutcomeError)
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, target.Hostname(), err)
	}

	if err := c.wait(ctx); err != nil {
		done(false)
		timer.Stop(monitoring.OutcomeError)
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	r := c.resty.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if req.Accept != "" {
		r.SetHeader("Accept", req.Accept)
	}
	if req.AcceptLanguage != "" {
		r.SetHeader("Accept-Language", req.AcceptLanguage)
	}

	start := time.Now()
	resp, err := r.Get(target.String())
	elapsed := time.Since(start)
	if err != nil {
		done(false)
		timer.Stop(monitoring.OutcomeError)
		if resp != nil && resp.RawBody() != nil {
			resp.RawBody().Close()
		}
		c.logger.Debug("upstream fetch failed", zap.String("url", req.URL), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	status := resp.StatusCode()
	done(status < http.StatusInternalServerError)
	if status >= 200 && status < 300 {
		timer.Stop(monitoring.OutcomeSuccess)
	} else {
		timer.Stop(monitoring.OutcomeUpstream)
	}

	body := resp.RawBody()
	if body == nil {
		body = http.NoBody
	}
	return &Response{
		Status:     status,
		StatusText: statusText(status, resp.Status()),
		Header:     resp.Header(),
		Body:       body,
		Duration:   elapsed,
	}, nil
}

// GetJSON fetches url and decodes the body into v. Non-2xx answers are
// returned as *UpstreamError.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	resp, err := c.Fetch(ctx, Request{
		URL:    rawURL,
		Kind:   KindManifest,
		Accept: "application/manifest+json, application/json;q=0.9, */*;q=0.1",
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if !resp.OK() {
		return &UpstreamError{Status: resp.Status, StatusText: resp.StatusText}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if err := sonic.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", rawURL, err)
	}
	return nil
}

func (c *Client) allow(host string) (func(bool), error) {
	if c.breakers == nil {
		return func(bool) {}, nil
	}
	return c.breakers.Get(host).Allow()
}

func (c *Client) wait(ctx context.Context) error {
	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}
	return nil
}

// statusText extracts the reason phrase from a "404 Not Found" status line.
func statusText(code int, status string) string {
	text := strings.TrimSpace(strings.TrimPrefix(status, strconv.Itoa(code)))
	if text == "" {
		text = http.StatusText(code)
	}
	return text
}
