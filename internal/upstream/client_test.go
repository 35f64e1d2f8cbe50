package upstream

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
	"github.com/spatialviewer/backend/internal/infrastructure/resilience"
	"github.com/spatialviewer/backend/internal/upstream/upstreamtest"
)

const testUA = "test-agent/1.0"

func newTestClient(t *testing.T, handler http.HandlerFunc, mutate func(*Config)) (*Client, *monitoring.Metrics) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	metrics := monitoring.NewMetrics()
	cfg := Config{
		UserAgent: testUA,
		Transport: upstreamtest.Transport(srv),
		Metrics:   metrics,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg), metrics
}

func TestFetchForwardsOnlyAllowedHeaders(t *testing.T) {
	var got http.Header
	var host string
	client, metrics := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		host = r.Host
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png"))
	}, nil)

	resp, err := client.Fetch(context.Background(), Request{
		URL:            "http://www.example.com/a.png?x=1",
		Accept:         "image/*",
		AcceptLanguage: "de-DE",
	})
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "png", string(body))
	assert.True(t, resp.OK())
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	assert.Equal(t, "www.example.com", host)
	assert.Equal(t, testUA, got.Get("User-Agent"))
	assert.Equal(t, "image/*", got.Get("Accept"))
	assert.Equal(t, "de-DE", got.Get("Accept-Language"))
	assert.Empty(t, got.Get("Cookie"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UpstreamFetches.WithLabelValues(KindResource, monitoring.OutcomeSuccess)))
}

func TestFetchDoesNotReplayCookies(t *testing.T) {
	var cookies []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		cookies = append(cookies, r.Header.Get("Cookie"))
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "secret", Path: "/"})
		_, _ = w.Write([]byte("ok"))
	}, nil)

	for i := 0; i < 2; i++ {
		resp, err := client.Fetch(context.Background(), Request{URL: "http://www.example.com/a.css"})
		require.NoError(t, err)
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}

	assert.Equal(t, []string{"", ""}, cookies)
}

func TestFetchMirrorsStatus(t *testing.T) {
	client, metrics := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}, nil)

	resp, err := client.Fetch(context.Background(), Request{URL: "http://example.com/missing", Kind: KindDocument})
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.False(t, resp.OK())
	assert.Equal(t, http.StatusNotFound, resp.Status)
	assert.Equal(t, "Not Found", resp.StatusText)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UpstreamFetches.WithLabelValues(KindDocument, monitoring.OutcomeUpstream)))
}

func TestFetchTransportFailure(t *testing.T) {
	metrics := monitoring.NewMetrics()
	client := New(Config{
		Transport: upstreamtest.Failing(errors.New("connection refused")),
		Metrics:   metrics,
	})

	_, err := client.Fetch(context.Background(), Request{URL: "http://example.com/"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.UpstreamFetches.WithLabelValues(KindResource, monitoring.OutcomeError)))
}

func TestFetchBreakerOpensPerHost(t *testing.T) {
	metrics := monitoring.NewMetrics()
	client := New(Config{
		Transport:           upstreamtest.Failing(errors.New("dial tcp: no route")),
		BreakerEnabled:      true,
		ConsecutiveFailures: 3,
		Metrics:             metrics,
	})

	for i := 0; i < 3; i++ {
		_, err := client.Fetch(context.Background(), Request{URL: "http://down.example.com/"})
		require.ErrorIs(t, err, ErrUnreachable)
	}

	states := client.BreakerStates()
	assert.Equal(t, resilience.StateOpen, states["down.example.com"])

	_, err := client.Fetch(context.Background(), Request{URL: "http://down.example.com/"})
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Contains(t, err.Error(), resilience.ErrCircuitOpen.Error())
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BreakerChanges.WithLabelValues("open")))

	// Other hosts are unaffected by the open breaker.
	_, err = client.Fetch(context.Background(), Request{URL: "http://other.example.com/"})
	assert.NotContains(t, err.Error(), resilience.ErrCircuitOpen.Error())
}

func TestFetchCancelledContext(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {}, func(cfg *Config) {
		cfg.RateLimit = 1
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Fetch(ctx, Request{URL: "http://example.com/"})
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestGetJSON(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/manifest.json":
			w.Header().Set("Content-Type", "application/manifest+json")
			_, _ = w.Write([]byte(`{"name":"Demo","scope":"/app/"}`))
		case "/broken.json":
			_, _ = w.Write([]byte(`{"name":`))
		default:
			http.NotFound(w, r)
		}
	}, nil)

	var m struct {
		Name  string `json:"name"`
		Scope string `json:"scope"`
	}
	require.NoError(t, client.GetJSON(context.Background(), "http://example.com/manifest.json", &m))
	assert.Equal(t, "Demo", m.Name)
	assert.Equal(t, "/app/", m.Scope)

	err := client.GetJSON(context.Background(), "http://example.com/missing.json", &m)
	var upstreamErr *UpstreamError
	require.ErrorAs(t, err, &upstreamErr)
	assert.Equal(t, http.StatusNotFound, upstreamErr.Status)

	assert.Error(t, client.GetJSON(context.Background(), "http://example.com/broken.json", &m))
}

func TestStatusText(t *testing.T) {
	assert.Equal(t, "Not Found", statusText(404, "404 Not Found"))
	assert.Equal(t, "Teapot Time", statusText(418, "418 Teapot Time"))
	assert.Equal(t, "Bad Gateway", statusText(502, ""))
}
