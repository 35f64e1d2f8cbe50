// Package upstreamtest points upstream traffic at httptest servers.
package upstreamtest

import (
	"net/http"
	"net/http/httptest"
	"net/url"
)

// Transport sends every request to srv regardless of its URL host. The
// original host stays available to handlers through r.Host.
func Transport(srv *httptest.Server) http.RoundTripper {
	target, err := url.Parse(srv.URL)
	if err != nil {
		panic(err)
	}
	base := srv.Client().Transport
	return roundTripFunc(func(req *http.Request) (*http.Response, error) {
		out := req.Clone(req.Context())
		out.Host = req.URL.Host
		out.URL.Scheme = target.Scheme
		out.URL.Host = target.Host
		return base.RoundTrip(out)
	})
}

// Failing returns a transport whose every round trip fails with err.
func Failing(err error) http.RoundTripper {
	return roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, err
	})
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
