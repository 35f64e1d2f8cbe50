// Package upstream fetches documents, resources and manifests from the real
// origins behind synthetic hosts.
//
// The client is resty over a pooled transport with retries disabled and no
// cookie jar, so nothing an upstream sets is replayed on a later fetch. Each
// upstream host gets its own circuit breaker; an open breaker fails fast with
// ErrUnreachable instead of hammering a dead origin. Bodies are never buffered
// by the client:
//
//	resp, err := client.Fetch(ctx, upstream.Request{URL: u, Accept: "image/*"})
//	if err != nil {
//		// errors.Is(err, upstream.ErrUnreachable)
//	}
//	defer resp.Body.Close()
package upstream
