// Package progress carries best-effort fetch lifecycle events per page.
//
// Each page has at most one live subscriber, usually an SSE stream; a new
// subscription for the same page replaces the old one. Publishing never
// buffers beyond the subscriber's channel and never blocks the proxy.
//
// Resource fetches report RESOURCE_START (0), RESOURCE_FETCHING (50) and
// RESOURCE_FETCHED (100). Document fetches report HTML_START (0),
// HTML_FETCHING (25), HTML_FETCHED (50), HTML_PROCESSING (75) and
// HTML_COMPLETE (100).
package progress
