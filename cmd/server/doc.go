// Package main is the entry point of the spatial viewer backend.
//
// The server embeds third-party sites in frames by proxying each origin
// under a synthetic "<label>.localhost" host, injecting the bridge script
// into documents, and relaying bridge traffic to the host controller.
//
// Configuration:
//   - .env file (optional)
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//
// Usage:
//
//	# Development mode (colored logs, debug level)
//	./server -dev -port 3000
//
//	# Production mode (https upstreams and proxy URLs)
//	./server -prod -host 0.0.0.0 -port 443
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
