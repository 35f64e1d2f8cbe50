// Package server wires the viewer backend together.
//
// One listener serves two routers. Requests whose Host is a synthetic
// "<label>.localhost" host reach the proxy router (bridge bundle, progress
// stream, and the reverse proxy for every other path). All other hosts reach
// the control router (health, metrics, pages API, progress stream, bridge
// relay).
//
// Server Lifecycle:
//  1. Load configuration from .env, environment and flags
//  2. Initialize logger
//  3. Build codec, progress hub, upstream client, registry and relay
//  4. Setup both routers and their middleware
//  5. Start HTTP server
//  6. Graceful shutdown on signal
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.New(cfg, logger)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
