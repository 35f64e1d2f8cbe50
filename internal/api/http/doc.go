// Package http provides the control API of the viewer backend.
//
// Endpoints:
//   - Health: / and /health
//   - Pages: /pages, /pages/:id, /pages/:id/navigate
//   - Progress: /events/:pageId (server-sent events)
//   - Metrics: /metrics (Prometheus) and /metrics/json
//
// Example Usage:
//
//	handlers := http.NewHandlers(pages, hub, upstreamClient, metrics, logger)
//	router.POST("/pages", handlers.SubmitPage)
//	router.GET("/events/:pageId", handlers.Events)
package http
