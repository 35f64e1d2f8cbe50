/*
Package monitoring provides Prometheus metrics for the viewer backend.

# Overview

Each Metrics value owns a private registry, so several servers (or tests)
can live in one process without duplicate registration panics.

# Features

- HTTP request metrics per router and route pattern
- Upstream fetch counts and header latency by kind and outcome
- Document rewrite and URL rewrite counters
- Progress channel publish outcomes and live subscribers
- Bridge message accounting and active pages
- Host controller relay connections

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics, "control"))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "document")
	// ... fetch ...
	elapsed := timer.Stop(monitoring.OutcomeSuccess)
*/
package monitoring
