/*
Package tracing provides lightweight request tracing.

# Overview

Every inbound request (control API or proxied fetch) gets a span. Trace
context propagates through the X-Trace-ID and X-Span-ID headers, and finished
spans are logged through zap by a background collector.

# Usage

	tracer := tracing.New("viewer", logger)
	defer tracer.Close()

	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "manifest.load")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()

# Performance

Spans are buffered (1000) and processed asynchronously; when the buffer is
full new spans are dropped with a warning instead of blocking the request.
*/
package tracing
