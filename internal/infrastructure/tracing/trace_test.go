package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestStartSpanInheritsContext(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	parent, ctx := tracer.StartSpan(context.Background(), "parent")
	child, childCtx := tracer.StartSpan(ctx, "child")

	assert.Equal(t, parent.TraceID, child.TraceID)
	assert.Equal(t, parent.SpanID, child.ParentID)
	assert.Equal(t, child.SpanID, GetSpanID(childCtx))
	assert.Equal(t, parent.TraceID, GetTraceID(childCtx))
	assert.True(t, strings.HasPrefix(string(child.SpanID), "span_"))
}

func TestInjectExtractRoundTrip(t *testing.T) {
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	span, ctx := tracer.StartSpan(context.Background(), "op")
	headers := map[string]string{}
	InjectTraceContext(ctx, headers)

	traceID, spanID := ExtractTraceContext(headers)
	assert.Equal(t, span.TraceID, traceID)
	assert.Equal(t, span.SpanID, spanID)
}

func TestCloseDrainsSpans(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	tracer := New("test", zap.New(core))

	span, _ := tracer.StartSpan(context.Background(), "ok")
	span.Finish()
	tracer.Submit(span)

	failed, _ := tracer.StartSpan(context.Background(), "failed")
	failed.SetError(errors.New("upstream down"))
	failed.Finish()
	tracer.Submit(failed)

	tracer.Close()
	tracer.Close()

	assert.Equal(t, 1, logs.FilterMessage("span completed").Len())
	assert.Equal(t, 1, logs.FilterMessage("span completed with error").Len())

	// Submitting after close is a no-op.
	assert.NotPanics(t, func() { tracer.Submit(span) })
}

func TestHTTPMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tracer := New("test", zap.NewNop())
	defer tracer.Close()

	var seen TraceID
	router := gin.New()
	router.Use(HTTPMiddleware(tracer))
	router.GET("/pages/:id", func(c *gin.Context) {
		seen = GetTraceID(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/pages/abc?pageId=page_1", nil)
	req.Header.Set(HeaderTraceID, "req_incoming")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, TraceID("req_incoming"), seen)
	assert.Equal(t, "req_incoming", w.Header().Get(HeaderTraceID))
	assert.NotEmpty(t, w.Header().Get(HeaderSpanID))
}
