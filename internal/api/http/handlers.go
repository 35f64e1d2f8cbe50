package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/domain/progress"
	"github.com/spatialviewer/backend/internal/domain/registry"
	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
	"github.com/spatialviewer/backend/internal/infrastructure/resilience"
)

const (
	serviceName    = "Spatial Viewer Proxy (Go)"
	serviceVersion = "0.1.0"
)

// BreakerReporter exposes upstream circuit breaker states.
type BreakerReporter interface {
	BreakerStates() map[string]resilience.State
}

// Handlers contains the control API handlers.
type Handlers struct {
	pages    *registry.Manager
	hub      *progress.Hub
	breakers BreakerReporter
	metrics  *monitoring.Metrics
	logger   *zap.Logger
}

// NewHandlers creates a new handler set. breakers may be nil.
func NewHandlers(pages *registry.Manager, hub *progress.Hub, breakers BreakerReporter, metrics *monitoring.Metrics, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		pages:    pages,
		hub:      hub,
		breakers: breakers,
		metrics:  metrics,
		logger:   logger.Named("api"),
	}
}

// URLRequest is the body of submit and navigate calls.
type URLRequest struct {
	URL string `json:"url" binding:"required"`
}

// Root handles the liveness check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": serviceName,
		"version": serviceVersion,
	})
}

// Health handles the detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":               "healthy",
		"pages":                h.pages.Stats(),
		"progress_subscribers": h.hub.Subscribers(),
		"breakers":             h.breakerStates(),
	})
}

// SubmitPage opens a URL in a new page.
func (h *Handlers) SubmitPage(c *gin.Context) {
	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	page, err := h.pages.Submit(c.Request.Context(), req.URL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, page)
}

// ListPages lists all live pages.
func (h *Handlers) ListPages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"pages": h.pages.List(),
		"stats": h.pages.Stats(),
	})
}

// GetPage returns a single page.
func (h *Handlers) GetPage(c *gin.Context) {
	page, ok := h.pages.Get(c.Param("id"))
	if !ok {
		h.fail(c, registry.ErrPageNotFound)
		return
	}
	c.JSON(http.StatusOK, page)
}

// NavigatePage moves a page within its scope or hands the URL to the host.
func (h *Handlers) NavigatePage(c *gin.Context) {
	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.pages.Navigate(c.Request.Context(), c.Param("id"), req.URL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DisposePage tears a page down. Unknown ids are not an error.
func (h *Handlers) DisposePage(c *gin.Context) {
	pageID := c.Param("id")
	c.JSON(http.StatusOK, gin.H{
		"page_id":  pageID,
		"disposed": h.pages.Dispose(pageID),
	})
}

func (h *Handlers) breakerStates() map[string]string {
	states := make(map[string]string)
	if h.breakers == nil {
		return states
	}
	for host, state := range h.breakers.BreakerStates() {
		states[host] = state.String()
	}
	return states
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, registry.ErrInvalidURL):
		status = http.StatusBadRequest
	case errors.Is(err, registry.ErrPageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	default:
		h.logger.Error("control request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
