package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/domain/codec"
	"github.com/spatialviewer/backend/internal/domain/progress"
	"github.com/spatialviewer/backend/internal/infrastructure/monitoring"
	"github.com/spatialviewer/backend/internal/upstream"
)

// Response bodies for failures. They are intentionally generic.
const (
	msgInvalidHost      = "Invalid host format"
	msgHostNotAllowed   = "Host not allowed"
	msgResourceFailed   = "Error fetching resource"
	msgDocumentFailed   = "Error fetching target URL"
	defaultContentType  = "application/octet-stream"
	documentContentType = "text/html; charset=utf-8"
)

// ErrDocumentTooLarge is returned when a document exceeds the rewrite limit.
var ErrDocumentTooLarge = errors.New("document too large")

// Fetcher performs upstream GETs.
type Fetcher interface {
	Fetch(ctx context.Context, req upstream.Request) (*upstream.Response, error)
}

// ManifestFunc is told about <link rel="manifest"> hrefs found in documents
// requested with a page id.
type ManifestFunc func(pageID, href string)

// Config configures the proxy.
type Config struct {
	// BridgeSrc is the script URL injected into documents.
	BridgeSrc        string
	MaxDocumentBytes int64
	AllowedHosts     []string
}

// Proxy serves every request addressed to a synthetic host.
type Proxy struct {
	codec    *codec.Codec
	fetcher  Fetcher
	hub      *progress.Hub
	rewriter *Rewriter
	allow    *AllowList
	maxBytes int64
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	onManifest ManifestFunc
}

// New creates a proxy.
func New(cfg Config, c *codec.Codec, fetcher Fetcher, hub *progress.Hub, logger *zap.Logger, metrics *monitoring.Metrics) (*Proxy, error) {
	allow, err := NewAllowList(cfg.AllowedHosts)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{
		codec:    c,
		fetcher:  fetcher,
		hub:      hub,
		rewriter: NewRewriter(c, cfg.BridgeSrc),
		allow:    allow,
		maxBytes: cfg.MaxDocumentBytes,
		logger:   logger.Named("proxy"),
		metrics:  metrics,
	}, nil
}

// OnManifest registers the manifest discovery callback.
func (p *Proxy) OnManifest(fn ManifestFunc) {
	p.onManifest = fn
}

// Serve dispatches on the Accept header: documents go through the rewriting
// path, everything else is streamed as a resource.
func (p *Proxy) Serve(c *gin.Context) {
	if strings.Contains(c.GetHeader("Accept"), "text/html") {
		p.ServeDocument(c)
		return
	}
	p.ServeResource(c)
}

// target resolves the upstream URL for the inbound request and writes the
// error response when that is not possible.
func (p *Proxy) target(c *gin.Context) (*url.URL, bool) {
	target, err := p.codec.TargetURL(c.Request.Host, c.Request.URL.EscapedPath(), c.Request.URL.RawQuery)
	if err != nil {
		p.logger.Info("invalid host format", zap.String("host", c.Request.Host))
		c.Data(http.StatusBadRequest, "text/plain; charset=utf-8", []byte(msgInvalidHost))
		return nil, false
	}
	if err := p.allow.Check(target.Hostname()); err != nil {
		p.logger.Info("upstream host rejected", zap.Error(err))
		c.Data(http.StatusForbidden, "text/plain; charset=utf-8", []byte(msgHostNotAllowed))
		return nil, false
	}
	return target, true
}

func pageID(c *gin.Context) string {
	return c.Query(codec.PageIDParam)
}

// mirror answers with the upstream status and its reason phrase.
func mirror(c *gin.Context, resp *upstream.Response) {
	c.Data(resp.Status, "text/plain; charset=utf-8", []byte(resp.StatusText))
}
