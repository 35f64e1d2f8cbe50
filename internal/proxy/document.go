package proxy

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/domain/manifest"
	"github.com/spatialviewer/backend/internal/domain/progress"
	"github.com/spatialviewer/backend/internal/upstream"
)

// ServeDocument fetches an HTML document, injects the bridge script and
// rewrites absolute URLs. The rewritten document is sent whole or not at all.
func (p *Proxy) ServeDocument(c *gin.Context) {
	id := pageID(c)
	reporter := p.hub.Reporter(id)
	reporter.Emit(progress.HTMLStart, 0, "Request for HTML: "+c.Request.URL.Path)

	target, ok := p.target(c)
	if !ok {
		return
	}
	targetURL := target.String()

	reporter.Emit(progress.HTMLFetching, 25, "Fetching HTML from: "+targetURL)
	resp, err := p.fetcher.Fetch(c.Request.Context(), upstream.Request{
		URL:            targetURL,
		Kind:           upstream.KindDocument,
		Accept:         "text/html",
		AcceptLanguage: c.GetHeader("Accept-Language"),
	})
	if err != nil {
		p.documentFailed(c, targetURL, err)
		return
	}
	defer resp.Body.Close()

	reporter.EmitTimed(progress.HTMLFetched, 50,
		fmt.Sprintf("Fetched HTML in %dms. Status: %d", resp.Duration.Milliseconds(), resp.Status), resp.Duration)

	if resp.Status == http.StatusNotFound {
		// Some resources are requested with text/html in Accept; retry as one.
		p.logger.Debug("document not found, proxying as resource", zap.String("url", targetURL))
		resp.Body.Close()
		reporter.Emit(progress.ResourceStart, 0, "Proxying resource: "+c.Request.URL.Path)
		p.fetchResource(c, targetURL, reporter)
		return
	}
	if !resp.OK() {
		mirror(c, resp)
		return
	}

	raw, err := p.readDocument(resp.Body)
	if err != nil {
		p.documentFailed(c, targetURL, err)
		return
	}
	doc, encoding, err := toUTF8(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		p.documentFailed(c, targetURL, err)
		return
	}

	reporter.Emit(progress.HTMLProcessing, 75, "Injecting bridge script and rewriting URLs...")
	start := time.Now()
	rewritten, stats := p.rewriter.Rewrite(string(doc))
	p.metrics.RecordRewrite(stats.URLs)

	p.logger.Debug("document rewritten",
		zap.String("url", targetURL),
		zap.String("charset", encoding),
		zap.Bool("injected", stats.Injected),
		zap.Int("urls", stats.URLs),
		zap.Duration("took", time.Since(start)))

	if id != "" && p.onManifest != nil {
		p.discoverManifest(id, doc)
	}

	reporter.Emit(progress.HTMLComplete, progress.Complete, "HTML processing complete. Sending to client.")
	c.Data(http.StatusOK, documentContentType, []byte(rewritten))
}

func (p *Proxy) readDocument(body io.Reader) ([]byte, error) {
	if p.maxBytes <= 0 {
		return io.ReadAll(body)
	}
	raw, err := io.ReadAll(io.LimitReader(body, p.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(raw)) > p.maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrDocumentTooLarge, p.maxBytes)
	}
	return raw, nil
}

func (p *Proxy) discoverManifest(pageID string, doc []byte) {
	href, err := manifest.FindLink(bytes.NewReader(doc))
	if err != nil {
		p.logger.Debug("manifest discovery failed", zap.String("page_id", pageID), zap.Error(err))
		return
	}
	if href != "" {
		p.onManifest(pageID, href)
	}
}

func (p *Proxy) documentFailed(c *gin.Context, target string, err error) {
	p.logger.Warn("error fetching target url", zap.String("url", target), zap.Error(err))
	c.Data(http.StatusInternalServerError, "text/plain; charset=utf-8", []byte(msgDocumentFailed))
}
