package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/spatialviewer/backend/internal/domain/progress"
	"github.com/spatialviewer/backend/internal/upstream"
)

// ServeResource streams an upstream resource through unmodified.
func (p *Proxy) ServeResource(c *gin.Context) {
	reporter := p.hub.Reporter(pageID(c))
	reporter.Emit(progress.ResourceStart, 0, "Proxying resource: "+c.Request.URL.Path)

	target, ok := p.target(c)
	if !ok {
		return
	}
	p.fetchResource(c, target.String(), reporter)
}

func (p *Proxy) fetchResource(c *gin.Context, target string, reporter *progress.Reporter) {
	accept := c.GetHeader("Accept")
	if accept == "" {
		accept = "*/*"
	}

	reporter.Emit(progress.ResourceFetching, 50, "Fetching: "+target)
	resp, err := p.fetcher.Fetch(c.Request.Context(), upstream.Request{
		URL:            target,
		Kind:           upstream.KindResource,
		Accept:         accept,
		AcceptLanguage: c.GetHeader("Accept-Language"),
	})
	if err != nil {
		p.logger.Warn("error fetching resource", zap.String("url", target), zap.Error(err))
		c.Data(http.StatusInternalServerError, "text/plain; charset=utf-8", []byte(msgResourceFailed))
		return
	}
	defer resp.Body.Close()

	reporter.EmitTimed(progress.ResourceFetched, progress.Complete,
		fmt.Sprintf("Fetched in %dms. Status: %d", resp.Duration.Milliseconds(), resp.Status), resp.Duration)

	if !resp.OK() {
		p.logger.Debug("upstream error", zap.String("url", target), zap.Int("status", resp.Status))
		mirror(c, resp)
		return
	}

	body := bufio.NewReader(resp.Body)
	if _, err := body.Peek(1); err != nil {
		if !errors.Is(err, io.EOF) {
			p.logger.Warn("error reading resource", zap.String("url", target), zap.Error(err))
			c.Data(http.StatusInternalServerError, "text/plain; charset=utf-8", []byte(msgResourceFailed))
			return
		}
		c.Status(http.StatusNoContent)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = defaultContentType
	}
	c.DataFromReader(http.StatusOK, -1, contentType, body, map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "*",
	})
}
