package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Events streams progress events for a page as server-sent events. A newer
// stream for the same page ends this one.
func (h *Handlers) Events(c *gin.Context) {
	pageID := c.Param("pageId")
	sub := h.hub.Subscribe(pageID)
	defer h.hub.Unsubscribe(sub)

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)

	if _, err := c.Writer.WriteString("\n"); err != nil {
		return
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.Done():
			return
		case event := <-sub.Events():
			frame, err := event.SSEFrame()
			if err != nil {
				h.logger.Warn("failed to encode progress event", zap.String("page_id", pageID), zap.Error(err))
				continue
			}
			if _, err := c.Writer.Write(frame); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
