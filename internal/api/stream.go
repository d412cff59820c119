package api

import (
	"io"

	"github.com/gin-gonic/gin"

	"github.com/mr1hm/go-disaster-ingest/internal/publish"
)

// Stream is the in-process change feed behind GET /api/stream.
type Stream interface {
	Subscribe() (uint64, <-chan publish.Change)
	Unsubscribe(id uint64)
}

// streamChanges relays persisted changes as server-sent events until the
// client disconnects or the feed closes.
func (h *Handler) streamChanges(c *gin.Context) {
	id, ch := h.stream.Subscribe()
	defer h.stream.Unsubscribe(id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case change, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("change", change)
			return true
		}
	})
}
