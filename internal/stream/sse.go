package stream

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// SSEHandler streams hub messages to the client as Server-Sent Events until
// the client disconnects or the hub closes.
func SSEHandler(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		w := c.Writer
		flusher, ok := w.(http.Flusher)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := hub.Subscribe(c.Request.Context())
		defer sub.Close()

		for msg := range sub.C {
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, msg.Data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
