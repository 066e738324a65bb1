package main

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"allfixer/chat"
)

const defaultPingInterval = 15 * time.Second

// streamSnapshots writes each snapshot as a "snapshot" server-sent event
// until the client goes away or the stream ends.
func streamSnapshots[T any](s *Server, c *gin.Context, stream *chat.Stream[T], render func(context.Context, T) (any, error)) {
	defer stream.Stop()

	interval := s.pingInterval
	if interval <= 0 {
		interval = defaultPingInterval
	}
	ping := time.NewTicker(interval)
	defer ping.Stop()

	ctx := c.Request.Context()
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ping.C:
			c.SSEvent("ping", "")
			return true
		case snap, ok := <-stream.Updates():
			if !ok {
				if err := stream.Err(); err != nil {
					s.logger.WarnContext(ctx, "snapshot stream ended", "path", c.FullPath(), "error", err)
				}
				return false
			}
			payload, err := render(ctx, snap)
			if err != nil {
				s.logger.WarnContext(ctx, "render snapshot failed", "path", c.FullPath(), "error", err)
				return false
			}
			c.SSEvent("snapshot", payload)
			return true
		}
	})
}

func wantsWatch(c *gin.Context) bool {
	switch c.Query("watch") {
	case "1", "true":
		return true
	}
	return false
}
