package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/warden-dev/warden/pkg/events"
)

// StreamRoom serves the live SSE stream for one room: a catch-up replay
// from ?from_seq, then live events with no gaps or duplicates. A
// subscriber that cannot keep up receives a terminal overflow frame and
// is disconnected.
func (s *Server) StreamRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	if _, err := s.rooms.GetRoom(c.Request.Context(), workspace(c), roomID); err != nil {
		mapServiceError(c, err)
		return
	}

	fromSeq, err := strconv.ParseInt(c.DefaultQuery("from_seq", "0"), 10, 64)
	if err != nil || fromSeq < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from_seq must be a non-negative integer"})
		return
	}

	sub, err := s.broker.Subscribe(c.Request.Context(), workspace(c), events.StreamTypeRoom, roomID, fromSeq)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	defer sub.Close()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	err = sub.Run(c.Request.Context(), func(e *events.Event) error {
		frame, err := e.Frame()
		if err != nil {
			return err
		}
		if _, err := c.Writer.WriteString("data: " + string(frame) + "\n\n"); err != nil {
			return err
		}
		c.Writer.Flush()
		return nil
	})
	if errors.Is(err, events.ErrOverflow) {
		_, _ = c.Writer.WriteString("event: overflow\ndata: {\"error\":\"subscriber queue overflow\"}\n\n")
		c.Writer.Flush()
	}
}
