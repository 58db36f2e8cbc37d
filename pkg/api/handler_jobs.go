package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// WorkerCycle runs one on-demand worker cycle for the caller's workspace.
func (s *Server) WorkerCycle(c *gin.Context) {
	var req WorkerCycleRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}
	if req.BatchLimit <= 0 {
		req.BatchLimit = s.cfg.WorkerBatchLimit
	}

	result, err := s.processor.RunCycle(c.Request.Context(), "api-cycle", workspace(c), req.BatchLimit)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// RunDailySnapshot invokes the snapshot job for the caller's workspace.
// Defaults to today when no date is given.
func (s *Server) RunDailySnapshot(c *gin.Context) {
	var req SnapshotJobRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	date := time.Now().UTC()
	if req.Date != "" {
		parsed, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	written, err := s.snapshots.Run(c.Request.Context(), workspace(c), date)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"snapshot_date": date.Format("2006-01-02"),
		"written_rows":  written,
	})
}
