package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/warden-dev/warden/pkg/models"
)

// CreateRun creates a queued run.
func (s *Server) CreateRun(c *gin.Context) {
	var req CreateRunRequest
	if !bindJSON(c, &req) {
		return
	}

	run, err := s.runs.CreateRun(c.Request.Context(), workspace(c), req.RoomID, req.ThreadID, req.Input)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, run)
}

// StartRun transitions a queued run to running.
func (s *Server) StartRun(c *gin.Context) {
	run, err := s.runs.Start(c.Request.Context(), workspace(c), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// CompleteRun transitions a run to a terminal state.
func (s *Server) CompleteRun(c *gin.Context) {
	var req CompleteRunRequest
	if !bindJSON(c, &req) {
		return
	}

	run, err := s.runs.Complete(c.Request.Context(), workspace(c), c.Param("id"),
		models.RunStatus(req.Status), req.Output, req.ReasonCode)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// CreateStep creates a step under a run.
func (s *Server) CreateStep(c *gin.Context) {
	var req CreateStepRequest
	if !bindJSON(c, &req) {
		return
	}

	step, err := s.runs.CreateStep(c.Request.Context(), workspace(c), c.Param("id"), req.Name)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, step)
}

// CreateArtifact records an artifact produced by a step.
func (s *Server) CreateArtifact(c *gin.Context) {
	var req CreateArtifactRequest
	if !bindJSON(c, &req) {
		return
	}

	artifact, err := s.runs.CreateArtifact(c.Request.Context(), workspace(c), c.Param("id"),
		req.Name, req.MediaType, req.Content)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, artifact)
}

// ListArtifacts returns the workspace's artifacts.
func (s *Server) ListArtifacts(c *gin.Context) {
	artifacts, err := s.runs.ListArtifacts(c.Request.Context(), workspace(c))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if artifacts == nil {
		artifacts = []models.Artifact{}
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

// GetArtifact returns one artifact.
func (s *Server) GetArtifact(c *gin.Context) {
	artifact, err := s.runs.GetArtifact(c.Request.Context(), workspace(c), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, artifact)
}
