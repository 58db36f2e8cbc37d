package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/warden-dev/warden/pkg/services"
)

// CreateScorecard records a rubric evaluation for an agent.
func (s *Server) CreateScorecard(c *gin.Context) {
	var req CreateScorecardRequest
	if !bindJSON(c, &req) {
		return
	}

	card, err := s.evals.CreateScorecard(c.Request.Context(), workspace(c), req.AgentID, req.Rubric)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, card)
}

// GetScorecard returns one scorecard.
func (s *Server) GetScorecard(c *gin.Context) {
	card, err := s.evals.GetScorecard(c.Request.Context(), workspace(c), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, card)
}

// CreateLesson records an operational lesson.
func (s *Server) CreateLesson(c *gin.Context) {
	var req CreateLessonRequest
	if !bindJSON(c, &req) {
		return
	}

	lesson, err := s.evals.CreateLesson(c.Request.Context(), workspace(c), services.LessonInput{
		Title:         req.Title,
		Body:          req.Body,
		Template:      req.Template,
		Context:       req.Context,
		EvidenceRunID: req.EvidenceRunID,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lesson)
}
