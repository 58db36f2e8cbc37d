package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/warden-dev/warden/pkg/models"
)

// EnsureLegacyPrincipal idempotently resolves a legacy actor pair to a
// principal.
func (s *Server) EnsureLegacyPrincipal(c *gin.Context) {
	var req EnsureLegacyPrincipalRequest
	if !bindJSON(c, &req) {
		return
	}

	principal, created, err := s.principals.EnsureLegacy(c.Request.Context(), workspace(c),
		models.PrincipalType(req.PrincipalType), req.LegacyActorType, req.LegacyActorID)
	if err != nil {
		mapServiceError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, principal)
}

// RegisterAgent registers an agent and its owning principal.
func (s *Server) RegisterAgent(c *gin.Context) {
	var req RegisterAgentRequest
	if !bindJSON(c, &req) {
		return
	}

	agent, err := s.agents.Register(c.Request.Context(), workspace(c), req.DisplayName)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agent)
}

// ImportSkills imports a skill package inventory for an agent.
func (s *Server) ImportSkills(c *gin.Context) {
	var req ImportSkillsRequest
	if !bindJSON(c, &req) {
		return
	}

	summary, err := s.agents.ImportSkills(c.Request.Context(), workspace(c), c.Param("id"), req.Items)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// ReviewPendingSkills re-verifies the agent's pending skill packages.
func (s *Server) ReviewPendingSkills(c *gin.Context) {
	reviewed, err := s.agents.ReviewPending(c.Request.Context(), workspace(c), c.Param("id"))
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reviewed": reviewed})
}

// AgentSnapshots returns the agent's daily snapshot series.
func (s *Server) AgentSnapshots(c *gin.Context) {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))

	snapshots, err := s.agents.Snapshots(c.Request.Context(), workspace(c), c.Param("id"), days)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	if snapshots == nil {
		snapshots = []models.AgentSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snapshots})
}

// QuarantineAgent sets a manual quarantine on an agent.
func (s *Server) QuarantineAgent(c *gin.Context) {
	var req QuarantineAgentRequest
	if c.Request.ContentLength > 0 && !bindJSON(c, &req) {
		return
	}

	if err := s.agents.Quarantine(c.Request.Context(), workspace(c), c.Param("id"), req.Reason); err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quarantined": true})
}

// UnquarantineAgent clears an agent's quarantine.
func (s *Server) UnquarantineAgent(c *gin.Context) {
	if err := s.agents.Unquarantine(c.Request.Context(), workspace(c), c.Param("id")); err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quarantined": false})
}
