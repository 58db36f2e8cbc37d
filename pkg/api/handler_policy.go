package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/warden-dev/warden/pkg/egress"
	"github.com/warden-dev/warden/pkg/services"
)

// EvaluatePolicy runs one explicit policy evaluation. Decisions are not
// HTTP errors: deny and require_approval return 200 with the decision.
func (s *Server) EvaluatePolicy(c *gin.Context) {
	var req EvaluatePolicyRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := s.policies.Evaluate(c.Request.Context(), workspace(c), services.EvaluateInput{
		Action:      req.Action,
		ActorType:   req.ActorType,
		ActorID:     req.ActorID,
		PrincipalID: req.PrincipalID,
		RoomID:      req.RoomID,
		TargetURL:   req.TargetURL,
		Context:     req.Context,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CreateApproval records a pending approval.
func (s *Server) CreateApproval(c *gin.Context) {
	var req CreateApprovalRequest
	if !bindJSON(c, &req) {
		return
	}

	approval, err := s.approvals.Create(c.Request.Context(), workspace(c), req.Action,
		req.RequestedBy, req.Scope, req.Context)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, approval)
}

// DecideApproval applies a decision to an approval.
func (s *Server) DecideApproval(c *gin.Context) {
	var req DecideApprovalRequest
	if !bindJSON(c, &req) {
		return
	}

	approval, err := s.approvals.Decide(c.Request.Context(), workspace(c), c.Param("id"),
		req.Decision, req.DecidedBy)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, approval)
}

// CheckEgress evaluates and records one egress request.
func (s *Server) CheckEgress(c *gin.Context) {
	var req EgressCheckRequest
	if !bindJSON(c, &req) {
		return
	}

	outcome, err := s.egress.Check(c.Request.Context(), workspace(c), egress.Request{
		Action:    req.Action,
		TargetURL: req.TargetURL,
		Method:    req.Method,
		ActorType: req.ActorType,
		ActorID:   req.ActorID,
		RoomID:    req.RoomID,
		RunID:     req.RunID,
		Context:   req.Context,
	})
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}
