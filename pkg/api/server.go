package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/warden-dev/warden/pkg/config"
	"github.com/warden-dev/warden/pkg/database"
	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/queue"
	"github.com/warden-dev/warden/pkg/services"
	"github.com/warden-dev/warden/pkg/snapshot"
)

// Server wires the service layer to the HTTP surface.
type Server struct {
	db         *database.Client
	broker     *events.Broker
	cfg        *config.Config
	principals *services.PrincipalService
	agents     *services.AgentService
	rooms      *services.RoomService
	runs       *services.RunService
	policies   *services.PolicyService
	approvals  *services.ApprovalService
	egress     *services.EgressService
	evals      *services.EvaluationService
	processor  *queue.Processor
	snapshots  *snapshot.Job
	metrics    http.Handler
}

// ServerDeps carries everything the server needs.
type ServerDeps struct {
	DB         *database.Client
	Broker     *events.Broker
	Config     *config.Config
	Principals *services.PrincipalService
	Agents     *services.AgentService
	Rooms      *services.RoomService
	Runs       *services.RunService
	Policies   *services.PolicyService
	Approvals  *services.ApprovalService
	Egress     *services.EgressService
	Evals      *services.EvaluationService
	Processor  *queue.Processor
	Snapshots  *snapshot.Job
	Metrics    http.Handler
}

// NewServer creates an API server.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		db:         deps.DB,
		broker:     deps.Broker,
		cfg:        deps.Config,
		principals: deps.Principals,
		agents:     deps.Agents,
		rooms:      deps.Rooms,
		runs:       deps.Runs,
		policies:   deps.Policies,
		approvals:  deps.Approvals,
		egress:     deps.Egress,
		evals:      deps.Evals,
		processor:  deps.Processor,
		snapshots:  deps.Snapshots,
		metrics:    deps.Metrics,
	}
}

// RegisterRoutes attaches all routes to the router.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", s.Health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	v1 := r.Group("/v1", WorkspaceRequired())

	v1.POST("/principals/legacy/ensure", s.EnsureLegacyPrincipal)

	v1.POST("/agents", s.RegisterAgent)
	v1.POST("/agents/:id/skills/import", s.ImportSkills)
	v1.POST("/agents/:id/skills/review-pending", s.ReviewPendingSkills)
	v1.GET("/agents/:id/snapshots", s.AgentSnapshots)
	v1.POST("/agents/:id/quarantine", s.QuarantineAgent)
	v1.DELETE("/agents/:id/quarantine", s.UnquarantineAgent)

	v1.POST("/rooms", s.CreateRoom)
	v1.POST("/rooms/:id/threads", s.CreateThread)
	v1.POST("/threads/:id/messages", s.CreateMessage)

	v1.POST("/runs", s.CreateRun)
	v1.POST("/runs/:id/start", s.StartRun)
	v1.POST("/runs/:id/complete", s.CompleteRun)
	v1.POST("/runs/:id/steps", s.CreateStep)
	v1.POST("/steps/:id/artifacts", s.CreateArtifact)
	v1.GET("/artifacts", s.ListArtifacts)
	v1.GET("/artifacts/:id", s.GetArtifact)

	v1.POST("/policy/evaluate", s.EvaluatePolicy)
	v1.POST("/approvals", s.CreateApproval)
	v1.POST("/approvals/:id/decide", s.DecideApproval)
	v1.POST("/egress/requests", s.CheckEgress)

	v1.POST("/scorecards", s.CreateScorecard)
	v1.GET("/scorecards/:id", s.GetScorecard)
	v1.POST("/lessons", s.CreateLesson)

	v1.POST("/workers/runs/cycle", s.WorkerCycle)
	v1.POST("/jobs/daily-snapshot", s.RunDailySnapshot)

	v1.GET("/streams/rooms/:room_id", s.StreamRoom)
}

// Health returns the health status, including database reachability.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db.DB())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}

// bindJSON binds the request body, writing a 400 on failure.
func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return false
	}
	return true
}
