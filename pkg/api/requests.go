package api

import (
	"encoding/json"

	"github.com/warden-dev/warden/pkg/models"
	"github.com/warden-dev/warden/pkg/skills"
)

// EnsureLegacyPrincipalRequest resolves a legacy actor pair.
type EnsureLegacyPrincipalRequest struct {
	PrincipalType   string `json:"principal_type" binding:"required"`
	LegacyActorType string `json:"legacy_actor_type" binding:"required"`
	LegacyActorID   string `json:"legacy_actor_id" binding:"required"`
}

// RegisterAgentRequest registers an agent.
type RegisterAgentRequest struct {
	DisplayName string `json:"display_name" binding:"required"`
}

// ImportSkillsRequest imports a skill package inventory.
type ImportSkillsRequest struct {
	Items []skills.InventoryItem `json:"items" binding:"required"`
}

// QuarantineAgentRequest sets a manual quarantine.
type QuarantineAgentRequest struct {
	Reason string `json:"reason"`
}

// CreateRoomRequest creates a room.
type CreateRoomRequest struct {
	Title string `json:"title" binding:"required"`
}

// CreateThreadRequest creates a thread under a room.
type CreateThreadRequest struct {
	Title string `json:"title" binding:"required"`
}

// CreateMessageRequest posts a message on a thread.
type CreateMessageRequest struct {
	AuthorType string `json:"author_type" binding:"required"`
	AuthorID   string `json:"author_id" binding:"required"`
	Body       string `json:"body" binding:"required"`
}

// CreateRunRequest creates a queued run.
type CreateRunRequest struct {
	RoomID   string          `json:"room_id"`
	ThreadID string          `json:"thread_id"`
	Input    json.RawMessage `json:"input"`
}

// CompleteRunRequest transitions a run to a terminal state.
type CompleteRunRequest struct {
	Status     string          `json:"status" binding:"required"`
	Output     json.RawMessage `json:"output"`
	ReasonCode string          `json:"reason_code"`
}

// CreateStepRequest creates a step under a run.
type CreateStepRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateArtifactRequest records an artifact produced by a step.
type CreateArtifactRequest struct {
	Name      string          `json:"name" binding:"required"`
	MediaType string          `json:"media_type"`
	Content   json.RawMessage `json:"content"`
}

// EvaluatePolicyRequest is one explicit policy evaluation.
type EvaluatePolicyRequest struct {
	Action      string         `json:"action" binding:"required"`
	ActorType   string         `json:"actor_type" binding:"required"`
	ActorID     string         `json:"actor_id" binding:"required"`
	PrincipalID string         `json:"principal_id"`
	RoomID      string         `json:"room_id"`
	TargetURL   string         `json:"target_url"`
	Context     map[string]any `json:"context"`
}

// CreateApprovalRequest records a pending approval.
type CreateApprovalRequest struct {
	Action      string               `json:"action" binding:"required"`
	Scope       models.ApprovalScope `json:"scope" binding:"required"`
	RequestedBy string               `json:"requested_by"`
	Context     json.RawMessage      `json:"context"`
}

// DecideApprovalRequest applies a decision to an approval.
type DecideApprovalRequest struct {
	Decision  string `json:"decision" binding:"required"`
	DecidedBy string `json:"decided_by"`
}

// EgressCheckRequest is one outbound request to check.
type EgressCheckRequest struct {
	Action    string         `json:"action" binding:"required"`
	TargetURL string         `json:"target_url" binding:"required"`
	Method    string         `json:"method"`
	ActorType string         `json:"actor_type" binding:"required"`
	ActorID   string         `json:"actor_id" binding:"required"`
	RoomID    string         `json:"room_id"`
	RunID     string         `json:"run_id"`
	Context   map[string]any `json:"context"`
}

// CreateScorecardRequest records a rubric evaluation.
type CreateScorecardRequest struct {
	AgentID string             `json:"agent_id" binding:"required"`
	Rubric  map[string]float64 `json:"rubric" binding:"required"`
}

// CreateLessonRequest records a lesson.
type CreateLessonRequest struct {
	Title         string         `json:"title" binding:"required"`
	Body          string         `json:"body"`
	Template      string         `json:"template"`
	Context       map[string]any `json:"context"`
	EvidenceRunID string         `json:"evidence_run_id"`
}

// WorkerCycleRequest triggers one on-demand worker cycle.
type WorkerCycleRequest struct {
	BatchLimit int `json:"batch_limit"`
}

// SnapshotJobRequest invokes the daily snapshot job.
type SnapshotJobRequest struct {
	Date string `json:"date"`
}
