package models

import (
	"encoding/json"
	"time"
)

// Room is a projected collaboration room.
type Room struct {
	RoomID      string    `json:"room_id"`
	WorkspaceID string    `json:"workspace_id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	LastEventID string    `json:"last_event_id"`
}

// Thread is a projected thread within a room.
type Thread struct {
	ThreadID    string    `json:"thread_id"`
	WorkspaceID string    `json:"workspace_id"`
	RoomID      string    `json:"room_id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
	LastEventID string    `json:"last_event_id"`
}

// Message is a projected message within a thread.
type Message struct {
	MessageID   string    `json:"message_id"`
	WorkspaceID string    `json:"workspace_id"`
	RoomID      string    `json:"room_id"`
	ThreadID    string    `json:"thread_id"`
	AuthorType  string    `json:"author_type"`
	AuthorID    string    `json:"author_id"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
	LastEventID string    `json:"last_event_id"`
}

// RunStatus enumerates run lifecycle states.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is a projected run. CorrelationID is minted on creation and
// propagated to every event emitted by the run or on its behalf.
type Run struct {
	RunID         string          `json:"run_id"`
	WorkspaceID   string          `json:"workspace_id"`
	RoomID        *string         `json:"room_id"`
	ThreadID      *string         `json:"thread_id"`
	Status        RunStatus       `json:"status"`
	CorrelationID string          `json:"correlation_id"`
	Input         json.RawMessage `json:"input"`
	Output        json.RawMessage `json:"output,omitempty"`
	ReasonCode    *string         `json:"reason_code,omitempty"`
	WorkerID      *string         `json:"worker_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	StartedAt     *time.Time      `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at"`
	LastEventID   string          `json:"last_event_id"`
}

// Step is a projected step of a run.
type Step struct {
	StepID      string    `json:"step_id"`
	WorkspaceID string    `json:"workspace_id"`
	RunID       string    `json:"run_id"`
	Name        string    `json:"name"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	LastEventID string    `json:"last_event_id"`
}

// Artifact is a projected artifact produced by a step.
type Artifact struct {
	ArtifactID  string          `json:"artifact_id"`
	WorkspaceID string          `json:"workspace_id"`
	RunID       *string         `json:"run_id"`
	StepID      *string         `json:"step_id"`
	RoomID      *string         `json:"room_id"`
	Name        string          `json:"name"`
	MediaType   string          `json:"media_type"`
	Content     json.RawMessage `json:"content,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	LastEventID string          `json:"last_event_id"`
}

// ApprovalStatus enumerates approval lifecycle states.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalRevoked  ApprovalStatus = "revoked"
)

// Approval is a projected approval. A decided approve with a matching
// scope makes the policy evaluator allow the action until revoked.
type Approval struct {
	ApprovalID  string          `json:"approval_id"`
	WorkspaceID string          `json:"workspace_id"`
	Action      string          `json:"action"`
	Scope       json.RawMessage `json:"scope"`
	Status      ApprovalStatus  `json:"status"`
	RequestedBy *string         `json:"requested_by,omitempty"`
	DecidedBy   *string         `json:"decided_by"`
	DecidedAt   *time.Time      `json:"decided_at"`
	Context     json.RawMessage `json:"context,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	LastEventID string          `json:"last_event_id"`
}

// ApprovalScope is the parsed scope of an approval.
type ApprovalScope struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
}
