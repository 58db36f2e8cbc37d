package models

import (
	"encoding/json"
	"time"
)

// Scorecard is one recorded rubric evaluation of an agent.
type Scorecard struct {
	ScorecardID    string          `json:"scorecard_id"`
	WorkspaceID    string          `json:"workspace_id"`
	AgentID        string          `json:"agent_id"`
	Rubric         json.RawMessage `json:"rubric"`
	CompositeScore float64         `json:"composite_score"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Lesson is a recorded operational lesson, optionally backed by run
// evidence.
type Lesson struct {
	LessonID      string          `json:"lesson_id"`
	WorkspaceID   string          `json:"workspace_id"`
	Title         string          `json:"title"`
	Body          string          `json:"body"`
	Template      *string         `json:"template,omitempty"`
	Context       json.RawMessage `json:"context,omitempty"`
	EvidenceRunID *string         `json:"evidence_run_id,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// AutonomyRecommendation is one promotion-loop output.
type AutonomyRecommendation struct {
	RecommendationID string    `json:"recommendation_id"`
	WorkspaceID      string    `json:"workspace_id"`
	AgentID          string    `json:"agent_id"`
	Recommendation   string    `json:"recommendation"`
	CompositeScore   float64   `json:"composite_score"`
	WindowSize       int       `json:"window_size"`
	CreatedAt        time.Time `json:"created_at"`
}
