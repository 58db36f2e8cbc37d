package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/ids"
	"github.com/warden-dev/warden/pkg/models"
	"github.com/warden-dev/warden/pkg/uow"
)

// Promotion loop tuning: recommendations average the trailing window of
// composite scores.
const (
	promotionWindowSize   = 5
	promotionPromoteAbove = 0.8
	promotionDemoteBelow  = 0.4
)

// EvaluationService records scorecards and lessons and runs the autonomy
// promotion loop.
type EvaluationService struct {
	db                   *sql.DB
	broker               *events.Broker
	runs                 *RunService
	promotionLoopEnabled bool
}

// NewEvaluationService creates an evaluation service.
func NewEvaluationService(db *sql.DB, broker *events.Broker, runs *RunService, promotionLoopEnabled bool) *EvaluationService {
	return &EvaluationService{
		db:                   db,
		broker:               broker,
		runs:                 runs,
		promotionLoopEnabled: promotionLoopEnabled,
	}
}

// CreateScorecard records a rubric evaluation for an agent. The composite
// score is the mean of the rubric's scores. When the promotion loop is
// enabled, the trailing window average produces an autonomy
// recommendation in the same transaction.
func (s *EvaluationService) CreateScorecard(ctx context.Context, workspaceID, agentID string, rubric map[string]float64) (*models.Scorecard, error) {
	if agentID == "" {
		return nil, NewValidationError("agent_id", "agent_id is required")
	}
	if len(rubric) == 0 {
		return nil, NewValidationError("rubric", "rubric must have at least one score")
	}
	for name, score := range rubric {
		if score < 0 || score > 1 {
			return nil, NewValidationError("rubric", fmt.Sprintf("score %q must be in [0,1]", name))
		}
	}

	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM sec_agents WHERE workspace_id = $1 AND agent_id = $2)`,
		workspaceID, agentID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check agent: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{WorkspaceID: workspaceID})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	composite := compositeScore(rubric)
	rubricJSON, err := json.Marshal(rubric)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rubric: %w", err)
	}

	card := &models.Scorecard{
		ScorecardID:    ids.New(ids.PrefixScorecard),
		WorkspaceID:    workspaceID,
		AgentID:        agentID,
		Rubric:         rubricJSON,
		CompositeScore: composite,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO sec_scorecards (scorecard_id, workspace_id, agent_id, rubric, composite_score)
		VALUES ($1, $2, $3, $4, $5)`,
		card.ScorecardID, workspaceID, agentID, rubricJSON, composite,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record scorecard: %w", err)
	}

	if _, err := u.Emit(ctx, events.EventTypeScorecardRecorded, map[string]any{
		"scorecard_id":    card.ScorecardID,
		"agent_id":        agentID,
		"composite_score": composite,
	}); err != nil {
		return nil, err
	}

	if s.promotionLoopEnabled {
		if err := s.recommend(ctx, u, workspaceID, agentID); err != nil {
			return nil, err
		}
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return card, nil
}

// GetScorecard loads a scorecard within the workspace.
func (s *EvaluationService) GetScorecard(ctx context.Context, workspaceID, scorecardID string) (*models.Scorecard, error) {
	card := &models.Scorecard{}
	err := s.db.QueryRowContext(ctx, `
		SELECT scorecard_id, workspace_id, agent_id, rubric, composite_score, created_at
		FROM sec_scorecards
		WHERE workspace_id = $1 AND scorecard_id = $2`,
		workspaceID, scorecardID,
	).Scan(&card.ScorecardID, &card.WorkspaceID, &card.AgentID, &card.Rubric, &card.CompositeScore, &card.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load scorecard %s: %w", scorecardID, err)
	}
	return card, nil
}

// LessonInput is one lesson to record.
type LessonInput struct {
	Title         string
	Body          string
	Template      string
	Context       map[string]any
	EvidenceRunID string
}

// CreateLesson records an operational lesson. Templated lessons must
// carry context and run evidence; declared evidence must resolve to a run
// in the workspace.
func (s *EvaluationService) CreateLesson(ctx context.Context, workspaceID string, in LessonInput) (*models.Lesson, error) {
	if in.Title == "" {
		return nil, NewValidationError("title", "title is required")
	}
	if in.Template != "" && len(in.Context) == 0 {
		return nil, NewValidationError("context", "lesson_context_required")
	}
	if in.Template != "" && in.EvidenceRunID == "" {
		return nil, NewValidationError("evidence_run_id", "missing_evidence_for_template")
	}

	scope := uow.Scope{WorkspaceID: workspaceID}
	if in.EvidenceRunID != "" {
		run, err := s.runs.GetRun(ctx, workspaceID, in.EvidenceRunID)
		if errors.Is(err, ErrNotFound) {
			return nil, NewValidationError("evidence_run_id", "evidence_run_mismatch")
		}
		if err != nil {
			return nil, err
		}
		scope.RoomID = stringValue(run.RoomID)
		scope.RunID = run.RunID
		scope.CorrelationID = run.CorrelationID
		scope.CausationID = run.LastEventID
	}

	u, err := uow.Begin(ctx, s.db, s.broker, scope)
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	var contextJSON []byte
	if len(in.Context) > 0 {
		contextJSON, err = json.Marshal(in.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal lesson context: %w", err)
		}
	}

	lesson := &models.Lesson{
		LessonID:      ids.New(ids.PrefixLesson),
		WorkspaceID:   workspaceID,
		Title:         in.Title,
		Body:          in.Body,
		Template:      nullIfEmpty(in.Template),
		Context:       contextJSON,
		EvidenceRunID: nullIfEmpty(in.EvidenceRunID),
		CreatedAt:     time.Now().UTC(),
	}
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO sec_lessons (lesson_id, workspace_id, title, body, template, context, evidence_run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		lesson.LessonID, workspaceID, in.Title, in.Body, lesson.Template, contentOrNull(contextJSON), lesson.EvidenceRunID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to record lesson: %w", err)
	}

	if _, err := u.Emit(ctx, events.EventTypeLessonRecorded, map[string]any{
		"lesson_id":       lesson.LessonID,
		"title":           in.Title,
		"template":        in.Template,
		"evidence_run_id": in.EvidenceRunID,
	}); err != nil {
		return nil, err
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return lesson, nil
}

// recommend averages the agent's trailing scorecards and records an
// autonomy recommendation.
func (s *EvaluationService) recommend(ctx context.Context, u *uow.UnitOfWork, workspaceID, agentID string) error {
	rows, err := u.Tx().QueryContext(ctx, `
		SELECT composite_score FROM sec_scorecards
		WHERE workspace_id = $1 AND agent_id = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		workspaceID, agentID, promotionWindowSize,
	)
	if err != nil {
		return fmt.Errorf("failed to load trailing scorecards: %w", err)
	}
	defer rows.Close()

	var sum float64
	var n int
	for rows.Next() {
		var score float64
		if err := rows.Scan(&score); err != nil {
			return fmt.Errorf("failed to scan composite score: %w", err)
		}
		sum += score
		n++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	avg := sum / float64(n)
	recommendation := "hold"
	switch {
	case avg >= promotionPromoteAbove:
		recommendation = "promote"
	case avg < promotionDemoteBelow:
		recommendation = "demote"
	}

	recommendationID := ids.New(ids.PrefixRecommendation)
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO sec_autonomy_recommendations (recommendation_id, workspace_id, agent_id, recommendation, composite_score, window_size)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		recommendationID, workspaceID, agentID, recommendation, avg, n,
	)
	if err != nil {
		return fmt.Errorf("failed to record recommendation: %w", err)
	}

	_, err = u.Emit(ctx, events.EventTypeAutonomyRecommendation, map[string]any{
		"recommendation_id": recommendationID,
		"agent_id":          agentID,
		"recommendation":    recommendation,
		"composite_score":   avg,
		"window_size":       n,
	})
	return err
}

// compositeScore is the default scorer: the mean of the rubric's scores.
func compositeScore(rubric map[string]float64) float64 {
	var sum float64
	for _, score := range rubric {
		sum += score
	}
	return sum / float64(len(rubric))
}
