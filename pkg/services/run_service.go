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

// RunService manages run, step, and artifact projections. The run worker
// owns the claim path; this service covers the HTTP lifecycle.
type RunService struct {
	db     *sql.DB
	broker *events.Broker
	rooms  *RoomService
}

// NewRunService creates a run service.
func NewRunService(db *sql.DB, broker *events.Broker, rooms *RoomService) *RunService {
	return &RunService{db: db, broker: broker, rooms: rooms}
}

// CreateRun creates a queued run. The correlation id is minted here and
// propagated to every event emitted by the run or on its behalf.
func (s *RunService) CreateRun(ctx context.Context, workspaceID, roomID, threadID string, input json.RawMessage) (*models.Run, error) {
	if roomID != "" {
		if _, err := s.rooms.GetRoom(ctx, workspaceID, roomID); err != nil {
			return nil, err
		}
	}
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}

	runID := ids.New(ids.PrefixRun)
	correlationID := ids.New(ids.PrefixCorrelation)

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{
		WorkspaceID:   workspaceID,
		RoomID:        roomID,
		ThreadID:      threadID,
		RunID:         runID,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	e, err := u.Emit(ctx, events.EventTypeRunCreated, map[string]any{
		"run_id": runID,
		"status": models.RunStatusQueued,
	})
	if err != nil {
		return nil, err
	}

	run := &models.Run{
		RunID:         runID,
		WorkspaceID:   workspaceID,
		RoomID:        nullIfEmpty(roomID),
		ThreadID:      nullIfEmpty(threadID),
		Status:        models.RunStatusQueued,
		CorrelationID: correlationID,
		Input:         input,
		CreatedAt:     time.Now().UTC(),
		LastEventID:   e.ID,
	}
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO proj_runs (run_id, workspace_id, room_id, thread_id, status, correlation_id, input, last_event_id)
		VALUES ($1, $2, $3, $4, 'queued', $5, $6, $7)`,
		runID, workspaceID, nullIfEmpty(roomID), nullIfEmpty(threadID), correlationID, []byte(input), e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return run, nil
}

// Start transitions a queued run to running and emits run.started.
func (s *RunService) Start(ctx context.Context, workspaceID, runID string) (*models.Run, error) {
	run, err := s.GetRun(ctx, workspaceID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusQueued {
		return nil, NewValidationError("status", fmt.Sprintf("run is %s, not queued", run.Status))
	}

	u, err := s.runScope(ctx, run)
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	e, err := u.Emit(ctx, events.EventTypeRunStarted, map[string]any{
		"run_id": runID,
	})
	if err != nil {
		return nil, err
	}

	_, err = u.Tx().ExecContext(ctx, `
		UPDATE proj_runs
		SET status = 'running', started_at = now(), last_event_id = $2
		WHERE run_id = $1 AND status = 'queued'`,
		runID, e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start run %s: %w", runID, err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return s.GetRun(ctx, workspaceID, runID)
}

// Complete transitions a running run to a terminal state and emits the
// matching terminal event.
func (s *RunService) Complete(ctx context.Context, workspaceID, runID string, status models.RunStatus, output json.RawMessage, reasonCode string) (*models.Run, error) {
	switch status {
	case models.RunStatusSucceeded, models.RunStatusFailed, models.RunStatusCancelled:
	default:
		return nil, NewValidationError("status", fmt.Sprintf("%q is not a terminal status", status))
	}

	run, err := s.GetRun(ctx, workspaceID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != models.RunStatusRunning && run.Status != models.RunStatusQueued {
		return nil, NewValidationError("status", fmt.Sprintf("run is already %s", run.Status))
	}

	u, err := s.runScope(ctx, run)
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	eventType := events.EventTypeRunSucceeded
	switch status {
	case models.RunStatusFailed:
		eventType = events.EventTypeRunFailed
	case models.RunStatusCancelled:
		eventType = events.EventTypeRunCancelled
	}

	data := map[string]any{"run_id": runID, "status": status}
	if reasonCode != "" {
		data["reason_code"] = reasonCode
	}
	e, err := u.Emit(ctx, eventType, data)
	if err != nil {
		return nil, err
	}

	_, err = u.Tx().ExecContext(ctx, `
		UPDATE proj_runs
		SET status = $2, output = $3, reason_code = $4, completed_at = now(),
		    lease_expires_at = NULL, last_event_id = $5
		WHERE run_id = $1`,
		runID, string(status), []byte(output), nullIfEmpty(reasonCode), e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to complete run %s: %w", runID, err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return s.GetRun(ctx, workspaceID, runID)
}

// CreateStep creates a step under a run and emits step.created, chained
// to the run's latest event.
func (s *RunService) CreateStep(ctx context.Context, workspaceID, runID, name string) (*models.Step, error) {
	if name == "" {
		return nil, NewValidationError("name", "name is required")
	}
	run, err := s.GetRun(ctx, workspaceID, runID)
	if err != nil {
		return nil, err
	}

	u, err := s.runScope(ctx, run)
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	stepID := ids.New(ids.PrefixStep)
	u.Scope().StepID = stepID

	e, err := u.Emit(ctx, events.EventTypeStepCreated, map[string]any{
		"step_id": stepID,
		"run_id":  runID,
		"name":    name,
	})
	if err != nil {
		return nil, err
	}

	step := &models.Step{
		StepID:      stepID,
		WorkspaceID: workspaceID,
		RunID:       runID,
		Name:        name,
		Status:      "created",
		CreatedAt:   time.Now().UTC(),
		LastEventID: e.ID,
	}
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO proj_steps (step_id, workspace_id, run_id, name, status, last_event_id)
		VALUES ($1, $2, $3, $4, 'created', $5)`,
		stepID, workspaceID, runID, name, e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create step: %w", err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return step, nil
}

// CreateArtifact records an artifact produced by a step. The event
// inherits the run's correlation id; its causation is the step's latest
// event.
func (s *RunService) CreateArtifact(ctx context.Context, workspaceID, stepID, name, mediaType string, content json.RawMessage) (*models.Artifact, error) {
	if name == "" {
		return nil, NewValidationError("name", "name is required")
	}
	if mediaType == "" {
		mediaType = "application/json"
	}

	step, err := s.GetStep(ctx, workspaceID, stepID)
	if err != nil {
		return nil, err
	}
	run, err := s.GetRun(ctx, workspaceID, step.RunID)
	if err != nil {
		return nil, err
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{
		WorkspaceID:   workspaceID,
		RoomID:        stringValue(run.RoomID),
		ThreadID:      stringValue(run.ThreadID),
		RunID:         run.RunID,
		StepID:        stepID,
		CorrelationID: run.CorrelationID,
		CausationID:   step.LastEventID,
	})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	artifactID := ids.New(ids.PrefixArtifact)
	e, err := u.Emit(ctx, events.EventTypeArtifactCreated, map[string]any{
		"artifact_id": artifactID,
		"step_id":     stepID,
		"run_id":      run.RunID,
		"name":        name,
		"media_type":  mediaType,
	})
	if err != nil {
		return nil, err
	}

	artifact := &models.Artifact{
		ArtifactID:  artifactID,
		WorkspaceID: workspaceID,
		RunID:       &run.RunID,
		StepID:      &step.StepID,
		RoomID:      run.RoomID,
		Name:        name,
		MediaType:   mediaType,
		Content:     content,
		CreatedAt:   time.Now().UTC(),
		LastEventID: e.ID,
	}
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO proj_artifacts (artifact_id, workspace_id, run_id, step_id, room_id, name, media_type, content, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		artifactID, workspaceID, run.RunID, stepID, run.RoomID, name, mediaType, contentOrNull(content), e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact: %w", err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return artifact, nil
}

// GetRun loads a run within the workspace.
func (s *RunService) GetRun(ctx context.Context, workspaceID, runID string) (*models.Run, error) {
	run := &models.Run{}
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, workspace_id, room_id, thread_id, status, correlation_id,
		       input, output, reason_code, worker_id, created_at, started_at,
		       completed_at, last_event_id
		FROM proj_runs
		WHERE workspace_id = $1 AND run_id = $2`,
		workspaceID, runID,
	).Scan(&run.RunID, &run.WorkspaceID, &run.RoomID, &run.ThreadID, &run.Status,
		&run.CorrelationID, &run.Input, &run.Output, &run.ReasonCode, &run.WorkerID,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt, &run.LastEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
	}
	return run, nil
}

// GetStep loads a step within the workspace.
func (s *RunService) GetStep(ctx context.Context, workspaceID, stepID string) (*models.Step, error) {
	step := &models.Step{}
	err := s.db.QueryRowContext(ctx, `
		SELECT step_id, workspace_id, run_id, name, status, created_at, last_event_id
		FROM proj_steps
		WHERE workspace_id = $1 AND step_id = $2`,
		workspaceID, stepID,
	).Scan(&step.StepID, &step.WorkspaceID, &step.RunID, &step.Name, &step.Status, &step.CreatedAt, &step.LastEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load step %s: %w", stepID, err)
	}
	return step, nil
}

// ListArtifacts returns the workspace's artifacts, newest first.
func (s *RunService) ListArtifacts(ctx context.Context, workspaceID string) ([]models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artifact_id, workspace_id, run_id, step_id, room_id, name, media_type, content, created_at, last_event_id
		FROM proj_artifacts
		WHERE workspace_id = $1
		ORDER BY created_at DESC`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ArtifactID, &a.WorkspaceID, &a.RunID, &a.StepID, &a.RoomID,
			&a.Name, &a.MediaType, &a.Content, &a.CreatedAt, &a.LastEventID); err != nil {
			return nil, fmt.Errorf("failed to scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}

// GetArtifact loads an artifact within the workspace.
func (s *RunService) GetArtifact(ctx context.Context, workspaceID, artifactID string) (*models.Artifact, error) {
	a := &models.Artifact{}
	err := s.db.QueryRowContext(ctx, `
		SELECT artifact_id, workspace_id, run_id, step_id, room_id, name, media_type, content, created_at, last_event_id
		FROM proj_artifacts
		WHERE workspace_id = $1 AND artifact_id = $2`,
		workspaceID, artifactID,
	).Scan(&a.ArtifactID, &a.WorkspaceID, &a.RunID, &a.StepID, &a.RoomID,
		&a.Name, &a.MediaType, &a.Content, &a.CreatedAt, &a.LastEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load artifact %s: %w", artifactID, err)
	}
	return a, nil
}

// runScope opens a unit of work scoped to the run: its correlation id and
// latest event as causation.
func (s *RunService) runScope(ctx context.Context, run *models.Run) (*uow.UnitOfWork, error) {
	return uow.Begin(ctx, s.db, s.broker, uow.Scope{
		WorkspaceID:   run.WorkspaceID,
		RoomID:        stringValue(run.RoomID),
		ThreadID:      stringValue(run.ThreadID),
		RunID:         run.RunID,
		CorrelationID: run.CorrelationID,
		CausationID:   run.LastEventID,
	})
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func contentOrNull(content json.RawMessage) []byte {
	if len(content) == 0 {
		return nil
	}
	return content
}
