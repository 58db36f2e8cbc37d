package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/models"
)

func TestRunService_Lifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	room, err := env.rooms.CreateRoom(ctx, env.workspaceID, "room")
	require.NoError(t, err)

	t.Run("create, start, complete", func(t *testing.T) {
		run, err := env.runs.CreateRun(ctx, env.workspaceID, room.RoomID, "", json.RawMessage(`{"task":"summarize"}`))
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusQueued, run.Status)
		assert.NotEmpty(t, run.CorrelationID)

		started, err := env.runs.Start(ctx, env.workspaceID, run.RunID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusRunning, started.Status)

		done, err := env.runs.Complete(ctx, env.workspaceID, run.RunID, models.RunStatusSucceeded, json.RawMessage(`{"ok":true}`), "")
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusSucceeded, done.Status)
		assert.NotNil(t, done.CompletedAt)
	})

	t.Run("cannot start a run twice", func(t *testing.T) {
		run, err := env.runs.CreateRun(ctx, env.workspaceID, room.RoomID, "", nil)
		require.NoError(t, err)

		_, err = env.runs.Start(ctx, env.workspaceID, run.RunID)
		require.NoError(t, err)
		_, err = env.runs.Start(ctx, env.workspaceID, run.RunID)
		assert.True(t, IsValidationError(err))
	})

	t.Run("cannot complete a finished run", func(t *testing.T) {
		run, err := env.runs.CreateRun(ctx, env.workspaceID, "", "", nil)
		require.NoError(t, err)
		_, err = env.runs.Complete(ctx, env.workspaceID, run.RunID, models.RunStatusCancelled, nil, "operator")
		require.NoError(t, err)

		_, err = env.runs.Complete(ctx, env.workspaceID, run.RunID, models.RunStatusFailed, nil, "late")
		assert.True(t, IsValidationError(err))
	})

	t.Run("rejects non-terminal completion status", func(t *testing.T) {
		run, err := env.runs.CreateRun(ctx, env.workspaceID, "", "", nil)
		require.NoError(t, err)
		_, err = env.runs.Complete(ctx, env.workspaceID, run.RunID, models.RunStatusRunning, nil, "")
		assert.True(t, IsValidationError(err))
	})
}

// TestRunService_CorrelationInheritance checks that every event emitted
// on a run's behalf carries the run's correlation id, and that each
// lifecycle event chains causally to the previous one.
func TestRunService_CorrelationInheritance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	room, err := env.rooms.CreateRoom(ctx, env.workspaceID, "room")
	require.NoError(t, err)

	run, err := env.runs.CreateRun(ctx, env.workspaceID, room.RoomID, "", nil)
	require.NoError(t, err)
	_, err = env.runs.Start(ctx, env.workspaceID, run.RunID)
	require.NoError(t, err)
	step, err := env.runs.CreateStep(ctx, env.workspaceID, run.RunID, "fetch")
	require.NoError(t, err)
	artifact, err := env.runs.CreateArtifact(ctx, env.workspaceID, step.StepID, "report", "application/json", json.RawMessage(`{"rows":3}`))
	require.NoError(t, err)

	evts := env.roomEvents(t, room.RoomID)

	var created, startedEvt, stepEvt, artifactEvt *events.Event
	for _, e := range evts {
		switch e.EventType {
		case events.EventTypeRunCreated:
			created = e
		case events.EventTypeRunStarted:
			startedEvt = e
		case events.EventTypeStepCreated:
			stepEvt = e
		case events.EventTypeArtifactCreated:
			artifactEvt = e
		}
	}
	require.NotNil(t, created)
	require.NotNil(t, startedEvt)
	require.NotNil(t, stepEvt)
	require.NotNil(t, artifactEvt)

	// Correlation: all run events share the run's correlation id.
	for _, e := range []*events.Event{created, startedEvt, stepEvt, artifactEvt} {
		assert.Equal(t, run.CorrelationID, e.CorrelationID)
		require.NotNil(t, e.RunID)
		assert.Equal(t, run.RunID, *e.RunID)
	}

	// Causation: the chain follows the lifecycle.
	assert.Nil(t, created.CausationID)
	require.NotNil(t, startedEvt.CausationID)
	assert.Equal(t, created.ID, *startedEvt.CausationID)
	require.NotNil(t, stepEvt.CausationID)
	assert.Equal(t, startedEvt.ID, *stepEvt.CausationID)
	require.NotNil(t, artifactEvt.CausationID)
	assert.Equal(t, stepEvt.ID, *artifactEvt.CausationID, "artifact chains to the step that produced it")

	require.NotNil(t, artifactEvt.StepID)
	assert.Equal(t, step.StepID, *artifactEvt.StepID)

	loaded, err := env.runs.GetArtifact(ctx, env.workspaceID, artifact.ArtifactID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":3}`, string(loaded.Content))
}

func TestRunService_GetNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.runs.GetRun(ctx, env.workspaceID, "run_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.runs.GetStep(ctx, env.workspaceID, "stp_missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = env.runs.GetArtifact(ctx, env.workspaceID, "art_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
