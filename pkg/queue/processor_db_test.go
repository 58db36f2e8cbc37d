package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/pkg/egress"
	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/learning"
	"github.com/warden-dev/warden/pkg/models"
	"github.com/warden-dev/warden/pkg/services"
	testdb "github.com/warden-dev/warden/test/database"
)

type processorEnv struct {
	processor   *Processor
	runs        *services.RunService
	store       *events.Store
	workspaceID string
}

func newProcessorEnv(t *testing.T) *processorEnv {
	t.Helper()

	client := testdb.NewTestClient(t)
	db := client.DB()
	store := events.NewStore(db)
	broker := events.NewBroker(store)

	pipeline := learning.NewPipeline()
	policies := services.NewPolicyService(db, broker, pipeline)
	ctrl := egress.NewController(100, policies, pipeline)
	rooms := services.NewRoomService(db, broker)

	return &processorEnv{
		processor:   NewProcessor(db, broker, ctrl, time.Minute),
		runs:        services.NewRunService(db, broker, rooms),
		store:       store,
		workspaceID: "ws-" + uuid.New().String(),
	}
}

func TestProcessor_RunCycle(t *testing.T) {
	env := newProcessorEnv(t)
	ctx := context.Background()

	t.Run("empty queue claims nothing", func(t *testing.T) {
		result, err := env.processor.RunCycle(ctx, "worker-1", env.workspaceID, 5)
		require.NoError(t, err)
		assert.Equal(t, CycleResult{}, result)
	})

	t.Run("executes declared egress and records outcomes", func(t *testing.T) {
		readInput := json.RawMessage(`{"runtime":{"egress":{"action":"internal.read","target_url":"https://api.example.com/fetch","method":"GET"}}}`)
		writeInput := json.RawMessage(`{"runtime":{"egress":{"action":"external.write","target_url":"https://hooks.example.net/notify","method":"POST"}}}`)

		runA, err := env.runs.CreateRun(ctx, env.workspaceID, "", "", readInput)
		require.NoError(t, err)
		runB, err := env.runs.CreateRun(ctx, env.workspaceID, "", "", writeInput)
		require.NoError(t, err)

		result, err := env.processor.RunCycle(ctx, "worker-1", env.workspaceID, 5)
		require.NoError(t, err)
		assert.Equal(t, CycleResult{Claimed: 2, Completed: 1, Failed: 1}, result)

		loadedA, err := env.runs.GetRun(ctx, env.workspaceID, runA.RunID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusSucceeded, loadedA.Status)
		assert.Contains(t, string(loadedA.Output), "api.example.com")

		loadedB, err := env.runs.GetRun(ctx, env.workspaceID, runB.RunID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusFailed, loadedB.Status)
		require.NotNil(t, loadedB.ReasonCode)
		assert.Equal(t, "external_write_requires_approval", *loadedB.ReasonCode)

		// Both checks were recorded, attributed to their runs.
		db := env.processor.db
		var allowed, blocked int
		err = db.QueryRowContext(ctx, `
			SELECT count(*) FILTER (WHERE NOT blocked), count(*) FILTER (WHERE blocked)
			FROM sec_egress_requests WHERE workspace_id = $1`,
			env.workspaceID,
		).Scan(&allowed, &blocked)
		require.NoError(t, err)
		assert.Equal(t, 1, allowed)
		assert.Equal(t, 1, blocked)

		var runID string
		err = db.QueryRowContext(ctx, `
			SELECT run_id FROM sec_egress_requests
			WHERE workspace_id = $1 AND blocked`,
			env.workspaceID,
		).Scan(&runID)
		require.NoError(t, err)
		assert.Equal(t, runB.RunID, runID)

		// Worker events inherit the runs' correlation ids.
		evts, err := env.store.EventsSince(ctx, env.workspaceID, events.StreamTypeWorkspace, env.workspaceID, 0)
		require.NoError(t, err)
		for _, e := range evts {
			if e.RunID != nil && *e.RunID == runA.RunID {
				assert.Equal(t, runA.CorrelationID, e.CorrelationID)
			}
		}
	})

	t.Run("run without a tool call completes immediately", func(t *testing.T) {
		run, err := env.runs.CreateRun(ctx, env.workspaceID, "", "", json.RawMessage(`{"task":"noop"}`))
		require.NoError(t, err)

		result, err := env.processor.RunCycle(ctx, "worker-1", env.workspaceID, 1)
		require.NoError(t, err)
		assert.Equal(t, CycleResult{Claimed: 1, Completed: 1}, result)

		loaded, err := env.runs.GetRun(ctx, env.workspaceID, run.RunID)
		require.NoError(t, err)
		assert.Equal(t, models.RunStatusSucceeded, loaded.Status)
	})

	t.Run("malformed input fails the run", func(t *testing.T) {
		run, err := env.runs.CreateRun(ctx, env.workspaceID, "", "", json.RawMessage(`{"runtime":{"egress":{"action":"internal.read","target_url":"::"}}}`))
		require.NoError(t, err)

		result, err := env.processor.RunCycle(ctx, "worker-1", env.workspaceID, 1)
		require.NoError(t, err)
		assert.Equal(t, CycleResult{Claimed: 1, Failed: 1}, result)

		loaded, err := env.runs.GetRun(ctx, env.workspaceID, run.RunID)
		require.NoError(t, err)
		require.NotNil(t, loaded.ReasonCode)
		assert.Equal(t, "invalid_target_url", *loaded.ReasonCode)
	})

	t.Run("batch limit bounds the cycle", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			_, err := env.runs.CreateRun(ctx, env.workspaceID, "", "", nil)
			require.NoError(t, err)
		}

		result, err := env.processor.RunCycle(ctx, "worker-1", env.workspaceID, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, result.Claimed)

		result, err = env.processor.RunCycle(ctx, "worker-1", env.workspaceID, 2)
		require.NoError(t, err)
		assert.Equal(t, 1, result.Claimed)
	})
}

func TestProcessor_SweepExpiredLeases(t *testing.T) {
	env := newProcessorEnv(t)
	ctx := context.Background()

	run, err := env.runs.CreateRun(ctx, env.workspaceID, "", "", nil)
	require.NoError(t, err)

	// Simulate a worker that died mid-run: running with an expired lease.
	db := env.processor.db
	_, err = db.ExecContext(ctx, `
		UPDATE proj_runs
		SET status = 'running', worker_id = 'worker-dead',
		    started_at = now() - interval '10 minutes',
		    lease_expires_at = now() - interval '5 minutes'
		WHERE run_id = $1`,
		run.RunID,
	)
	require.NoError(t, err)

	requeued, err := env.processor.SweepExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	loaded, err := env.runs.GetRun(ctx, env.workspaceID, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusQueued, loaded.Status)
	assert.Nil(t, loaded.WorkerID)

	// A live lease is left alone.
	result, err := env.processor.RunCycle(ctx, "worker-2", env.workspaceID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, result.Claimed)

	requeued, err = env.processor.SweepExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Zero(t, requeued)
}
