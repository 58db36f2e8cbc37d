package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/services"
	testdb "github.com/warden-dev/warden/test/database"
)

func TestJob_Run(t *testing.T) {
	client := testdb.NewTestClient(t)
	db := client.DB()
	store := events.NewStore(db)
	broker := events.NewBroker(store)
	agents := services.NewAgentService(db, broker)
	job := NewJob(db, broker)
	ctx := context.Background()
	workspaceID := "ws-" + uuid.New().String()

	agent, err := agents.Register(ctx, workspaceID, "snapshot-bot")
	require.NoError(t, err)

	date := time.Now().UTC()
	day := date.Format("2006-01-02")

	t.Run("writes one row per agent and emits per written row", func(t *testing.T) {
		written, err := job.Run(ctx, workspaceID, date)
		require.NoError(t, err)
		assert.Equal(t, 1, written)

		snapshots, err := agents.Snapshots(ctx, workspaceID, agent.AgentID, 30)
		require.NoError(t, err)
		require.Len(t, snapshots, 1)
		assert.Equal(t, day, snapshots[0].SnapshotDate)
		assert.InDelta(t, 0.5, snapshots[0].TrustScore, 1e-9, "clean agent sits at the baseline")
		assert.InDelta(t, 1.0, snapshots[0].AutonomyRate, 1e-9, "no egress traffic means full autonomy")

		evts, err := store.EventsSince(ctx, workspaceID, events.StreamTypeWorkspace, workspaceID, 0)
		require.NoError(t, err)
		var emitted int
		for _, e := range evts {
			if e.EventType == events.EventTypeDailyAgentSnapshot {
				emitted++
			}
		}
		assert.Equal(t, 1, emitted)
	})

	t.Run("second run for the same date writes and emits nothing", func(t *testing.T) {
		written, err := job.Run(ctx, workspaceID, date)
		require.NoError(t, err)
		assert.Zero(t, written)

		evts, err := store.EventsSince(ctx, workspaceID, events.StreamTypeWorkspace, workspaceID, 0)
		require.NoError(t, err)
		var emitted int
		for _, e := range evts {
			if e.EventType == events.EventTypeDailyAgentSnapshot {
				emitted++
			}
		}
		assert.Equal(t, 1, emitted, "idempotent rerun must not narrate again")
	})

	t.Run("a new day writes a fresh row", func(t *testing.T) {
		written, err := job.Run(ctx, workspaceID, date.AddDate(0, 0, 1))
		require.NoError(t, err)
		assert.Equal(t, 1, written)

		snapshots, err := agents.Snapshots(ctx, workspaceID, agent.AgentID, 30)
		require.NoError(t, err)
		assert.Len(t, snapshots, 2)
	})

	t.Run("quarantined agent loses trust", func(t *testing.T) {
		require.NoError(t, agents.Quarantine(ctx, workspaceID, agent.AgentID, "testing"))

		written, err := job.Run(ctx, workspaceID, date.AddDate(0, 0, 2))
		require.NoError(t, err)
		assert.Equal(t, 1, written)

		snapshots, err := agents.Snapshots(ctx, workspaceID, agent.AgentID, 30)
		require.NoError(t, err)
		require.NotEmpty(t, snapshots)
		assert.InDelta(t, 0.2, snapshots[0].TrustScore, 1e-9, "quarantine costs 0.3 from the baseline")
	})
}
