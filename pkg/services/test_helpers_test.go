package services

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/pkg/egress"
	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/learning"
	testdb "github.com/warden-dev/warden/test/database"
)

// testEnv wires the full service stack against an isolated test schema.
// Each test gets its own workspace id so assertions never see rows from
// another subtest.
type testEnv struct {
	db          *sql.DB
	broker      *events.Broker
	store       *events.Store
	workspaceID string

	principals *PrincipalService
	agents     *AgentService
	rooms      *RoomService
	runs       *RunService
	policies   *PolicyService
	approvals  *ApprovalService
	egress     *EgressService
	evals      *EvaluationService
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithRateLimit(t, 100)
}

func newTestEnvWithRateLimit(t *testing.T, egressMaxPerHour int) *testEnv {
	t.Helper()

	client := testdb.NewTestClient(t)
	db := client.DB()
	store := events.NewStore(db)
	broker := events.NewBroker(store)

	pipeline := learning.NewPipeline()
	policies := NewPolicyService(db, broker, pipeline)
	ctrl := egress.NewController(egressMaxPerHour, policies, pipeline)
	rooms := NewRoomService(db, broker)
	runs := NewRunService(db, broker, rooms)

	return &testEnv{
		db:          db,
		broker:      broker,
		store:       store,
		workspaceID: "ws-" + uuid.New().String(),
		principals:  NewPrincipalService(db),
		agents:      NewAgentService(db, broker),
		rooms:       rooms,
		runs:        runs,
		policies:    policies,
		approvals:   NewApprovalService(db, broker),
		egress:      NewEgressService(db, broker, ctrl),
		evals:       NewEvaluationService(db, broker, runs, true),
	}
}

// roomEvents reads every committed event on a room stream, in order.
func (e *testEnv) roomEvents(t *testing.T, roomID string) []*events.Event {
	t.Helper()
	evts, err := e.store.EventsSince(context.Background(), e.workspaceID, events.StreamTypeRoom, roomID, 0)
	require.NoError(t, err)
	return evts
}

// workspaceEvents reads every committed event on the workspace stream, in
// order.
func (e *testEnv) workspaceEvents(t *testing.T) []*events.Event {
	t.Helper()
	evts, err := e.store.EventsSince(context.Background(), e.workspaceID, events.StreamTypeWorkspace, e.workspaceID, 0)
	require.NoError(t, err)
	return evts
}

// eventsOfType filters events by type, preserving order.
func eventsOfType(evts []*events.Event, eventType string) []*events.Event {
	var out []*events.Event
	for _, evt := range evts {
		if evt.EventType == eventType {
			out = append(out, evt)
		}
	}
	return out
}
