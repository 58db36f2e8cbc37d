package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/pkg/config"
	"github.com/warden-dev/warden/pkg/egress"
	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/learning"
	"github.com/warden-dev/warden/pkg/queue"
	"github.com/warden-dev/warden/pkg/services"
	"github.com/warden-dev/warden/pkg/snapshot"
	testdb "github.com/warden-dev/warden/test/database"
)

// newTestServer wires the full stack against an isolated test schema and
// returns the router plus the workspace id test requests should use.
func newTestServer(t *testing.T) (*gin.Engine, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	client := testdb.NewTestClient(t)
	db := client.DB()
	broker := events.NewBroker(events.NewStore(db))

	cfg := &config.Config{
		EnforcementMode:          config.EnforcementModeEnforce,
		EgressMaxRequestsPerHour: 100,
		WorkerBatchLimit:         10,
		RunLeaseTTL:              time.Minute,
	}

	pipeline := learning.NewPipeline()
	policies := services.NewPolicyService(db, broker, pipeline)
	ctrl := egress.NewController(cfg.EgressMaxRequestsPerHour, policies, pipeline)
	rooms := services.NewRoomService(db, broker)
	runs := services.NewRunService(db, broker, rooms)

	server := NewServer(ServerDeps{
		DB:         client,
		Broker:     broker,
		Config:     cfg,
		Principals: services.NewPrincipalService(db),
		Agents:     services.NewAgentService(db, broker),
		Rooms:      rooms,
		Runs:       runs,
		Policies:   policies,
		Approvals:  services.NewApprovalService(db, broker),
		Egress:     services.NewEgressService(db, broker, ctrl),
		Evals:      services.NewEvaluationService(db, broker, runs, true),
		Processor:  queue.NewProcessor(db, broker, ctrl, cfg.RunLeaseTTL),
		Snapshots:  snapshot.NewJob(db, broker),
	})

	router := gin.New()
	server.RegisterRoutes(router)
	return router, "ws-" + uuid.New().String()
}

func doJSON(t *testing.T, router *gin.Engine, method, path, workspaceID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if workspaceID != "" {
		req.Header.Set("x-workspace-id", workspaceID)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestServer_WorkspaceHeader(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/rooms", "", `{"title":"room"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "x-workspace-id")
}

func TestServer_Health(t *testing.T) {
	router, _ := newTestServer(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestServer_RoomFlow(t *testing.T) {
	router, workspaceID := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/rooms", workspaceID, `{"title":"ops"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var room struct {
		RoomID string `json:"room_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &room))
	require.NotEmpty(t, room.RoomID)

	rec = doJSON(t, router, http.MethodPost, "/v1/rooms/"+room.RoomID+"/threads", workspaceID, `{"title":"triage"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var thread struct {
		ThreadID string `json:"thread_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &thread))

	rec = doJSON(t, router, http.MethodPost, "/v1/threads/"+thread.ThreadID+"/messages", workspaceID,
		`{"author_type":"user","author_id":"u-1","body":"hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	t.Run("missing body is a 400", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/v1/rooms", workspaceID, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown room is a 404", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/v1/rooms/rm_missing/threads", workspaceID, `{"title":"x"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("another workspace cannot see the room", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/v1/rooms/"+room.RoomID+"/threads", "ws-other", `{"title":"x"}`)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("room stream replays events as SSE frames", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		req := httptest.NewRequest(http.MethodGet, "/v1/streams/rooms/"+room.RoomID+"?from_seq=0", nil).WithContext(ctx)
		req.Header.Set("x-workspace-id", workspaceID)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

		frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
		require.Len(t, frames, 3)
		for i, frame := range frames {
			require.True(t, strings.HasPrefix(frame, "data: "))
			var e struct {
				EventType   string  `json:"event_type"`
				StreamSeq   int64   `json:"stream_seq"`
				CausationID *string `json:"causation_id"`
			}
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &e))
			assert.Equal(t, int64(i+1), e.StreamSeq)
		}
		assert.Contains(t, frames[2], `"event_type":"message.created"`)
		assert.Contains(t, frames[2], `"causation_id":null`)
	})

	t.Run("from_seq skips replayed events", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		req := httptest.NewRequest(http.MethodGet, "/v1/streams/rooms/"+room.RoomID+"?from_seq=2", nil).WithContext(ctx)
		req.Header.Set("x-workspace-id", workspaceID)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
		require.Len(t, frames, 1)
		assert.Contains(t, frames[0], `"stream_seq":3`)
	})

	t.Run("negative from_seq is a 400", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/v1/streams/rooms/"+room.RoomID+"?from_seq=-1", workspaceID, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestServer_RunWorkerEndpoints(t *testing.T) {
	router, workspaceID := newTestServer(t)

	body := `{"input":{"runtime":{"egress":{"action":"internal.read","target_url":"https://api.example.com/a","method":"GET"}}}}`
	rec := doJSON(t, router, http.MethodPost, "/v1/runs", workspaceID, body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var run struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	rec = doJSON(t, router, http.MethodPost, "/v1/workers/runs/cycle", workspaceID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cycle queue.CycleResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cycle))
	assert.Equal(t, queue.CycleResult{Claimed: 1, Completed: 1}, cycle)
}

func TestServer_SnapshotEndpoint(t *testing.T) {
	router, workspaceID := newTestServer(t)

	rec := doJSON(t, router, http.MethodPost, "/v1/agents", workspaceID, `{"display_name":"bot"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	day := time.Now().UTC().Format("2006-01-02")
	rec = doJSON(t, router, http.MethodPost, "/v1/jobs/daily-snapshot", workspaceID, fmt.Sprintf(`{"date":%q}`, day))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"written_rows":1`)

	rec = doJSON(t, router, http.MethodPost, "/v1/jobs/daily-snapshot", workspaceID, fmt.Sprintf(`{"date":%q}`, day))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"written_rows":0`)

	t.Run("bad date is a 400", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodPost, "/v1/jobs/daily-snapshot", workspaceID, `{"date":"24-08-2026"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
