package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warden-dev/warden/pkg/egress"
	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/ids"
	"github.com/warden-dev/warden/pkg/metrics"
	"github.com/warden-dev/warden/pkg/models"
	"github.com/warden-dev/warden/pkg/uow"
)

// Processor claims and executes runs. Claiming and execution each ride
// their own unit of work, so the claim (run.started) and the terminal
// transition commit with their events.
type Processor struct {
	db       *sql.DB
	broker   *events.Broker
	egress   *egress.Controller
	leaseTTL time.Duration
}

// NewProcessor creates a run processor with the given lease TTL.
func NewProcessor(db *sql.DB, broker *events.Broker, ctrl *egress.Controller, leaseTTL time.Duration) *Processor {
	return &Processor{db: db, broker: broker, egress: ctrl, leaseTTL: leaseTTL}
}

// RunCycle claims up to batchLimit queued runs and executes each one.
// An empty workspaceID claims across all workspaces. Transient execution
// errors leave the run leased (counted as skipped); the lease sweep
// returns it to the queue.
func (p *Processor) RunCycle(ctx context.Context, workerID, workspaceID string, batchLimit int) (CycleResult, error) {
	var result CycleResult
	for i := 0; i < batchLimit; i++ {
		run, err := p.claimRun(ctx, workerID, workspaceID)
		if errors.Is(err, ErrNoRunsAvailable) {
			break
		}
		if err != nil {
			return result, err
		}
		result.Claimed++

		status, err := p.executeRun(ctx, run)
		if err != nil {
			result.Skipped++
			continue
		}
		switch status {
		case models.RunStatusSucceeded:
			result.Completed++
		case models.RunStatusFailed:
			result.Failed++
		}
		metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	}
	metrics.RunCyclesTotal.Inc()
	return result, nil
}

// claimRun atomically claims the oldest queued run using FOR UPDATE SKIP
// LOCKED, transitions it to running with a lease, and emits run.started.
func (p *Processor) claimRun(ctx context.Context, workerID, workspaceID string) (*claimedRun, error) {
	u, err := uow.Begin(ctx, p.db, p.broker, uow.Scope{})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	run := &claimedRun{}
	var roomID, threadID sql.NullString
	err = u.Tx().QueryRowContext(ctx, `
		SELECT run_id, workspace_id, room_id, thread_id, correlation_id, input, last_event_id
		FROM proj_runs
		WHERE status = 'queued' AND ($1 = '' OR workspace_id = $1)
		ORDER BY created_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1`,
		workspaceID,
	).Scan(&run.RunID, &run.WorkspaceID, &roomID, &threadID, &run.CorrelationID, &run.Input, &run.LastEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRunsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query queued run: %w", err)
	}
	run.RoomID = roomID.String
	run.ThreadID = threadID.String

	scope := u.Scope()
	scope.WorkspaceID = run.WorkspaceID
	scope.RoomID = run.RoomID
	scope.ThreadID = run.ThreadID
	scope.RunID = run.RunID
	scope.CorrelationID = run.CorrelationID
	scope.CausationID = run.LastEventID

	e, err := u.Emit(ctx, events.EventTypeRunStarted, map[string]any{
		"run_id":    run.RunID,
		"worker_id": workerID,
	})
	if err != nil {
		return nil, err
	}

	leaseExpiry := time.Now().UTC().Add(p.leaseTTL)
	_, err = u.Tx().ExecContext(ctx, `
		UPDATE proj_runs
		SET status = 'running', started_at = now(), worker_id = $2,
		    lease_expires_at = $3, last_event_id = $4
		WHERE run_id = $1`,
		run.RunID, workerID, leaseExpiry, e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim run %s: %w", run.RunID, err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	run.LastEventID = e.ID
	return run, nil
}

// executeRun runs the claimed run's declared tool-call and transitions it
// to a terminal state. All mutations and events share one unit of work.
func (p *Processor) executeRun(ctx context.Context, run *claimedRun) (models.RunStatus, error) {
	u, err := uow.Begin(ctx, p.db, p.broker, uow.Scope{
		WorkspaceID:   run.WorkspaceID,
		RoomID:        run.RoomID,
		ThreadID:      run.ThreadID,
		RunID:         run.RunID,
		CorrelationID: run.CorrelationID,
		CausationID:   run.LastEventID,
	})
	if err != nil {
		return "", err
	}
	defer u.Rollback()

	desc, err := parseEgressDescriptor(run.Input)
	if err != nil {
		return p.completeRun(ctx, u, run.RunID, models.RunStatusFailed, nil, "invalid_run_input")
	}

	// No declared tool-call: the run completes immediately.
	if desc == nil {
		return p.completeRun(ctx, u, run.RunID, models.RunStatusSucceeded, json.RawMessage(`{}`), "")
	}

	toolCallID := ids.New(ids.PrefixToolCall)
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO proj_tool_calls (tool_call_id, workspace_id, run_id, tool_name, status)
		VALUES ($1, $2, $3, 'egress.request', 'running')`,
		toolCallID, run.WorkspaceID, run.RunID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to record tool call: %w", err)
	}

	actorType, actorID := runActor(run.Input)
	outcome, err := p.egress.Check(ctx, u, egress.Request{
		Action:    desc.Action,
		TargetURL: desc.TargetURL,
		Method:    desc.Method,
		ActorType: actorType,
		ActorID:   actorID,
		RoomID:    run.RoomID,
		RunID:     run.RunID,
	})
	if errors.Is(err, egress.ErrInvalidTargetURL) {
		if err := p.finishToolCall(ctx, u, toolCallID, "failed", "invalid_target_url"); err != nil {
			return "", err
		}
		return p.completeRun(ctx, u, run.RunID, models.RunStatusFailed, nil, "invalid_target_url")
	}
	if err != nil {
		return "", err
	}

	if outcome.Blocked {
		if err := p.finishToolCall(ctx, u, toolCallID, "failed", outcome.ReasonCode); err != nil {
			return "", err
		}
		return p.completeRun(ctx, u, run.RunID, models.RunStatusFailed, nil, outcome.ReasonCode)
	}

	if err := p.finishToolCall(ctx, u, toolCallID, "succeeded", ""); err != nil {
		return "", err
	}
	output, err := json.Marshal(outcome)
	if err != nil {
		return "", fmt.Errorf("failed to marshal run output: %w", err)
	}
	return p.completeRun(ctx, u, run.RunID, models.RunStatusSucceeded, output, "")
}

// completeRun writes the terminal transition, emits the terminal event,
// and commits the unit of work.
func (p *Processor) completeRun(ctx context.Context, u *uow.UnitOfWork, runID string, status models.RunStatus, output json.RawMessage, reasonCode string) (models.RunStatus, error) {
	eventType := events.EventTypeRunSucceeded
	if status == models.RunStatusFailed {
		eventType = events.EventTypeRunFailed
	}

	data := map[string]any{"run_id": runID, "status": status}
	if reasonCode != "" {
		data["reason_code"] = reasonCode
	}
	e, err := u.Emit(ctx, eventType, data)
	if err != nil {
		return "", err
	}

	_, err = u.Tx().ExecContext(ctx, `
		UPDATE proj_runs
		SET status = $2, output = $3, reason_code = $4,
		    completed_at = now(), lease_expires_at = NULL, last_event_id = $5
		WHERE run_id = $1`,
		runID, string(status), output, nullable(reasonCode), e.ID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to complete run %s: %w", runID, err)
	}

	if err := u.Commit(); err != nil {
		return "", err
	}
	return status, nil
}

// finishToolCall writes the tool call's terminal status.
func (p *Processor) finishToolCall(ctx context.Context, u *uow.UnitOfWork, toolCallID, status, reasonCode string) error {
	_, err := u.Tx().ExecContext(ctx, `
		UPDATE proj_tool_calls
		SET status = $2, reason_code = $3, completed_at = now()
		WHERE tool_call_id = $1`,
		toolCallID, status, nullable(reasonCode),
	)
	if err != nil {
		return fmt.Errorf("failed to finish tool call %s: %w", toolCallID, err)
	}
	return nil
}

// runActor resolves the actor an egress check is made on behalf of: the
// run's declared agent when present, otherwise the worker service itself.
func runActor(input json.RawMessage) (actorType, actorID string) {
	var in struct {
		AgentID string `json:"agent_id"`
	}
	if len(input) > 0 {
		_ = json.Unmarshal(input, &in)
	}
	if in.AgentID != "" {
		return "agent", in.AgentID
	}
	return "service", "run-worker"
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
