package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/warden-dev/warden/pkg/config"
	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/learning"
	"github.com/warden-dev/warden/pkg/models"
	"github.com/warden-dev/warden/pkg/policy"
	"github.com/warden-dev/warden/pkg/uow"
)

// PolicyService assembles policy snapshots and serves explicit
// evaluations. It implements egress.SnapshotLoader.
type PolicyService struct {
	db       *sql.DB
	broker   *events.Broker
	pipeline *learning.Pipeline
}

// NewPolicyService creates a policy service.
func NewPolicyService(db *sql.DB, broker *events.Broker, pipeline *learning.Pipeline) *PolicyService {
	return &PolicyService{db: db, broker: broker, pipeline: pipeline}
}

// EvaluateInput is one explicit policy evaluation request.
type EvaluateInput struct {
	Action      string
	ActorType   string
	ActorID     string
	PrincipalID string
	RoomID      string
	TargetURL   string
	Context     map[string]any
}

// Load assembles the snapshot the evaluator decides against: live
// kill-switch and enforcement environment plus the workspace's approved
// approvals for the action. Reading the environment per evaluation lets
// operators flip the kill switch without a restart.
func (s *PolicyService) Load(ctx context.Context, tx *sql.Tx, workspaceID, action, roomID string) (policy.Snapshot, error) {
	snap := policy.Snapshot{
		KillSwitchExternalWrite: os.Getenv("POLICY_KILL_SWITCH_EXTERNAL_WRITE") == "1",
		Enforced:                enforcementMode() == config.EnforcementModeEnforce,
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT approval_id, action, scope
		FROM proj_approvals
		WHERE workspace_id = $1 AND action = $2 AND status = 'approved'`,
		workspaceID, action,
	)
	if err != nil {
		return snap, fmt.Errorf("failed to load approvals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var grant policy.ApprovalGrant
		var scopeJSON []byte
		if err := rows.Scan(&grant.ApprovalID, &grant.Action, &scopeJSON); err != nil {
			return snap, fmt.Errorf("failed to scan approval: %w", err)
		}
		var scope models.ApprovalScope
		if err := json.Unmarshal(scopeJSON, &scope); err != nil {
			return snap, fmt.Errorf("failed to parse approval scope: %w", err)
		}
		grant.ScopeType = scope.Type
		grant.RoomID = scope.RoomID
		snap.Approvals = append(snap.Approvals, grant)
	}
	return snap, rows.Err()
}

// Evaluate runs one explicit evaluation: it emits policy.evaluated and,
// on a require_approval or deny outcome, feeds the learning pipeline.
func (s *PolicyService) Evaluate(ctx context.Context, workspaceID string, in EvaluateInput) (*policy.Result, error) {
	if in.Action == "" {
		return nil, NewValidationError("action", "action is required")
	}
	if in.ActorType == "" || in.ActorID == "" {
		return nil, NewValidationError("actor", "actor_type and actor_id are required")
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{
		WorkspaceID: workspaceID,
		RoomID:      in.RoomID,
	})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	snap, err := s.Load(ctx, u.Tx(), workspaceID, in.Action, in.RoomID)
	if err != nil {
		return nil, err
	}

	pin := policy.Input{
		Action:      in.Action,
		ActorType:   in.ActorType,
		ActorID:     in.ActorID,
		PrincipalID: in.PrincipalID,
		RoomID:      in.RoomID,
		TargetURL:   in.TargetURL,
		Context:     in.Context,
	}
	res := policy.Evaluate(pin, snap)

	if _, err := u.Emit(ctx, events.EventTypePolicyEvaluated, map[string]any{
		"action":      in.Action,
		"actor_type":  in.ActorType,
		"actor_id":    in.ActorID,
		"decision":    res.Decision,
		"reason_code": res.ReasonCode,
		"enforced":    res.Enforced,
	}); err != nil {
		return nil, err
	}

	if res.Failure() {
		if err := s.pipeline.RecordFailure(ctx, u, pin, res); err != nil {
			return nil, err
		}
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return &res, nil
}

func enforcementMode() string {
	if v := os.Getenv("POLICY_ENFORCEMENT_MODE"); v != "" {
		return v
	}
	return config.EnforcementModeEnforce
}
