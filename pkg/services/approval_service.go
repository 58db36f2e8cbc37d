package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/ids"
	"github.com/warden-dev/warden/pkg/models"
	"github.com/warden-dev/warden/pkg/uow"
)

// ApprovalService manages the approval lifecycle. A decided approve with
// a matching scope makes the policy evaluator allow the action until
// revoked.
type ApprovalService struct {
	db     *sql.DB
	broker *events.Broker
}

// NewApprovalService creates an approval service.
func NewApprovalService(db *sql.DB, broker *events.Broker) *ApprovalService {
	return &ApprovalService{db: db, broker: broker}
}

// decisionStatus maps a decide verb to the resulting approval status.
var decisionStatus = map[string]models.ApprovalStatus{
	"approve": models.ApprovalApproved,
	"reject":  models.ApprovalRejected,
	"revoke":  models.ApprovalRevoked,
}

// Create records a pending approval and emits approval.created.
func (s *ApprovalService) Create(ctx context.Context, workspaceID, action, requestedBy string, scope models.ApprovalScope, approvalContext json.RawMessage) (*models.Approval, error) {
	if action == "" {
		return nil, NewValidationError("action", "action is required")
	}
	switch scope.Type {
	case "workspace":
	case "room":
		if scope.RoomID == "" {
			return nil, NewValidationError("scope", "room scope requires room_id")
		}
	default:
		return nil, NewValidationError("scope", fmt.Sprintf("unknown scope type %q", scope.Type))
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{
		WorkspaceID: workspaceID,
		RoomID:      scope.RoomID,
	})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	approvalID := ids.New(ids.PrefixApproval)
	e, err := u.Emit(ctx, events.EventTypeApprovalCreated, map[string]any{
		"approval_id": approvalID,
		"action":      action,
		"scope":       scope,
	})
	if err != nil {
		return nil, err
	}

	scopeJSON, err := json.Marshal(scope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal approval scope: %w", err)
	}

	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO proj_approvals (approval_id, workspace_id, action, scope, status, requested_by, context, last_event_id)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)`,
		approvalID, workspaceID, action, scopeJSON, nullIfEmpty(requestedBy), contentOrNull(approvalContext), e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create approval: %w", err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, workspaceID, approvalID)
}

// Decide applies a decision to an approval and emits approval.decided.
// Idempotent on (approval_id, decision): re-deciding with the same verb
// returns the approval unchanged and emits nothing.
func (s *ApprovalService) Decide(ctx context.Context, workspaceID, approvalID, decision, decidedBy string) (*models.Approval, error) {
	target, ok := decisionStatus[decision]
	if !ok {
		return nil, NewValidationError("decision", fmt.Sprintf("unknown decision %q", decision))
	}

	approval, err := s.Get(ctx, workspaceID, approvalID)
	if err != nil {
		return nil, err
	}
	if approval.Status == target {
		return approval, nil
	}

	valid := approval.Status == models.ApprovalPending ||
		(approval.Status == models.ApprovalApproved && target == models.ApprovalRevoked)
	if !valid {
		return nil, NewValidationError("decision", fmt.Sprintf("cannot %s an approval that is %s", decision, approval.Status))
	}

	var scope models.ApprovalScope
	if err := json.Unmarshal(approval.Scope, &scope); err != nil {
		return nil, fmt.Errorf("failed to parse approval scope: %w", err)
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{
		WorkspaceID: workspaceID,
		RoomID:      scope.RoomID,
		CausationID: approval.LastEventID,
	})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	e, err := u.Emit(ctx, events.EventTypeApprovalDecided, map[string]any{
		"approval_id": approvalID,
		"decision":    decision,
		"status":      target,
		"decided_by":  decidedBy,
	})
	if err != nil {
		return nil, err
	}

	_, err = u.Tx().ExecContext(ctx, `
		UPDATE proj_approvals
		SET status = $2, decided_by = $3, decided_at = now(), last_event_id = $4
		WHERE approval_id = $1`,
		approvalID, string(target), nullIfEmpty(decidedBy), e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to decide approval %s: %w", approvalID, err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return s.Get(ctx, workspaceID, approvalID)
}

// Get loads an approval within the workspace.
func (s *ApprovalService) Get(ctx context.Context, workspaceID, approvalID string) (*models.Approval, error) {
	a := &models.Approval{}
	var decidedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT approval_id, workspace_id, action, scope, status, requested_by,
		       decided_by, decided_at, context, created_at, last_event_id
		FROM proj_approvals
		WHERE workspace_id = $1 AND approval_id = $2`,
		workspaceID, approvalID,
	).Scan(&a.ApprovalID, &a.WorkspaceID, &a.Action, &a.Scope, &a.Status, &a.RequestedBy,
		&a.DecidedBy, &decidedAt, &a.Context, &a.CreatedAt, &a.LastEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval %s: %w", approvalID, err)
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		a.DecidedAt = &t
	}
	return a, nil
}
