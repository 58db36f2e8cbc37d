package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/warden-dev/warden/pkg/egress"
	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/uow"
)

// EgressService serves explicit egress checks over HTTP. The controller
// does the work; this layer validates input, resolves the actor's
// principal, and owns the unit of work.
type EgressService struct {
	db     *sql.DB
	broker *events.Broker
	ctrl   *egress.Controller
}

// NewEgressService creates an egress service.
func NewEgressService(db *sql.DB, broker *events.Broker, ctrl *egress.Controller) *EgressService {
	return &EgressService{db: db, broker: broker, ctrl: ctrl}
}

// Check evaluates one egress request and records the decision.
func (s *EgressService) Check(ctx context.Context, workspaceID string, req egress.Request) (*egress.Outcome, error) {
	if req.Action == "" {
		return nil, NewValidationError("action", "action is required")
	}
	if req.TargetURL == "" {
		return nil, NewValidationError("target_url", "target_url is required")
	}
	if req.Method == "" {
		req.Method = "GET"
	}
	if req.ActorType == "" || req.ActorID == "" {
		return nil, NewValidationError("actor", "actor_type and actor_id are required")
	}

	if req.PrincipalID == "" {
		principalID, err := s.resolvePrincipal(ctx, workspaceID, req.ActorType, req.ActorID)
		if err != nil {
			return nil, err
		}
		req.PrincipalID = principalID
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{
		WorkspaceID: workspaceID,
		RoomID:      req.RoomID,
		RunID:       req.RunID,
	})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	outcome, err := s.ctrl.Check(ctx, u, req)
	if errors.Is(err, egress.ErrInvalidTargetURL) {
		return nil, NewValidationError("target_url", err.Error())
	}
	if err != nil {
		return nil, err
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return outcome, nil
}

// resolvePrincipal looks up the actor's principal id; unknown actors
// resolve to the empty id and are counted by their legacy pair.
func (s *EgressService) resolvePrincipal(ctx context.Context, workspaceID, actorType, actorID string) (string, error) {
	var principalID string
	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id FROM sec_principals
		WHERE workspace_id = $1 AND legacy_actor_type = $2 AND legacy_actor_id = $3`,
		workspaceID, actorType, actorID,
	).Scan(&principalID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve principal: %w", err)
	}
	return principalID, nil
}
