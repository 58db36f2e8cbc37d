package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warden-dev/warden/pkg/ids"
	"github.com/warden-dev/warden/pkg/models"
)

// PrincipalService manages unified actor identities.
type PrincipalService struct {
	db *sql.DB
}

// NewPrincipalService creates a principal service.
func NewPrincipalService(db *sql.DB) *PrincipalService {
	return &PrincipalService{db: db}
}

// EnsureLegacy idempotently resolves the principal for a legacy actor
// pair, creating it on first sight. Returns the principal and whether it
// was created by this call.
func (s *PrincipalService) EnsureLegacy(ctx context.Context, workspaceID string, principalType models.PrincipalType, actorType, actorID string) (*models.Principal, bool, error) {
	if actorType == "" || actorID == "" {
		return nil, false, NewValidationError("actor", "legacy_actor_type and legacy_actor_id are required")
	}
	switch principalType {
	case models.PrincipalTypeUser, models.PrincipalTypeService, models.PrincipalTypeAgent:
	default:
		return nil, false, NewValidationError("principal_type", fmt.Sprintf("unknown principal type %q", principalType))
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO sec_principals (principal_id, workspace_id, principal_type, legacy_actor_type, legacy_actor_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (workspace_id, legacy_actor_type, legacy_actor_id) DO NOTHING`,
		ids.New(ids.PrefixPrincipal), workspaceID, string(principalType), actorType, actorID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to ensure principal: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to check principal insert: %w", err)
	}

	p, err := s.getByActor(ctx, workspaceID, actorType, actorID)
	if err != nil {
		return nil, false, err
	}
	return p, inserted == 1, nil
}

func (s *PrincipalService) getByActor(ctx context.Context, workspaceID, actorType, actorID string) (*models.Principal, error) {
	p := &models.Principal{}
	err := s.db.QueryRowContext(ctx, `
		SELECT principal_id, workspace_id, principal_type, legacy_actor_type, legacy_actor_id, created_at
		FROM sec_principals
		WHERE workspace_id = $1 AND legacy_actor_type = $2 AND legacy_actor_id = $3`,
		workspaceID, actorType, actorID,
	).Scan(&p.PrincipalID, &p.WorkspaceID, &p.PrincipalType, &p.LegacyActorType, &p.LegacyActorID, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to load principal: %w", err)
	}
	return p, nil
}
