package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/ids"
	"github.com/warden-dev/warden/pkg/models"
	"github.com/warden-dev/warden/pkg/skills"
	"github.com/warden-dev/warden/pkg/uow"
)

// AgentService manages agent registration, skill inventory, and manual
// quarantine.
type AgentService struct {
	db     *sql.DB
	broker *events.Broker
}

// NewAgentService creates an agent service.
func NewAgentService(db *sql.DB, broker *events.Broker) *AgentService {
	return &AgentService{db: db, broker: broker}
}

// Register creates an agent and its owning principal in one transaction
// and emits agent.registered.
func (s *AgentService) Register(ctx context.Context, workspaceID, displayName string) (*models.Agent, error) {
	if displayName == "" {
		return nil, NewValidationError("display_name", "display_name is required")
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{WorkspaceID: workspaceID})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	agentID := ids.New(ids.PrefixAgent)
	principalID := ids.New(ids.PrefixPrincipal)

	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO sec_principals (principal_id, workspace_id, principal_type, legacy_actor_type, legacy_actor_id)
		VALUES ($1, $2, 'agent', 'agent', $3)`,
		principalID, workspaceID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent principal: %w", err)
	}

	e, err := u.Emit(ctx, events.EventTypeAgentRegistered, map[string]any{
		"agent_id":     agentID,
		"principal_id": principalID,
		"display_name": displayName,
	})
	if err != nil {
		return nil, err
	}

	agent := &models.Agent{
		AgentID:     agentID,
		WorkspaceID: workspaceID,
		PrincipalID: principalID,
		DisplayName: displayName,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO sec_agents (agent_id, workspace_id, principal_id, display_name, last_event_id)
		VALUES ($1, $2, $3, $4, $5)`,
		agentID, workspaceID, principalID, displayName, e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return agent, nil
}

// Get loads an agent within the workspace.
func (s *AgentService) Get(ctx context.Context, workspaceID, agentID string) (*models.Agent, error) {
	a := &models.Agent{}
	err := s.db.QueryRowContext(ctx, `
		SELECT agent_id, workspace_id, principal_id, display_name, quarantined_at, quarantine_reason, created_at
		FROM sec_agents
		WHERE workspace_id = $1 AND agent_id = $2`,
		workspaceID, agentID,
	).Scan(&a.AgentID, &a.WorkspaceID, &a.PrincipalID, &a.DisplayName, &a.QuarantinedAt, &a.QuarantineReason, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load agent %s: %w", agentID, err)
	}
	return a, nil
}

// ImportSkills classifies and stores an inventory of skill packages.
// Import is idempotent on (agent, skill_id, version, hash): resubmitting
// the same inventory yields identical summary counts and no new rows.
func (s *AgentService) ImportSkills(ctx context.Context, workspaceID, agentID string, items []skills.InventoryItem) (*models.ImportSummary, error) {
	if len(items) == 0 {
		return nil, NewValidationError("items", "at least one inventory item is required")
	}
	if _, err := s.Get(ctx, workspaceID, agentID); err != nil {
		return nil, err
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{WorkspaceID: workspaceID})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	summary := &models.ImportSummary{Total: len(items)}
	for _, item := range items {
		if item.SkillID == "" || item.Version == "" || item.HashSHA256 == "" {
			return nil, NewValidationError("items", "skill_id, version, and hash_sha256 are required")
		}
		v := skills.Verify(item)
		switch v.Status {
		case models.SkillVerified:
			summary.Verified++
		case models.SkillPending:
			summary.Pending++
		case models.SkillQuarantined:
			summary.Quarantined++
		}

		_, err = u.Tx().ExecContext(ctx, `
			INSERT INTO sec_agent_skill_packages (
				skill_package_id, workspace_id, agent_id, skill_id, version,
				hash_sha256, verification_status, verification_reason
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (workspace_id, agent_id, skill_id, version, hash_sha256) DO NOTHING`,
			ids.New(ids.PrefixSkillPackage), workspaceID, agentID, item.SkillID, item.Version,
			item.HashSHA256, string(v.Status), nullIfEmpty(v.Reason),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to store skill package %s: %w", item.SkillID, err)
		}
	}

	if _, err := u.Emit(ctx, events.EventTypeSkillsImported, map[string]any{
		"agent_id": agentID,
		"summary":  summary,
	}); err != nil {
		return nil, err
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return summary, nil
}

// ReviewPending re-verifies the agent's pending skill packages. A pending
// package still has no verifiable signature, so review quarantines it
// with reason verify_signature_required.
func (s *AgentService) ReviewPending(ctx context.Context, workspaceID, agentID string) (int, error) {
	if _, err := s.Get(ctx, workspaceID, agentID); err != nil {
		return 0, err
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{WorkspaceID: workspaceID})
	if err != nil {
		return 0, err
	}
	defer u.Rollback()

	res, err := u.Tx().ExecContext(ctx, `
		UPDATE sec_agent_skill_packages
		SET verification_status = 'quarantined', verification_reason = $3, updated_at = now()
		WHERE workspace_id = $1 AND agent_id = $2 AND verification_status = 'pending'`,
		workspaceID, agentID, skills.ReasonVerifySignatureRequired,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to review pending skill packages: %w", err)
	}
	reviewed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count reviewed packages: %w", err)
	}

	if _, err := u.Emit(ctx, events.EventTypeSkillsReviewed, map[string]any{
		"agent_id": agentID,
		"reviewed": reviewed,
	}); err != nil {
		return 0, err
	}

	if err := u.Commit(); err != nil {
		return 0, err
	}
	return int(reviewed), nil
}

// ListSkills returns the agent's skill packages.
func (s *AgentService) ListSkills(ctx context.Context, workspaceID, agentID string) ([]models.SkillPackage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT skill_package_id, agent_id, skill_id, version, hash_sha256,
		       verification_status, COALESCE(verification_reason, '')
		FROM sec_agent_skill_packages
		WHERE workspace_id = $1 AND agent_id = $2
		ORDER BY created_at`,
		workspaceID, agentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list skill packages: %w", err)
	}
	defer rows.Close()

	var packages []models.SkillPackage
	for rows.Next() {
		var p models.SkillPackage
		if err := rows.Scan(&p.SkillPackageID, &p.AgentID, &p.SkillID, &p.Version,
			&p.HashSHA256, &p.VerificationStatus, &p.VerificationReason); err != nil {
			return nil, fmt.Errorf("failed to scan skill package: %w", err)
		}
		packages = append(packages, p)
	}
	return packages, rows.Err()
}

// Snapshots returns the agent's daily snapshot series over the trailing
// N days, newest first.
func (s *AgentService) Snapshots(ctx context.Context, workspaceID, agentID string, days int) ([]models.AgentSnapshot, error) {
	if days <= 0 {
		days = 30
	}
	if _, err := s.Get(ctx, workspaceID, agentID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace_id, agent_id, to_char(snapshot_date, 'YYYY-MM-DD'),
		       trust_score, autonomy_rate, constraints_learned_7d,
		       mistakes_7d, skills_verified, egress_blocked_7d, created_at
		FROM sec_agent_snapshots
		WHERE workspace_id = $1 AND agent_id = $2
		  AND snapshot_date > current_date - make_interval(days => $3)
		ORDER BY snapshot_date DESC`,
		workspaceID, agentID, days,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.AgentSnapshot
	for rows.Next() {
		var snap models.AgentSnapshot
		if err := rows.Scan(&snap.WorkspaceID, &snap.AgentID, &snap.SnapshotDate,
			&snap.TrustScore, &snap.AutonomyRate, &snap.ConstraintsLearned7d,
			&snap.Mistakes7d, &snap.SkillsVerified, &snap.EgressBlocked7d, &snap.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, rows.Err()
}

// Quarantine sets the agent's quarantine marker manually and emits
// agent.quarantined with mode manual.
func (s *AgentService) Quarantine(ctx context.Context, workspaceID, agentID, reason string) error {
	if reason == "" {
		reason = "manual"
	}
	if _, err := s.Get(ctx, workspaceID, agentID); err != nil {
		return err
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{WorkspaceID: workspaceID})
	if err != nil {
		return err
	}
	defer u.Rollback()

	e, err := u.Emit(ctx, events.EventTypeAgentQuarantined, map[string]any{
		"agent_id": agentID,
		"mode":     "manual",
		"reason":   reason,
	})
	if err != nil {
		return err
	}

	_, err = u.Tx().ExecContext(ctx, `
		UPDATE sec_agents
		SET quarantined_at = COALESCE(quarantined_at, now()),
		    quarantine_reason = COALESCE(quarantine_reason, $3),
		    last_event_id = $4
		WHERE workspace_id = $1 AND agent_id = $2`,
		workspaceID, agentID, reason, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to quarantine agent %s: %w", agentID, err)
	}

	return u.Commit()
}

// Unquarantine clears the agent's quarantine marker and emits
// agent.unquarantined.
func (s *AgentService) Unquarantine(ctx context.Context, workspaceID, agentID string) error {
	if _, err := s.Get(ctx, workspaceID, agentID); err != nil {
		return err
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{WorkspaceID: workspaceID})
	if err != nil {
		return err
	}
	defer u.Rollback()

	e, err := u.Emit(ctx, events.EventTypeAgentUnquarantined, map[string]any{
		"agent_id": agentID,
		"mode":     "manual",
	})
	if err != nil {
		return err
	}

	_, err = u.Tx().ExecContext(ctx, `
		UPDATE sec_agents
		SET quarantined_at = NULL, quarantine_reason = NULL, last_event_id = $3
		WHERE workspace_id = $1 AND agent_id = $2`,
		workspaceID, agentID, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to unquarantine agent %s: %w", agentID, err)
	}

	return u.Commit()
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
