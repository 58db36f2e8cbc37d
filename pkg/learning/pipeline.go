package learning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/ids"
	"github.com/warden-dev/warden/pkg/policy"
	"github.com/warden-dev/warden/pkg/uow"
)

// DefaultQuarantineThreshold is the mistake count at which an agent actor
// is quarantined automatically.
const DefaultQuarantineThreshold = 3

// categoryForAction maps an action to its constraint category. Every
// built-in rule today classifies by action.
func categoryForAction(string) string {
	return "action"
}

// Pipeline turns require_approval/deny outcomes into learned constraints,
// mistake counters, and (past the threshold) agent quarantine. All writes
// ride the caller's unit of work so they commit with the decision's
// events.
type Pipeline struct {
	redactor            *Redactor
	quarantineThreshold int
}

// NewPipeline creates a pipeline with the default quarantine threshold.
func NewPipeline() *Pipeline {
	return &Pipeline{
		redactor:            NewRedactor(),
		quarantineThreshold: DefaultQuarantineThreshold,
	}
}

// RecordFailure runs the learning steps for one failed policy decision:
// redact, upsert constraint, emit learning events, bump the mistake
// counter, and quarantine the agent when the counter crosses the
// threshold.
func (p *Pipeline) RecordFailure(ctx context.Context, u *uow.UnitOfWork, in policy.Input, res policy.Result) error {
	if !res.Failure() {
		return nil
	}

	redacted := p.redactContext(in)
	category := categoryForAction(in.Action)
	pattern := canonicalPattern(in.Action, redacted)

	seenCount, constraintID, err := p.upsertConstraint(ctx, u.Tx(), u.Scope().WorkspaceID, res.ReasonCode, category, pattern)
	if err != nil {
		return err
	}
	if _, err := u.Emit(ctx, events.EventTypeConstraintLearned, map[string]any{
		"constraint_id": constraintID,
		"reason_code":   res.ReasonCode,
		"category":      category,
		"pattern":       pattern,
		"seen_count":    seenCount,
	}); err != nil {
		return err
	}

	if _, err := u.Emit(ctx, events.EventTypeLearningFromFailure, map[string]any{
		"action":           in.Action,
		"reason_code":      res.ReasonCode,
		"redacted_context": redacted,
	}); err != nil {
		return err
	}

	repeatCount, err := p.bumpMistakeCounter(ctx, u.Tx(), u.Scope().WorkspaceID, res.ReasonCode, in.ActorKey())
	if err != nil {
		return err
	}
	if repeatCount >= 2 {
		if _, err := u.Emit(ctx, events.EventTypeMistakeRepeated, map[string]any{
			"repeat_count": repeatCount,
			"reason_code":  res.ReasonCode,
		}); err != nil {
			return err
		}
	}

	if in.ActorType == "agent" && repeatCount >= p.quarantineThreshold {
		if err := p.quarantineAgent(ctx, u, in, res.ReasonCode, repeatCount); err != nil {
			return err
		}
	}

	return nil
}

// redactContext assembles the evaluation context (caller context plus the
// target URL) and redacts it.
func (p *Pipeline) redactContext(in policy.Input) map[string]any {
	merged := make(map[string]any, len(in.Context)+1)
	for k, v := range in.Context {
		merged[k] = v
	}
	if in.TargetURL != "" {
		merged["target_url"] = in.TargetURL
	}
	return p.redactor.RedactContext(merged)
}

// upsertConstraint inserts or bumps the constraint keyed by
// (workspace, reason_code, pattern). Duplicate upserts resolve internally
// and are never surfaced as conflicts.
func (p *Pipeline) upsertConstraint(ctx context.Context, tx *sql.Tx, workspaceID, reasonCode, category, pattern string) (int, string, error) {
	var (
		seenCount    int
		constraintID string
	)
	err := tx.QueryRowContext(ctx, `
		INSERT INTO sec_constraints (constraint_id, workspace_id, reason_code, category, pattern, guidance)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workspace_id, reason_code, pattern)
		DO UPDATE SET seen_count = sec_constraints.seen_count + 1, updated_at = now()
		RETURNING constraint_id, seen_count`,
		ids.New(ids.PrefixConstraint), workspaceID, reasonCode, category, pattern,
		fmt.Sprintf("action class %q repeatedly resolved %s", category, reasonCode),
	).Scan(&constraintID, &seenCount)
	if err != nil {
		return 0, "", fmt.Errorf("failed to upsert constraint: %w", err)
	}
	return seenCount, constraintID, nil
}

// bumpMistakeCounter upserts the per-actor counter and returns the new
// count.
func (p *Pipeline) bumpMistakeCounter(ctx context.Context, tx *sql.Tx, workspaceID, reasonCode, actorKey string) (int, error) {
	var count int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO sec_mistake_counters (workspace_id, reason_code, actor_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (workspace_id, reason_code, actor_key)
		DO UPDATE SET seen_count = sec_mistake_counters.seen_count + 1, last_seen_at = now()
		RETURNING seen_count`,
		workspaceID, reasonCode, actorKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to bump mistake counter: %w", err)
	}
	return count, nil
}

// quarantineAgent marks the agent quarantined and emits
// agent.quarantined. Re-entering quarantine is a no-op on the row
// (quarantined_at is only set once) but still emits one event per
// trigger.
func (p *Pipeline) quarantineAgent(ctx context.Context, u *uow.UnitOfWork, in policy.Input, reasonCode string, repeatCount int) error {
	agentID, err := p.resolveAgent(ctx, u.Tx(), u.Scope().WorkspaceID, in)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			slog.Warn("Quarantine threshold reached for unknown agent",
				"workspace_id", u.Scope().WorkspaceID, "actor_id", in.ActorID)
			return nil
		}
		return err
	}

	reason := "auto_repeated_" + reasonCode
	_, err = u.Tx().ExecContext(ctx, `
		UPDATE sec_agents
		SET quarantined_at = COALESCE(quarantined_at, $1), quarantine_reason = COALESCE(quarantine_reason, $2)
		WHERE workspace_id = $3 AND agent_id = $4`,
		time.Now().UTC(), reason, u.Scope().WorkspaceID, agentID,
	)
	if err != nil {
		return fmt.Errorf("failed to quarantine agent %s: %w", agentID, err)
	}

	_, err = u.Emit(ctx, events.EventTypeAgentQuarantined, map[string]any{
		"agent_id":            agentID,
		"mode":                "auto",
		"repeat_count":        repeatCount,
		"trigger_reason_code": reasonCode,
	})
	return err
}

// resolveAgent maps the acting identity to an agent row: by agent id
// first, then by principal.
func (p *Pipeline) resolveAgent(ctx context.Context, tx *sql.Tx, workspaceID string, in policy.Input) (string, error) {
	var agentID string
	err := tx.QueryRowContext(ctx, `
		SELECT agent_id FROM sec_agents WHERE workspace_id = $1 AND agent_id = $2`,
		workspaceID, in.ActorID,
	).Scan(&agentID)
	if err == nil {
		return agentID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("failed to resolve agent by id: %w", err)
	}
	if in.PrincipalID == "" {
		return "", sql.ErrNoRows
	}
	err = tx.QueryRowContext(ctx, `
		SELECT agent_id FROM sec_agents WHERE workspace_id = $1 AND principal_id = $2`,
		workspaceID, in.PrincipalID,
	).Scan(&agentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", sql.ErrNoRows
		}
		return "", fmt.Errorf("failed to resolve agent by principal: %w", err)
	}
	return agentID, nil
}
