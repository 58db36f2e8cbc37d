// Package snapshot computes the daily per-agent metric snapshots and
// schedules them.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/uow"
)

// metricsWindowDays is the trailing window the snapshot metrics cover.
const metricsWindowDays = 7

// Job computes one snapshot row per agent per day. Writes are idempotent
// on (workspace, agent, date): a second invocation for the same key
// writes nothing and emits nothing.
type Job struct {
	db     *sql.DB
	broker *events.Broker
}

// NewJob creates a snapshot job.
func NewJob(db *sql.DB, broker *events.Broker) *Job {
	return &Job{db: db, broker: broker}
}

// agentMetrics holds the six snapshot metrics for one agent.
type agentMetrics struct {
	TrustScore           float64
	AutonomyRate         float64
	ConstraintsLearned7d int
	Mistakes7d           int
	SkillsVerified       int
	EgressBlocked7d      int
}

// Run computes and writes snapshots for every agent in the workspace for
// the given date. Returns the number of rows written.
func (j *Job) Run(ctx context.Context, workspaceID string, date time.Time) (int, error) {
	u, err := uow.Begin(ctx, j.db, j.broker, uow.Scope{WorkspaceID: workspaceID})
	if err != nil {
		return 0, err
	}
	defer u.Rollback()

	agents, err := j.listAgents(ctx, u.Tx(), workspaceID)
	if err != nil {
		return 0, err
	}

	day := date.UTC().Format("2006-01-02")
	written := 0
	for _, agent := range agents {
		m, err := j.computeMetrics(ctx, u.Tx(), workspaceID, agent)
		if err != nil {
			return 0, err
		}

		res, err := u.Tx().ExecContext(ctx, `
			INSERT INTO sec_agent_snapshots (
				workspace_id, agent_id, snapshot_date, trust_score, autonomy_rate,
				constraints_learned_7d, mistakes_7d, skills_verified, egress_blocked_7d
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (workspace_id, agent_id, snapshot_date) DO NOTHING`,
			workspaceID, agent.agentID, day, m.TrustScore, m.AutonomyRate,
			m.ConstraintsLearned7d, m.Mistakes7d, m.SkillsVerified, m.EgressBlocked7d,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to write snapshot for %s: %w", agent.agentID, err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to check snapshot write for %s: %w", agent.agentID, err)
		}
		if inserted == 0 {
			continue
		}
		written++

		if _, err := u.Emit(ctx, events.EventTypeDailyAgentSnapshot, map[string]any{
			"agent_id":               agent.agentID,
			"snapshot_date":          day,
			"trust_score":            m.TrustScore,
			"autonomy_rate":          m.AutonomyRate,
			"constraints_learned_7d": m.ConstraintsLearned7d,
			"mistakes_7d":            m.Mistakes7d,
			"skills_verified":        m.SkillsVerified,
			"egress_blocked_7d":      m.EgressBlocked7d,
		}); err != nil {
			return 0, err
		}
	}

	if err := u.Commit(); err != nil {
		return 0, err
	}
	return written, nil
}

type snapshotAgent struct {
	agentID     string
	principalID string
	quarantined bool
}

func (j *Job) listAgents(ctx context.Context, tx *sql.Tx, workspaceID string) ([]snapshotAgent, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT agent_id, principal_id, quarantined_at IS NOT NULL
		FROM sec_agents
		WHERE workspace_id = $1
		ORDER BY created_at`,
		workspaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []snapshotAgent
	for rows.Next() {
		var a snapshotAgent
		if err := rows.Scan(&a.agentID, &a.principalID, &a.quarantined); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// computeMetrics derives the snapshot metrics over the trailing window.
// Constraint and egress counts are workspace-wide (neither table
// attributes rows to an agent); mistakes are counted per actor key.
func (j *Job) computeMetrics(ctx context.Context, tx *sql.Tx, workspaceID string, agent snapshotAgent) (agentMetrics, error) {
	var m agentMetrics

	err := tx.QueryRowContext(ctx, `
		SELECT count(*) FROM sec_constraints
		WHERE workspace_id = $1 AND updated_at > now() - make_interval(days => $2)`,
		workspaceID, metricsWindowDays,
	).Scan(&m.ConstraintsLearned7d)
	if err != nil {
		return m, fmt.Errorf("failed to count constraints: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT COALESCE(sum(seen_count), 0) FROM sec_mistake_counters
		WHERE workspace_id = $1
		  AND actor_key IN ($2, $3)
		  AND last_seen_at > now() - make_interval(days => $4)`,
		workspaceID, agent.principalID, "agent:"+agent.agentID, metricsWindowDays,
	).Scan(&m.Mistakes7d)
	if err != nil {
		return m, fmt.Errorf("failed to count mistakes: %w", err)
	}

	err = tx.QueryRowContext(ctx, `
		SELECT count(*) FROM sec_agent_skill_packages
		WHERE workspace_id = $1 AND agent_id = $2 AND verification_status = 'verified'`,
		workspaceID, agent.agentID,
	).Scan(&m.SkillsVerified)
	if err != nil {
		return m, fmt.Errorf("failed to count verified skills: %w", err)
	}

	var total, blocked int
	err = tx.QueryRowContext(ctx, `
		SELECT count(*), count(*) FILTER (WHERE blocked)
		FROM sec_egress_requests
		WHERE workspace_id = $1 AND created_at > now() - make_interval(days => $2)`,
		workspaceID, metricsWindowDays,
	).Scan(&total, &blocked)
	if err != nil {
		return m, fmt.Errorf("failed to count egress requests: %w", err)
	}
	m.EgressBlocked7d = blocked

	m.AutonomyRate = 1.0
	if total > 0 {
		m.AutonomyRate = float64(total-blocked) / float64(total)
	}
	m.TrustScore = trustScore(agent.quarantined, m.SkillsVerified, m.Mistakes7d)
	return m, nil
}

// trustScore folds quarantine state, verified skills, and recent mistakes
// into a 0..1 score.
func trustScore(quarantined bool, skillsVerified, mistakes int) float64 {
	score := 0.5 + 0.1*float64(skillsVerified) - 0.1*float64(mistakes)
	if quarantined {
		score -= 0.3
	}
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
