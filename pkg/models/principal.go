// Package models holds the domain row types shared by services and the
// API layer.
package models

import "time"

// PrincipalType enumerates who can act.
type PrincipalType string

const (
	PrincipalTypeUser    PrincipalType = "user"
	PrincipalTypeService PrincipalType = "service"
	PrincipalTypeAgent   PrincipalType = "agent"
)

// Principal is a unified actor identity. The legacy actor pair is the
// natural key used by ensure-by-actor.
type Principal struct {
	PrincipalID     string        `json:"principal_id"`
	WorkspaceID     string        `json:"workspace_id"`
	PrincipalType   PrincipalType `json:"principal_type"`
	LegacyActorType string        `json:"legacy_actor_type"`
	LegacyActorID   string        `json:"legacy_actor_id"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Agent is a registered agent. It owns exactly one principal of type
// agent.
type Agent struct {
	AgentID          string     `json:"agent_id"`
	WorkspaceID      string     `json:"workspace_id"`
	PrincipalID      string     `json:"principal_id"`
	DisplayName      string     `json:"display_name"`
	QuarantinedAt    *time.Time `json:"quarantined_at"`
	QuarantineReason *string    `json:"quarantine_reason"`
	CreatedAt        time.Time  `json:"created_at"`
}

// SkillVerificationStatus enumerates skill package verification outcomes.
type SkillVerificationStatus string

const (
	SkillVerified    SkillVerificationStatus = "verified"
	SkillPending     SkillVerificationStatus = "pending"
	SkillQuarantined SkillVerificationStatus = "quarantined"
)

// SkillPackage links an agent to an imported skill package.
type SkillPackage struct {
	SkillPackageID     string                  `json:"skill_package_id"`
	AgentID            string                  `json:"agent_id"`
	SkillID            string                  `json:"skill_id"`
	Version            string                  `json:"version"`
	HashSHA256         string                  `json:"hash_sha256"`
	VerificationStatus SkillVerificationStatus `json:"verification_status"`
	VerificationReason string                  `json:"verification_reason,omitempty"`
}

// ImportSummary is the result of an inventory import.
type ImportSummary struct {
	Total       int `json:"total"`
	Verified    int `json:"verified"`
	Pending     int `json:"pending"`
	Quarantined int `json:"quarantined"`
}

// AgentSnapshot is one daily per-agent metrics row.
type AgentSnapshot struct {
	WorkspaceID          string    `json:"workspace_id"`
	AgentID              string    `json:"agent_id"`
	SnapshotDate         string    `json:"snapshot_date"`
	TrustScore           float64   `json:"trust_score"`
	AutonomyRate         float64   `json:"autonomy_rate"`
	ConstraintsLearned7d int       `json:"constraints_learned_7d"`
	Mistakes7d           int       `json:"mistakes_7d"`
	SkillsVerified       int       `json:"skills_verified"`
	EgressBlocked7d      int       `json:"egress_blocked_7d"`
	CreatedAt            time.Time `json:"created_at"`
}
