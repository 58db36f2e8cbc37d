// Package policy implements the pure policy decision function.
//
// Evaluate reads a Snapshot (kill switches, enforcement mode, active
// approvals) assembled by the caller and returns a deterministic
// decision. It never touches the database: learned constraints and
// mistake counters are written by the separate learning pipeline after
// the decision.
package policy

// Decision is a policy outcome. Policy decisions are not HTTP errors; the
// API returns them with status 200.
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionDeny            Decision = "deny"
	DecisionRequireApproval Decision = "require_approval"
)

// Reason codes carried with every decision.
const (
	ReasonKillSwitchActive              = "kill_switch_active"
	ReasonApprovalAllowsAction          = "approval_allows_action"
	ReasonExternalWriteRequiresApproval = "external_write_requires_approval"
	ReasonDefaultAllow                  = "default_allow"
	ReasonRateLimitExceeded             = "rate_limit_exceeded"
)

// ActionExternalWrite is the sensitive action governed by the kill switch
// and the approval rule.
const ActionExternalWrite = "external.write"

// Input describes one action to evaluate.
type Input struct {
	Action      string
	ActorType   string
	ActorID     string
	PrincipalID string
	RoomID      string
	TargetURL   string
	Context     map[string]any
}

// ApprovalGrant is a decided approval visible to the evaluator.
type ApprovalGrant struct {
	ApprovalID string
	Action     string
	ScopeType  string // "room" or "workspace"
	RoomID     string
}

// Snapshot is the read-only state the evaluator decides against.
type Snapshot struct {
	KillSwitchExternalWrite bool
	Enforced                bool
	Approvals               []ApprovalGrant
}

// Result is the full decision returned to callers and recorded on
// policy.evaluated events.
type Result struct {
	Decision   Decision `json:"decision"`
	ReasonCode string   `json:"reason_code"`
	ApprovalID string   `json:"approval_id,omitempty"`

	// Enforced is false when POLICY_ENFORCEMENT_MODE != "enforce";
	// callers then treat require_approval as advisory.
	Enforced bool `json:"enforced"`
}

// Failure reports whether the outcome feeds the learning pipeline.
func (r Result) Failure() bool {
	return r.Decision == DecisionDeny || r.Decision == DecisionRequireApproval
}

// Evaluate applies the decision rules in order; first match wins.
//
//  1. Kill switch: external.write is denied outright.
//  2. Active approval matching (action, scope) allows.
//  3. Built-in action rules: external.write requires approval.
//  4. Default allow.
func Evaluate(in Input, snap Snapshot) Result {
	if snap.KillSwitchExternalWrite && in.Action == ActionExternalWrite {
		return Result{
			Decision:   DecisionDeny,
			ReasonCode: ReasonKillSwitchActive,
			Enforced:   snap.Enforced,
		}
	}

	for _, grant := range snap.Approvals {
		if grant.Action != in.Action {
			continue
		}
		if grant.ScopeType == "room" && grant.RoomID != in.RoomID {
			continue
		}
		return Result{
			Decision:   DecisionAllow,
			ReasonCode: ReasonApprovalAllowsAction,
			ApprovalID: grant.ApprovalID,
			Enforced:   snap.Enforced,
		}
	}

	if in.Action == ActionExternalWrite {
		return Result{
			Decision:   DecisionRequireApproval,
			ReasonCode: ReasonExternalWriteRequiresApproval,
			Enforced:   snap.Enforced,
		}
	}

	return Result{
		Decision:   DecisionAllow,
		ReasonCode: ReasonDefaultAllow,
		Enforced:   snap.Enforced,
	}
}

// ActorKey combines the actor identity for mistake counting: the
// principal id when known, otherwise the legacy actor pair.
func (in Input) ActorKey() string {
	if in.PrincipalID != "" {
		return in.PrincipalID
	}
	return in.ActorType + ":" + in.ActorID
}
