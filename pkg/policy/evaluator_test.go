package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate_RuleOrder(t *testing.T) {
	in := Input{
		Action:    ActionExternalWrite,
		ActorType: "user",
		ActorID:   "ceo",
		RoomID:    "rm_1",
	}

	t.Run("external write without approval requires approval", func(t *testing.T) {
		res := Evaluate(in, Snapshot{Enforced: true})
		assert.Equal(t, DecisionRequireApproval, res.Decision)
		assert.Equal(t, ReasonExternalWriteRequiresApproval, res.ReasonCode)
		assert.True(t, res.Failure())
	})

	t.Run("room-scoped approval allows", func(t *testing.T) {
		snap := Snapshot{
			Enforced: true,
			Approvals: []ApprovalGrant{
				{ApprovalID: "apr_1", Action: ActionExternalWrite, ScopeType: "room", RoomID: "rm_1"},
			},
		}
		res := Evaluate(in, snap)
		assert.Equal(t, DecisionAllow, res.Decision)
		assert.Equal(t, ReasonApprovalAllowsAction, res.ReasonCode)
		assert.Equal(t, "apr_1", res.ApprovalID)
	})

	t.Run("approval for another room does not match", func(t *testing.T) {
		snap := Snapshot{
			Enforced: true,
			Approvals: []ApprovalGrant{
				{ApprovalID: "apr_1", Action: ActionExternalWrite, ScopeType: "room", RoomID: "rm_other"},
			},
		}
		res := Evaluate(in, snap)
		assert.Equal(t, DecisionRequireApproval, res.Decision)
	})

	t.Run("kill switch wins over approval", func(t *testing.T) {
		snap := Snapshot{
			KillSwitchExternalWrite: true,
			Enforced:                true,
			Approvals: []ApprovalGrant{
				{ApprovalID: "apr_1", Action: ActionExternalWrite, ScopeType: "room", RoomID: "rm_1"},
			},
		}
		res := Evaluate(in, snap)
		assert.Equal(t, DecisionDeny, res.Decision)
		assert.Equal(t, ReasonKillSwitchActive, res.ReasonCode)
	})

	t.Run("kill switch only affects external write", func(t *testing.T) {
		res := Evaluate(Input{Action: "internal.read"}, Snapshot{KillSwitchExternalWrite: true, Enforced: true})
		assert.Equal(t, DecisionAllow, res.Decision)
		assert.Equal(t, ReasonDefaultAllow, res.ReasonCode)
	})

	t.Run("default allow", func(t *testing.T) {
		res := Evaluate(Input{Action: "internal.read"}, Snapshot{Enforced: true})
		assert.Equal(t, DecisionAllow, res.Decision)
		assert.Equal(t, ReasonDefaultAllow, res.ReasonCode)
		assert.False(t, res.Failure())
	})

	t.Run("advisory mode still computes the decision", func(t *testing.T) {
		res := Evaluate(in, Snapshot{Enforced: false})
		assert.Equal(t, DecisionRequireApproval, res.Decision)
		assert.False(t, res.Enforced)
	})
}

func TestActorKey(t *testing.T) {
	assert.Equal(t, "prn_1", Input{PrincipalID: "prn_1", ActorType: "agent", ActorID: "agt_1"}.ActorKey())
	assert.Equal(t, "agent:agt_1", Input{ActorType: "agent", ActorID: "agt_1"}.ActorKey())
}
