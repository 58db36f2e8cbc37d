package services

import (
	"context"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/models"
	"github.com/warden-dev/warden/pkg/skills"
)

// validSignature is a base64 string that decodes to a 64-byte detached
// signature.
func validSignature() string {
	return base64.StdEncoding.EncodeToString(make([]byte, 64))
}

func TestAgentService_Register(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("creates agent with owning principal", func(t *testing.T) {
		agent, err := env.agents.Register(ctx, env.workspaceID, "helper-bot")
		require.NoError(t, err)
		assert.NotEmpty(t, agent.AgentID)
		assert.NotEmpty(t, agent.PrincipalID)

		loaded, err := env.agents.Get(ctx, env.workspaceID, agent.AgentID)
		require.NoError(t, err)
		assert.Equal(t, "helper-bot", loaded.DisplayName)
		assert.Nil(t, loaded.QuarantinedAt)

		// The principal is addressable by its legacy actor pair.
		principal, created, err := env.principals.EnsureLegacy(ctx, env.workspaceID, models.PrincipalTypeAgent, "agent", agent.AgentID)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, agent.PrincipalID, principal.PrincipalID)

		registered := eventsOfType(env.workspaceEvents(t), events.EventTypeAgentRegistered)
		require.Len(t, registered, 1)
		assert.Contains(t, string(registered[0].Data), agent.AgentID)
	})

	t.Run("requires display name", func(t *testing.T) {
		_, err := env.agents.Register(ctx, env.workspaceID, "")
		assert.True(t, IsValidationError(err))
	})
}

func TestAgentService_ImportSkills(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	agent, err := env.agents.Register(ctx, env.workspaceID, "skilled-bot")
	require.NoError(t, err)

	inventory := []skills.InventoryItem{
		{
			SkillID: "summarize", Version: "1.0.0", HashSHA256: "a1",
			Manifest: &skills.Manifest{Name: "summarize", Signature: validSignature(), SignedBy: "registry"},
		},
		{
			SkillID: "translate", Version: "2.0.0", HashSHA256: "b2",
			Manifest: &skills.Manifest{Name: "translate"},
		},
		{
			SkillID: "exfiltrate", Version: "0.1.0", HashSHA256: "c3",
		},
	}

	t.Run("classifies verified, pending, and quarantined", func(t *testing.T) {
		summary, err := env.agents.ImportSkills(ctx, env.workspaceID, agent.AgentID, inventory)
		require.NoError(t, err)
		assert.Equal(t, 3, summary.Total)
		assert.Equal(t, 1, summary.Verified)
		assert.Equal(t, 1, summary.Pending)
		assert.Equal(t, 1, summary.Quarantined)

		packages, err := env.agents.ListSkills(ctx, env.workspaceID, agent.AgentID)
		require.NoError(t, err)
		require.Len(t, packages, 3)
		byID := map[string]models.SkillPackage{}
		for _, p := range packages {
			byID[p.SkillID] = p
		}
		assert.Equal(t, models.SkillVerified, byID["summarize"].VerificationStatus)
		assert.Equal(t, models.SkillPending, byID["translate"].VerificationStatus)
		assert.Equal(t, skills.ReasonSignatureMissing, byID["translate"].VerificationReason)
		assert.Equal(t, models.SkillQuarantined, byID["exfiltrate"].VerificationStatus)
		assert.Equal(t, skills.ReasonManifestMissing, byID["exfiltrate"].VerificationReason)
	})

	t.Run("re-import is idempotent", func(t *testing.T) {
		summary, err := env.agents.ImportSkills(ctx, env.workspaceID, agent.AgentID, inventory)
		require.NoError(t, err)
		assert.Equal(t, 3, summary.Total)
		assert.Equal(t, 1, summary.Verified)
		assert.Equal(t, 1, summary.Pending)
		assert.Equal(t, 1, summary.Quarantined)

		packages, err := env.agents.ListSkills(ctx, env.workspaceID, agent.AgentID)
		require.NoError(t, err)
		assert.Len(t, packages, 3, "duplicate import must not add rows")
	})

	t.Run("review quarantines pending packages", func(t *testing.T) {
		reviewed, err := env.agents.ReviewPending(ctx, env.workspaceID, agent.AgentID)
		require.NoError(t, err)
		assert.Equal(t, 1, reviewed)

		packages, err := env.agents.ListSkills(ctx, env.workspaceID, agent.AgentID)
		require.NoError(t, err)
		for _, p := range packages {
			if p.SkillID == "translate" {
				assert.Equal(t, models.SkillQuarantined, p.VerificationStatus)
				assert.Equal(t, skills.ReasonVerifySignatureRequired, p.VerificationReason)
			}
		}
	})

	t.Run("rejects empty inventory", func(t *testing.T) {
		_, err := env.agents.ImportSkills(ctx, env.workspaceID, agent.AgentID, nil)
		assert.True(t, IsValidationError(err))
	})

	t.Run("rejects unknown agent", func(t *testing.T) {
		_, err := env.agents.ImportSkills(ctx, env.workspaceID, "agt_missing", inventory)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAgentService_Quarantine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	agent, err := env.agents.Register(ctx, env.workspaceID, "risky-bot")
	require.NoError(t, err)

	t.Run("manual quarantine sets marker once", func(t *testing.T) {
		require.NoError(t, env.agents.Quarantine(ctx, env.workspaceID, agent.AgentID, "operator request"))

		loaded, err := env.agents.Get(ctx, env.workspaceID, agent.AgentID)
		require.NoError(t, err)
		require.NotNil(t, loaded.QuarantinedAt)
		require.NotNil(t, loaded.QuarantineReason)
		assert.Equal(t, "operator request", *loaded.QuarantineReason)
		firstAt := *loaded.QuarantinedAt

		// A second quarantine keeps the original marker.
		require.NoError(t, env.agents.Quarantine(ctx, env.workspaceID, agent.AgentID, "again"))
		loaded, err = env.agents.Get(ctx, env.workspaceID, agent.AgentID)
		require.NoError(t, err)
		assert.Equal(t, firstAt, *loaded.QuarantinedAt)
		assert.Equal(t, "operator request", *loaded.QuarantineReason)
	})

	t.Run("unquarantine clears marker", func(t *testing.T) {
		require.NoError(t, env.agents.Unquarantine(ctx, env.workspaceID, agent.AgentID))

		loaded, err := env.agents.Get(ctx, env.workspaceID, agent.AgentID)
		require.NoError(t, err)
		assert.Nil(t, loaded.QuarantinedAt)
		assert.Nil(t, loaded.QuarantineReason)

		evts := env.workspaceEvents(t)
		assert.NotEmpty(t, eventsOfType(evts, events.EventTypeAgentUnquarantined))
	})
}
