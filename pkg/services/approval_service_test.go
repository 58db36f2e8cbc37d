package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/models"
)

func TestApprovalService_Create(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("workspace scope", func(t *testing.T) {
		approval, err := env.approvals.Create(ctx, env.workspaceID, "external.write", "u-1",
			models.ApprovalScope{Type: "workspace"}, nil)
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalPending, approval.Status)
		require.NotNil(t, approval.RequestedBy)
		assert.Equal(t, "u-1", *approval.RequestedBy)
	})

	t.Run("room scope requires room_id", func(t *testing.T) {
		_, err := env.approvals.Create(ctx, env.workspaceID, "external.write", "u-1",
			models.ApprovalScope{Type: "room"}, nil)
		assert.True(t, IsValidationError(err))
	})

	t.Run("rejects unknown scope type", func(t *testing.T) {
		_, err := env.approvals.Create(ctx, env.workspaceID, "external.write", "u-1",
			models.ApprovalScope{Type: "galaxy"}, nil)
		assert.True(t, IsValidationError(err))
	})

	t.Run("requires action", func(t *testing.T) {
		_, err := env.approvals.Create(ctx, env.workspaceID, "", "u-1",
			models.ApprovalScope{Type: "workspace"}, nil)
		assert.True(t, IsValidationError(err))
	})
}

func TestApprovalService_Decide(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	newApproval := func(t *testing.T) *models.Approval {
		t.Helper()
		approval, err := env.approvals.Create(ctx, env.workspaceID, "external.write", "u-1",
			models.ApprovalScope{Type: "workspace"}, nil)
		require.NoError(t, err)
		return approval
	}

	t.Run("approve then revoke", func(t *testing.T) {
		approval := newApproval(t)

		decided, err := env.approvals.Decide(ctx, env.workspaceID, approval.ApprovalID, "approve", "admin")
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalApproved, decided.Status)
		require.NotNil(t, decided.DecidedBy)
		assert.Equal(t, "admin", *decided.DecidedBy)
		assert.NotNil(t, decided.DecidedAt)

		revoked, err := env.approvals.Decide(ctx, env.workspaceID, approval.ApprovalID, "revoke", "admin")
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalRevoked, revoked.Status)
	})

	t.Run("same decision twice is idempotent and emits once", func(t *testing.T) {
		approval := newApproval(t)

		_, err := env.approvals.Decide(ctx, env.workspaceID, approval.ApprovalID, "approve", "admin")
		require.NoError(t, err)
		again, err := env.approvals.Decide(ctx, env.workspaceID, approval.ApprovalID, "approve", "someone-else")
		require.NoError(t, err)
		assert.Equal(t, models.ApprovalApproved, again.Status)
		require.NotNil(t, again.DecidedBy)
		assert.Equal(t, "admin", *again.DecidedBy, "repeat decision must not rewrite the record")

		var emitted int
		for _, e := range eventsOfType(env.workspaceEvents(t), events.EventTypeApprovalDecided) {
			if strings.Contains(string(e.Data), approval.ApprovalID) {
				emitted++
			}
		}
		assert.Equal(t, 1, emitted)
	})

	t.Run("cannot approve a rejected approval", func(t *testing.T) {
		approval := newApproval(t)

		_, err := env.approvals.Decide(ctx, env.workspaceID, approval.ApprovalID, "reject", "admin")
		require.NoError(t, err)
		_, err = env.approvals.Decide(ctx, env.workspaceID, approval.ApprovalID, "approve", "admin")
		assert.True(t, IsValidationError(err))
	})

	t.Run("rejects unknown decision", func(t *testing.T) {
		approval := newApproval(t)
		_, err := env.approvals.Decide(ctx, env.workspaceID, approval.ApprovalID, "escalate", "admin")
		assert.True(t, IsValidationError(err))
	})

	t.Run("unknown approval", func(t *testing.T) {
		_, err := env.approvals.Decide(ctx, env.workspaceID, "apr_missing", "approve", "admin")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
