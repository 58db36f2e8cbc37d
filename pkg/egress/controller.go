// Package egress governs outbound network requests: every request is
// checked against policy and a per-domain hourly rate limit, recorded,
// and narrated on the event stream.
package egress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/ids"
	"github.com/warden-dev/warden/pkg/learning"
	"github.com/warden-dev/warden/pkg/metrics"
	"github.com/warden-dev/warden/pkg/policy"
	"github.com/warden-dev/warden/pkg/uow"
)

// ErrInvalidTargetURL is returned when the target URL cannot be parsed or
// has no host.
var ErrInvalidTargetURL = errors.New("invalid target URL")

// SnapshotLoader assembles the policy snapshot (kill switch, enforcement
// mode, active approvals) for one evaluation. Implemented by the policy
// service.
type SnapshotLoader interface {
	Load(ctx context.Context, tx *sql.Tx, workspaceID, action, roomID string) (policy.Snapshot, error)
}

// Request is one outbound request to check.
type Request struct {
	Action      string
	TargetURL   string
	Method      string
	ActorType   string
	ActorID     string
	PrincipalID string
	RoomID      string
	RunID       string
	Context     map[string]any
}

// Outcome is the recorded decision for one egress request.
type Outcome struct {
	RequestID    string          `json:"egress_request_id"`
	Decision     policy.Decision `json:"decision"`
	ReasonCode   string          `json:"reason_code"`
	Blocked      bool            `json:"blocked"`
	ApprovalID   string          `json:"approval_id,omitempty"`
	TargetDomain string          `json:"target_domain"`
}

// Controller checks egress requests. All writes ride the caller's unit of
// work.
type Controller struct {
	maxPerHour int
	snapshots  SnapshotLoader
	pipeline   *learning.Pipeline
}

// NewController creates a Controller with the given hourly per-domain
// limit.
func NewController(maxPerHour int, snapshots SnapshotLoader, pipeline *learning.Pipeline) *Controller {
	return &Controller{
		maxPerHour: maxPerHour,
		snapshots:  snapshots,
		pipeline:   pipeline,
	}
}

// Check evaluates one egress request: policy, rate limit, decision row,
// and events (egress.requested then the outcome event). Policy failures
// feed the learning pipeline inside the same transaction.
func (c *Controller) Check(ctx context.Context, u *uow.UnitOfWork, req Request) (*Outcome, error) {
	domain, err := TargetDomain(req.TargetURL)
	if err != nil {
		return nil, err
	}

	snap, err := c.snapshots.Load(ctx, u.Tx(), u.Scope().WorkspaceID, req.Action, req.RoomID)
	if err != nil {
		return nil, err
	}

	in := policy.Input{
		Action:      req.Action,
		ActorType:   req.ActorType,
		ActorID:     req.ActorID,
		PrincipalID: req.PrincipalID,
		RoomID:      req.RoomID,
		TargetURL:   req.TargetURL,
		Context:     req.Context,
	}
	res := policy.Evaluate(in, snap)

	outcome := &Outcome{
		RequestID:    ids.New(ids.PrefixEgressRequest),
		Decision:     res.Decision,
		ReasonCode:   res.ReasonCode,
		Blocked:      res.Decision != policy.DecisionAllow,
		ApprovalID:   res.ApprovalID,
		TargetDomain: domain,
	}

	rateLimited := false
	if res.Decision == policy.DecisionAllow {
		count, err := c.bumpRateBucket(ctx, u.Tx(), u.Scope().WorkspaceID, domain)
		if err != nil {
			return nil, err
		}
		if count > c.maxPerHour {
			rateLimited = true
			outcome.Decision = policy.DecisionDeny
			outcome.ReasonCode = policy.ReasonRateLimitExceeded
			outcome.Blocked = true
		}
	}

	// An approval is created and linked when the request needs one.
	if res.Decision == policy.DecisionRequireApproval {
		approvalID, err := c.createApproval(ctx, u, req)
		if err != nil {
			return nil, err
		}
		outcome.ApprovalID = approvalID
	}

	if err := c.insertRequestRow(ctx, u.Tx(), u.Scope().WorkspaceID, req, outcome); err != nil {
		return nil, err
	}

	if _, err := u.Emit(ctx, events.EventTypeEgressRequested, map[string]any{
		"egress_request_id": outcome.RequestID,
		"target_url":        req.TargetURL,
		"target_domain":     domain,
		"method":            req.Method,
		"action":            req.Action,
	}); err != nil {
		return nil, err
	}

	if _, err := u.Emit(ctx, events.EventTypePolicyEvaluated, map[string]any{
		"action":      req.Action,
		"actor_type":  req.ActorType,
		"actor_id":    req.ActorID,
		"decision":    res.Decision,
		"reason_code": res.ReasonCode,
		"enforced":    res.Enforced,
	}); err != nil {
		return nil, err
	}

	outcomeType := events.EventTypeEgressAllowed
	switch {
	case rateLimited:
		outcomeType = events.EventTypeEgressRateLimited
	case outcome.Blocked:
		outcomeType = events.EventTypeEgressBlocked
	}
	if _, err := u.Emit(ctx, outcomeType, map[string]any{
		"egress_request_id": outcome.RequestID,
		"target_domain":     domain,
		"decision":          outcome.Decision,
		"reason_code":       outcome.ReasonCode,
		"approval_id":       outcome.ApprovalID,
	}); err != nil {
		return nil, err
	}

	if res.Failure() {
		if err := c.pipeline.RecordFailure(ctx, u, in, res); err != nil {
			return nil, err
		}
	}

	metrics.EgressDecisionsTotal.WithLabelValues(string(outcome.Decision)).Inc()
	return outcome, nil
}

// TargetDomain extracts the lowercased host (without port) from a target
// URL.
func TargetDomain(target string) (string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTargetURL, err)
	}
	host := parsed.Hostname()
	if host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTargetURL, target)
	}
	return strings.ToLower(host), nil
}

// bumpRateBucket increments the fixed 1-hour bucket for
// (workspace, domain) and returns the new count.
func (c *Controller) bumpRateBucket(ctx context.Context, tx *sql.Tx, workspaceID, domain string) (int, error) {
	windowStart := time.Now().UTC().Truncate(time.Hour)
	var count int
	err := tx.QueryRowContext(ctx, `
		INSERT INTO sec_egress_rate_buckets (workspace_id, target_domain, window_start, request_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (workspace_id, target_domain, window_start)
		DO UPDATE SET request_count = sec_egress_rate_buckets.request_count + 1
		RETURNING request_count`,
		workspaceID, domain, windowStart,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to bump rate bucket for %s: %w", domain, err)
	}
	return count, nil
}

// createApproval records a pending approval for the blocked action,
// scoped to the room when one is in scope.
func (c *Controller) createApproval(ctx context.Context, u *uow.UnitOfWork, req Request) (string, error) {
	approvalID := ids.New(ids.PrefixApproval)
	scope := map[string]any{"type": "workspace"}
	if req.RoomID != "" {
		scope = map[string]any{"type": "room", "room_id": req.RoomID}
	}

	e, err := u.Emit(ctx, events.EventTypeApprovalCreated, map[string]any{
		"approval_id": approvalID,
		"action":      req.Action,
		"scope":       scope,
	})
	if err != nil {
		return "", err
	}

	scopeJSON, err := marshalJSON(scope)
	if err != nil {
		return "", err
	}
	contextJSON, err := marshalJSON(map[string]any{
		"target_url": req.TargetURL,
		"method":     req.Method,
	})
	if err != nil {
		return "", err
	}

	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO proj_approvals (approval_id, workspace_id, action, scope, status, requested_by, context, last_event_id)
		VALUES ($1, $2, $3, $4, 'pending', $5, $6, $7)`,
		approvalID, u.Scope().WorkspaceID, req.Action, scopeJSON,
		req.ActorType+":"+req.ActorID, contextJSON, e.ID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create approval: %w", err)
	}
	return approvalID, nil
}

// insertRequestRow persists the sec_egress_requests decision record.
func (c *Controller) insertRequestRow(ctx context.Context, tx *sql.Tx, workspaceID string, req Request, out *Outcome) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO sec_egress_requests (
			egress_request_id, workspace_id, run_id, target_url, target_domain,
			method, policy_decision, blocked, approval_id, policy_reason_code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		out.RequestID, workspaceID, nullable(req.RunID), req.TargetURL, out.TargetDomain,
		req.Method, string(out.Decision), out.Blocked, nullable(out.ApprovalID), nullable(out.ReasonCode),
	)
	if err != nil {
		return fmt.Errorf("failed to record egress request: %w", err)
	}
	return nil
}

func marshalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}
	return data, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
