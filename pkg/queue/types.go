// Package queue implements the run worker: claiming queued runs with
// database-backed leases, executing their runtime tool-calls through the
// egress controller, and driving run state transitions.
package queue

import (
	"encoding/json"
	"errors"
)

// ErrNoRunsAvailable is returned when no queued run could be claimed.
var ErrNoRunsAvailable = errors.New("no queued runs available")

// CycleResult summarizes one worker cycle.
type CycleResult struct {
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// EgressDescriptor is the runtime tool-call a run declares under
// input.runtime.egress. A run without one completes immediately.
type EgressDescriptor struct {
	Action    string `json:"action"`
	TargetURL string `json:"target_url"`
	Method    string `json:"method"`
}

type runtimeBlock struct {
	Egress *EgressDescriptor `json:"egress"`
}

type runInput struct {
	Runtime *runtimeBlock `json:"runtime"`
}

// parseEgressDescriptor extracts input.runtime.egress, or nil when the
// run declares no egress call.
func parseEgressDescriptor(input json.RawMessage) (*EgressDescriptor, error) {
	if len(input) == 0 {
		return nil, nil
	}
	var in runInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, err
	}
	if in.Runtime == nil {
		return nil, nil
	}
	return in.Runtime.Egress, nil
}

// claimedRun is the slice of proj_runs a worker needs to execute a run.
type claimedRun struct {
	RunID         string
	WorkspaceID   string
	RoomID        string
	ThreadID      string
	CorrelationID string
	Input         json.RawMessage
	LastEventID   string
}
