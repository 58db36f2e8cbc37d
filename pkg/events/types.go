// Package events implements the event log and the in-process broker.
//
// Every state mutation appends events to the append-only evt_events table
// inside the mutating transaction; the per-stream sequence is allocated
// under a row lock so stream_seq values form 1..N with no gaps. Committed
// events are fanned out to live SSE subscribers by the Broker, which
// hands a late subscriber a catch-up read followed by live delivery with
// no gaps or duplicates.
package events

// Stream types. Rooms are the only streams exposed over SSE; events with
// no room in scope land on the workspace stream.
const (
	StreamTypeRoom      = "room"
	StreamTypeWorkspace = "workspace"
)

// Event types.
const (
	// Rooms / threads / messages
	EventTypeRoomCreated    = "room.created"
	EventTypeThreadCreated  = "thread.created"
	EventTypeMessageCreated = "message.created"

	// Runs / steps / artifacts
	EventTypeRunCreated      = "run.created"
	EventTypeRunStarted      = "run.started"
	EventTypeRunSucceeded    = "run.succeeded"
	EventTypeRunFailed       = "run.failed"
	EventTypeRunCancelled    = "run.cancelled"
	EventTypeStepCreated     = "step.created"
	EventTypeArtifactCreated = "artifact.created"

	// Policy / approvals
	EventTypePolicyEvaluated = "policy.evaluated"
	EventTypeApprovalCreated = "approval.created"
	EventTypeApprovalDecided = "approval.decided"

	// Egress
	EventTypeEgressRequested   = "egress.requested"
	EventTypeEgressAllowed     = "egress.allowed"
	EventTypeEgressBlocked     = "egress.blocked"
	EventTypeEgressRateLimited = "egress.rate_limited"

	// Learning loop
	EventTypeLearningFromFailure = "learning.from_failure"
	EventTypeConstraintLearned   = "constraint.learned"
	EventTypeMistakeRepeated     = "mistake.repeated"
	EventTypeAgentQuarantined    = "agent.quarantined"
	EventTypeAgentUnquarantined  = "agent.unquarantined"

	// Agents / skills
	EventTypeAgentRegistered = "agent.registered"
	EventTypeSkillsImported  = "skills.imported"
	EventTypeSkillsReviewed  = "skills.reviewed"

	// Jobs
	EventTypeDailyAgentSnapshot = "daily.agent.snapshot"

	// Evaluation
	EventTypeScorecardRecorded      = "scorecard.recorded"
	EventTypeLessonRecorded         = "lesson.recorded"
	EventTypeAutonomyRecommendation = "autonomy.recommendation"
)

// StreamKey identifies one fanout stream inside the broker registry.
func StreamKey(streamType, streamID string) string {
	return streamType + ":" + streamID
}
