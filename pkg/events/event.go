package events

import (
	"encoding/json"
	"time"
)

// Event is one immutable row of the event log. Nullable columns are
// pointers so SSE frames render explicit JSON nulls (clients rely on
// causation_id being null for externally originated events).
type Event struct {
	ID            string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	WorkspaceID   string          `json:"workspace_id"`
	RoomID        *string         `json:"room_id"`
	ThreadID      *string         `json:"thread_id"`
	RunID         *string         `json:"run_id"`
	StepID        *string         `json:"step_id"`
	StreamType    string          `json:"stream_type"`
	StreamID      string          `json:"stream_id"`
	StreamSeq     int64           `json:"stream_seq"`
	CorrelationID string          `json:"correlation_id"`
	CausationID   *string         `json:"causation_id"`
	OccurredAt    time.Time       `json:"occurred_at"`
	RecordedAt    time.Time       `json:"recorded_at"`
	Data          json.RawMessage `json:"data"`
}

// Frame returns the SSE wire JSON for the event.
func (e *Event) Frame() ([]byte, error) {
	return json.Marshal(e)
}
