package events

import (
	"context"
	"database/sql"
	"fmt"
)

const eventColumns = `event_id, stream_type, stream_id, stream_seq, event_type,
	workspace_id, room_id, thread_id, run_id, step_id,
	correlation_id, causation_id, occurred_at, recorded_at, data`

// Store reads persisted events. It backs broker catch-up and the
// snapshot job's trailing-window queries.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store over the shared pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// EventsSince returns committed events on one stream with
// stream_seq > fromSeq, ordered ascending. Reads are workspace-scoped.
func (s *Store) EventsSince(ctx context.Context, workspaceID, streamType, streamID string, fromSeq int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+eventColumns+`
		FROM evt_events
		WHERE workspace_id = $1 AND stream_type = $2 AND stream_id = $3 AND stream_seq > $4
		ORDER BY stream_seq ASC`,
		workspaceID, streamType, streamID, fromSeq,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for %s/%s: %w", streamType, streamID, err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return out, nil
}

// CountByType returns how many events of eventType exist for the given
// run/step context predicate since the cutoff. Used by the snapshot job.
func (s *Store) CountByType(ctx context.Context, workspaceID, eventType string, sinceDays int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM evt_events
		WHERE workspace_id = $1 AND event_type = $2
		  AND recorded_at >= now() - ($3 || ' days')::interval`,
		workspaceID, eventType, sinceDays,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s events: %w", eventType, err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*Event, error) {
	var e Event
	err := r.Scan(
		&e.ID, &e.StreamType, &e.StreamID, &e.StreamSeq, &e.EventType,
		&e.WorkspaceID, &e.RoomID, &e.ThreadID, &e.RunID, &e.StepID,
		&e.CorrelationID, &e.CausationID, &e.OccurredAt, &e.RecordedAt, &e.Data,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event row: %w", err)
	}
	return &e, nil
}
