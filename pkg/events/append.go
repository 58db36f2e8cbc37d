package events

import (
	"context"
	"database/sql"
	"fmt"
)

// NextSeq allocates the next stream_seq for (streamType, streamID) inside
// tx. The upsert takes a row lock on the sequence row that is held until
// the transaction commits or aborts, so concurrent writers to the same
// stream serialize and an aborted writer leaves no gap.
func NextSeq(ctx context.Context, tx *sql.Tx, streamType, streamID string) (int64, error) {
	var seq int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO evt_stream_seqs (stream_type, stream_id, last_seq)
		VALUES ($1, $2, 1)
		ON CONFLICT (stream_type, stream_id)
		DO UPDATE SET last_seq = evt_stream_seqs.last_seq + 1
		RETURNING last_seq`,
		streamType, streamID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate stream seq for %s/%s: %w", streamType, streamID, err)
	}
	return seq, nil
}

// Insert writes the event row inside tx. The caller has already populated
// every field including StreamSeq (via NextSeq).
func Insert(ctx context.Context, tx *sql.Tx, e *Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO evt_events (
			event_id, stream_type, stream_id, stream_seq, event_type,
			workspace_id, room_id, thread_id, run_id, step_id,
			correlation_id, causation_id, occurred_at, data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID, e.StreamType, e.StreamID, e.StreamSeq, e.EventType,
		e.WorkspaceID, e.RoomID, e.ThreadID, e.RunID, e.StepID,
		e.CorrelationID, e.CausationID, e.OccurredAt, e.Data,
	)
	if err != nil {
		return fmt.Errorf("failed to persist event %s: %w", e.ID, err)
	}
	return nil
}
