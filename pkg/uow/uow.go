// Package uow implements the transactional unit of work shared by every
// write path: one database transaction plus a deferred event buffer.
// Committed rows and their events become visible together; aborted work
// publishes nothing.
package uow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/ids"
)

// Scope carries the correlation/causation context threaded through a
// request. It is explicit state, never ambient: background work done
// "because of" an event carries that event's id as CausationID.
type Scope struct {
	WorkspaceID string
	RoomID      string
	ThreadID    string
	RunID       string
	StepID      string

	// CorrelationID is inherited from the originating run, or minted on
	// first append if empty.
	CorrelationID string

	// CausationID is the external parent event for the first append.
	// Subsequent appends chain to the previous event in this unit.
	CausationID string
}

// UnitOfWork wraps one transaction and the events appended under it.
type UnitOfWork struct {
	tx          *sql.Tx
	broker      *events.Broker
	scope       Scope
	lastEventID string
	buffer      []*events.Event
	finished    bool
}

// Begin opens a transaction for the given scope.
func Begin(ctx context.Context, db *sql.DB, broker *events.Broker, scope Scope) (*UnitOfWork, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &UnitOfWork{tx: tx, broker: broker, scope: scope}, nil
}

// Tx exposes the underlying transaction for state mutations that must
// commit atomically with the buffered events.
func (u *UnitOfWork) Tx() *sql.Tx {
	return u.tx
}

// Scope returns the mutable scope. Services narrow it as context becomes
// known (e.g. after creating a run, SetRun threads its id into every
// subsequent event).
func (u *UnitOfWork) Scope() *Scope {
	return &u.scope
}

// Append writes an event row on the given stream inside the transaction
// and buffers it for publication on commit. Returns the persisted event.
func (u *UnitOfWork) Append(ctx context.Context, streamType, streamID, eventType string, data any) (*events.Event, error) {
	if u.finished {
		return nil, fmt.Errorf("append on finished unit of work")
	}

	payload, err := marshalData(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	if u.scope.CorrelationID == "" {
		u.scope.CorrelationID = ids.New(ids.PrefixCorrelation)
	}

	seq, err := events.NextSeq(ctx, u.tx, streamType, streamID)
	if err != nil {
		return nil, err
	}

	e := &events.Event{
		ID:            ids.New(ids.PrefixEvent),
		EventType:     eventType,
		WorkspaceID:   u.scope.WorkspaceID,
		RoomID:        nilIfEmpty(u.scope.RoomID),
		ThreadID:      nilIfEmpty(u.scope.ThreadID),
		RunID:         nilIfEmpty(u.scope.RunID),
		StepID:        nilIfEmpty(u.scope.StepID),
		StreamType:    streamType,
		StreamID:      streamID,
		StreamSeq:     seq,
		CorrelationID: u.scope.CorrelationID,
		CausationID:   u.causation(),
		OccurredAt:    time.Now().UTC(),
		RecordedAt:    time.Now().UTC(),
		Data:          payload,
	}

	if err := events.Insert(ctx, u.tx, e); err != nil {
		return nil, err
	}

	u.lastEventID = e.ID
	u.buffer = append(u.buffer, e)
	return e, nil
}

// Emit appends an event routed by scope: the room stream when a room is
// in scope, otherwise the workspace stream.
func (u *UnitOfWork) Emit(ctx context.Context, eventType string, data any) (*events.Event, error) {
	if u.scope.RoomID != "" {
		return u.Append(ctx, events.StreamTypeRoom, u.scope.RoomID, eventType, data)
	}
	return u.Append(ctx, events.StreamTypeWorkspace, u.scope.WorkspaceID, eventType, data)
}

// Commit commits the transaction and, on success, publishes the buffered
// events to the broker in append order. No event is ever broadcast that
// is not durably persisted.
func (u *UnitOfWork) Commit() error {
	if u.finished {
		return fmt.Errorf("commit on finished unit of work")
	}
	u.finished = true
	if err := u.broker.PublishCommitted(u.tx.Commit, u.buffer); err != nil {
		return fmt.Errorf("failed to commit unit of work: %w", err)
	}
	return nil
}

// Rollback aborts the transaction and discards the event buffer. Safe to
// defer after a successful Commit.
func (u *UnitOfWork) Rollback() {
	if u.finished {
		return
	}
	u.finished = true
	u.buffer = nil
	_ = u.tx.Rollback()
}

// causation returns the id of the immediately preceding event: the last
// event this unit appended, or the caller-provided parent.
func (u *UnitOfWork) causation() *string {
	if u.lastEventID != "" {
		id := u.lastEventID
		return &id
	}
	return nilIfEmpty(u.scope.CausationID)
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return json.RawMessage(`{}`), nil
	}
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(data)
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
