package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warden-dev/warden/pkg/events"
	"github.com/warden-dev/warden/pkg/ids"
	"github.com/warden-dev/warden/pkg/models"
	"github.com/warden-dev/warden/pkg/uow"
)

// RoomService manages the room, thread, and message projections.
type RoomService struct {
	db     *sql.DB
	broker *events.Broker
}

// NewRoomService creates a room service.
func NewRoomService(db *sql.DB, broker *events.Broker) *RoomService {
	return &RoomService{db: db, broker: broker}
}

// CreateRoom creates a room and emits room.created on its stream.
func (s *RoomService) CreateRoom(ctx context.Context, workspaceID, title string) (*models.Room, error) {
	if title == "" {
		return nil, NewValidationError("title", "title is required")
	}

	roomID := ids.New(ids.PrefixRoom)
	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{
		WorkspaceID: workspaceID,
		RoomID:      roomID,
	})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	e, err := u.Emit(ctx, events.EventTypeRoomCreated, map[string]any{
		"room_id": roomID,
		"title":   title,
	})
	if err != nil {
		return nil, err
	}

	room := &models.Room{
		RoomID:      roomID,
		WorkspaceID: workspaceID,
		Title:       title,
		CreatedAt:   time.Now().UTC(),
		LastEventID: e.ID,
	}
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO proj_rooms (room_id, workspace_id, title, last_event_id)
		VALUES ($1, $2, $3, $4)`,
		roomID, workspaceID, title, e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return room, nil
}

// CreateThread creates a thread under a room and emits thread.created.
func (s *RoomService) CreateThread(ctx context.Context, workspaceID, roomID, title string) (*models.Thread, error) {
	if title == "" {
		return nil, NewValidationError("title", "title is required")
	}
	if _, err := s.GetRoom(ctx, workspaceID, roomID); err != nil {
		return nil, err
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{
		WorkspaceID: workspaceID,
		RoomID:      roomID,
	})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	threadID := ids.New(ids.PrefixThread)
	u.Scope().ThreadID = threadID

	e, err := u.Emit(ctx, events.EventTypeThreadCreated, map[string]any{
		"thread_id": threadID,
		"room_id":   roomID,
		"title":     title,
	})
	if err != nil {
		return nil, err
	}

	thread := &models.Thread{
		ThreadID:    threadID,
		WorkspaceID: workspaceID,
		RoomID:      roomID,
		Title:       title,
		CreatedAt:   time.Now().UTC(),
		LastEventID: e.ID,
	}
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO proj_threads (thread_id, workspace_id, room_id, title, last_event_id)
		VALUES ($1, $2, $3, $4, $5)`,
		threadID, workspaceID, roomID, title, e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create thread: %w", err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return thread, nil
}

// CreateMessage posts a message on a thread and emits message.created on
// the room stream. Messages originate outside the event chain, so the
// event's causation is null.
func (s *RoomService) CreateMessage(ctx context.Context, workspaceID, threadID, authorType, authorID, body string) (*models.Message, error) {
	if body == "" {
		return nil, NewValidationError("body", "body is required")
	}
	if authorType == "" || authorID == "" {
		return nil, NewValidationError("author", "author_type and author_id are required")
	}

	thread, err := s.GetThread(ctx, workspaceID, threadID)
	if err != nil {
		return nil, err
	}

	u, err := uow.Begin(ctx, s.db, s.broker, uow.Scope{
		WorkspaceID: workspaceID,
		RoomID:      thread.RoomID,
		ThreadID:    threadID,
	})
	if err != nil {
		return nil, err
	}
	defer u.Rollback()

	messageID := ids.New(ids.PrefixMessage)
	e, err := u.Emit(ctx, events.EventTypeMessageCreated, map[string]any{
		"message_id":  messageID,
		"thread_id":   threadID,
		"room_id":     thread.RoomID,
		"author_type": authorType,
		"author_id":   authorID,
	})
	if err != nil {
		return nil, err
	}

	msg := &models.Message{
		MessageID:   messageID,
		WorkspaceID: workspaceID,
		RoomID:      thread.RoomID,
		ThreadID:    threadID,
		AuthorType:  authorType,
		AuthorID:    authorID,
		Body:        body,
		CreatedAt:   time.Now().UTC(),
		LastEventID: e.ID,
	}
	_, err = u.Tx().ExecContext(ctx, `
		INSERT INTO proj_messages (message_id, workspace_id, room_id, thread_id, author_type, author_id, body, last_event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		messageID, workspaceID, thread.RoomID, threadID, authorType, authorID, body, e.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}

	if err := u.Commit(); err != nil {
		return nil, err
	}
	return msg, nil
}

// GetRoom loads a room within the workspace.
func (s *RoomService) GetRoom(ctx context.Context, workspaceID, roomID string) (*models.Room, error) {
	room := &models.Room{}
	err := s.db.QueryRowContext(ctx, `
		SELECT room_id, workspace_id, title, created_at, last_event_id
		FROM proj_rooms
		WHERE workspace_id = $1 AND room_id = $2`,
		workspaceID, roomID,
	).Scan(&room.RoomID, &room.WorkspaceID, &room.Title, &room.CreatedAt, &room.LastEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room %s: %w", roomID, err)
	}
	return room, nil
}

// GetThread loads a thread within the workspace.
func (s *RoomService) GetThread(ctx context.Context, workspaceID, threadID string) (*models.Thread, error) {
	thread := &models.Thread{}
	err := s.db.QueryRowContext(ctx, `
		SELECT thread_id, workspace_id, room_id, title, created_at, last_event_id
		FROM proj_threads
		WHERE workspace_id = $1 AND thread_id = $2`,
		workspaceID, threadID,
	).Scan(&thread.ThreadID, &thread.WorkspaceID, &thread.RoomID, &thread.Title, &thread.CreatedAt, &thread.LastEventID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	return thread, nil
}
