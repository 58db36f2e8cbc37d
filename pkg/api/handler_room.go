package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CreateRoom creates a room.
func (s *Server) CreateRoom(c *gin.Context) {
	var req CreateRoomRequest
	if !bindJSON(c, &req) {
		return
	}

	room, err := s.rooms.CreateRoom(c.Request.Context(), workspace(c), req.Title)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// CreateThread creates a thread under a room.
func (s *Server) CreateThread(c *gin.Context) {
	var req CreateThreadRequest
	if !bindJSON(c, &req) {
		return
	}

	thread, err := s.rooms.CreateThread(c.Request.Context(), workspace(c), c.Param("id"), req.Title)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, thread)
}

// CreateMessage posts a message on a thread.
func (s *Server) CreateMessage(c *gin.Context) {
	var req CreateMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	msg, err := s.rooms.CreateMessage(c.Request.Context(), workspace(c), c.Param("id"),
		req.AuthorType, req.AuthorID, req.Body)
	if err != nil {
		mapServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}
