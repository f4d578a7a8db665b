package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/coursechat-server/internal/core"
	"github.com/vovakirdan/coursechat-server/internal/service/rooms"
	"github.com/vovakirdan/coursechat-server/internal/store"
)

// RoomHandlers provides HTTP handlers for course and room management endpoints.
type RoomHandlers struct {
	rooms *rooms.Service
	log   *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(svc *rooms.Service, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		rooms: svc,
		log:   logger,
	}
}

// CreateCourseRequest represents the create course request body.
type CreateCourseRequest struct {
	Title string `json:"title" binding:"required,max=128"`
}

// CreateRoomRequest represents the create room request body.
type CreateRoomRequest struct {
	CourseID int64  `json:"courseId" binding:"required,gt=0"`
	Name     string `json:"name" binding:"required,min=1,max=64"`
}

// CreateCourse handles course creation.
// POST /api/courses
func (h *RoomHandlers) CreateCourse(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create course request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	course, err := h.rooms.CreateCourse(c.Request.Context(), id, req.Title)
	if err != nil {
		h.writeServiceError(c, err, "failed to create course")
		return
	}

	c.JSON(http.StatusCreated, courseResponse(course))
}

// CreateRoom handles room creation.
// POST /api/rooms
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create room request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	room, err := h.rooms.CreateRoom(c.Request.Context(), id, req.CourseID, req.Name)
	if err != nil {
		h.writeServiceError(c, err, "failed to create room")
		return
	}

	c.JSON(http.StatusCreated, roomResponse(room))
}

// ListRooms lists the rooms of a course.
// GET /api/rooms?courseId=X
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	courseID, err := strconv.ParseInt(c.Query("courseId"), 10, 64)
	if err != nil || courseID <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "courseId is required"})
		return
	}

	list, err := h.rooms.ListRoomsForCourse(c.Request.Context(), courseID)
	if err != nil {
		h.writeServiceError(c, err, "failed to list rooms")
		return
	}

	h.log.Debug().Int64("course_id", courseID).Int("room_count", len(list)).Msg("rooms listed successfully")
	c.JSON(http.StatusOK, roomResponses(list))
}

// DeleteRoom deletes a room and evicts its live members.
// DELETE /api/rooms/:id
func (h *RoomHandlers) DeleteRoom(c *gin.Context) {
	id, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	if err := h.rooms.DeleteRoom(c.Request.Context(), roomID, id); err != nil {
		h.writeServiceError(c, err, "failed to delete room")
		return
	}

	c.Status(http.StatusNoContent)
}

// JoinRoom adds the caller to the room's durable participants.
// POST /api/rooms/:id/join
func (h *RoomHandlers) JoinRoom(c *gin.Context) {
	h.membership(c, h.rooms.JoinRoom, "failed to join room")
}

// LeaveRoom removes the caller from the room's durable participants.
// POST /api/rooms/:id/leave
func (h *RoomHandlers) LeaveRoom(c *gin.Context) {
	h.membership(c, h.rooms.LeaveRoom, "failed to leave room")
}

func (h *RoomHandlers) membership(
	c *gin.Context,
	apply func(context.Context, int64, core.Identity) (*store.Room, error),
	failMsg string,
) {
	id, ok := identityFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	room, err := apply(c.Request.Context(), roomID, id)
	if err != nil {
		h.writeServiceError(c, err, failMsg)
		return
	}

	c.JSON(http.StatusOK, roomResponse(room))
}

// History returns a page of room messages.
// GET /api/rooms/:id/messages?limit=&before=
func (h *RoomHandlers) History(c *gin.Context) {
	roomID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid room id"})
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
	}

	var before *int64
	if raw := c.Query("before"); raw != "" {
		v, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before"})
			return
		}
		before = &v
	}

	msgs, err := h.rooms.History(c.Request.Context(), roomID, limit, before)
	if err != nil {
		h.writeServiceError(c, err, "failed to load history")
		return
	}

	c.JSON(http.StatusOK, messageResponses(msgs))
}

func (h *RoomHandlers) writeServiceError(c *gin.Context, err error, msg string) {
	switch {
	case errors.Is(err, rooms.ErrRoomNotFound), errors.Is(err, rooms.ErrCourseNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, rooms.ErrForbidden), errors.Is(err, rooms.ErrNotCourseAuthor):
		c.JSON(http.StatusForbidden, ErrorResponse{Error: err.Error()})
	case errors.Is(err, rooms.ErrInvalidName), errors.Is(err, rooms.ErrInvalidTitle):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.Error().Err(err).Msg(msg)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}
}
