package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"hostel-allocation-backend/internal/allocation"
	"hostel-allocation-backend/internal/export"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/occupancy"
	"hostel-allocation-backend/internal/parse"
	"hostel-allocation-backend/internal/store"
)

type createHostelRequest struct {
	Name string           `json:"name" binding:"required"`
	Type model.HostelType `json:"type" binding:"required"`
}

// CreateHostel handles POST /api/hostels.
func (h *Handler) CreateHostel(c *gin.Context) {
	var req createHostelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	hostel, err := h.engine.CreateHostel(c.Request.Context(), req.Name, req.Type)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, hostel)
}

type updateHostelRequest struct {
	Name *string           `json:"name"`
	Type *model.HostelType `json:"type"`
}

// UpdateHostel handles PATCH /api/hostels/:id.
func (h *Handler) UpdateHostel(c *gin.Context) {
	var req updateHostelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Name == nil && req.Type == nil {
		badRequest(c, errors.New("nothing to update"))
		return
	}
	hostel, err := h.engine.UpdateHostel(c.Request.Context(), c.Param("id"), req.Name, req.Type)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hostel)
}

// ListHostels handles GET /api/hostels.
func (h *Handler) ListHostels(c *gin.Context) {
	hostels, err := h.occupancy.Hostels(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, hostels)
}

// HostelOccupancy handles GET /api/hostels/:id/occupancy.
func (h *Handler) HostelOccupancy(c *gin.Context) {
	summary, err := h.occupancy.Hostel(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, hostelNotFound(err))
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HostelRooms handles GET /api/hostels/:id/rooms.
func (h *Handler) HostelRooms(c *gin.Context) {
	ctx := c.Request.Context()
	hostelID := c.Param("id")
	if _, err := h.store.GetHostel(ctx, hostelID); err != nil {
		h.fail(c, hostelNotFound(err))
		return
	}
	rooms, err := h.occupancy.Rooms(ctx, hostelID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// ExportHostel handles GET /api/hostels/:id/export and streams an xlsx report.
func (h *Handler) ExportHostel(c *gin.Context) {
	buf, filename, err := h.reports.HostelReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, hostelNotFound(err))
		return
	}
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(filename))
	c.Data(http.StatusOK, export.ContentType, buf.Bytes())
}

type createRoomRequest struct {
	RoomNumber string `json:"room_number" binding:"required"`
	Floor      *int   `json:"floor"`
	Capacity   int    `json:"capacity" binding:"required"`
}

// CreateRoom handles POST /api/hostels/:id/rooms. Without an explicit floor
// the floor is read from the room number label.
func (h *Handler) CreateRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var floor int
	if req.Floor != nil {
		floor = *req.Floor
	} else {
		label, err := parse.ParseRoomLabel(req.RoomNumber)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: %v", allocation.ErrInvalidRoom, err))
			return
		}
		floor = label.Floor
	}

	room, err := h.engine.CreateRoom(c.Request.Context(), c.Param("id"), req.RoomNumber, floor, req.Capacity)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

func hostelNotFound(err error) error {
	if errors.Is(err, occupancy.ErrNotFound) || errors.Is(err, store.ErrNotFound) {
		return allocation.ErrHostelNotFound
	}
	return err
}
