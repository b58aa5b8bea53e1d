package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"hostel-allocation-backend/internal/allocation"
	"hostel-allocation-backend/internal/eligibility"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/occupancy"
	"hostel-allocation-backend/internal/store"
)

// DeleteRoom handles DELETE /api/rooms/:id.
func (h *Handler) DeleteRoom(c *gin.Context) {
	if err := h.engine.DeleteRoom(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RoomOccupancy handles GET /api/rooms/:id/occupancy.
func (h *Handler) RoomOccupancy(c *gin.Context) {
	occ, err := h.occupancy.Room(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, roomNotFound(err))
		return
	}
	c.JSON(http.StatusOK, occ)
}

// RoomResidents handles GET /api/rooms/:id/residents.
func (h *Handler) RoomResidents(c *gin.Context) {
	residents, err := h.occupancy.Residents(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, roomNotFound(err))
		return
	}
	c.JSON(http.StatusOK, residents)
}

// AvailableRooms handles GET /api/rooms/available. With student_id the list
// is narrowed to the hostels that student may live in; with type to that
// hostel type.
func (h *Handler) AvailableRooms(c *gin.Context) {
	ctx := c.Request.Context()

	if studentID := c.Query("student_id"); studentID != "" {
		student, err := h.store.GetStudent(ctx, studentID)
		if errors.Is(err, store.ErrNotFound) {
			err = allocation.ErrStudentNotFound
		}
		if err != nil {
			h.fail(c, err)
			return
		}
		rooms, err := h.occupancy.AvailableRooms(ctx, "")
		if err != nil {
			h.fail(c, err)
			return
		}
		eligible, err := eligibility.Filter(student.Gender, rooms)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, eligible)
		return
	}

	hostelType := model.HostelType(c.Query("type"))
	if hostelType != "" && !hostelType.Valid() {
		h.fail(c, allocation.ErrInvalidHostel)
		return
	}
	rooms, err := h.occupancy.AvailableRooms(ctx, hostelType)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

func roomNotFound(err error) error {
	if errors.Is(err, occupancy.ErrNotFound) {
		return allocation.ErrRoomNotFound
	}
	return err
}
