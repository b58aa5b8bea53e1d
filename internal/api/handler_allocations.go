package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"hostel-allocation-backend/internal/allocation"
	"hostel-allocation-backend/internal/model"
	"hostel-allocation-backend/internal/pending"
)

type allocateRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	RoomID    string `json:"room_id" binding:"required"`
}

// Allocate handles POST /api/allocations.
func (h *Handler) Allocate(c *gin.Context) {
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.engine.Allocate(c.Request.Context(), req.StudentID, req.RoomID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

type transferRequest struct {
	StudentID string `json:"student_id" binding:"required"`
	NewRoomID string `json:"new_room_id" binding:"required"`
}

// Transfer handles POST /api/allocations/transfer.
func (h *Handler) Transfer(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.engine.Transfer(c.Request.Context(), req.StudentID, req.NewRoomID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

type vacateRequest struct {
	StudentID string `json:"student_id" binding:"required"`
}

// Vacate handles POST /api/allocations/vacate.
func (h *Handler) Vacate(c *gin.Context) {
	var req vacateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.Vacate(c.Request.Context(), req.StudentID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// History handles GET /api/students/:id/allocations.
func (h *Handler) History(c *gin.Context) {
	history, err := h.engine.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

type pendingQuery struct {
	Gender    model.Gender `form:"gender"`
	ClassName string       `form:"class"`
	Limit     int          `form:"limit" binding:"omitempty,min=1,max=500"`
	Offset    int          `form:"offset" binding:"omitempty,min=0"`
}

// Pending handles GET /api/pending.
func (h *Handler) Pending(c *gin.Context) {
	var q pendingQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	q.Gender = model.Gender(strings.ToUpper(string(q.Gender)))
	if q.Gender != "" && !q.Gender.Valid() {
		h.fail(c, fmt.Errorf("%w: %q", allocation.ErrInvalidGender, q.Gender))
		return
	}

	students, err := h.pending.Students(c.Request.Context(), pending.Filter{
		Gender:    q.Gender,
		ClassName: q.ClassName,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, students)
}

type registerStudentRequest struct {
	ID            string       `json:"id" binding:"required"`
	Name          string       `json:"name" binding:"required"`
	Gender        model.Gender `json:"gender" binding:"required"`
	ClassName     string       `json:"class_name"`
	AdmissionDate string       `json:"admission_date"` // 2006-01-02, defaults to today
}

// RegisterStudent handles POST /api/students.
func (h *Handler) RegisterStudent(c *gin.Context) {
	var req registerStudentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	student := &model.Student{
		ID:        req.ID,
		Name:      req.Name,
		Gender:    model.Gender(strings.ToUpper(string(req.Gender))),
		ClassName: req.ClassName,
	}
	if req.AdmissionDate != "" {
		admitted, err := time.Parse(time.DateOnly, req.AdmissionDate)
		if err != nil {
			h.fail(c, fmt.Errorf("%w: admission_date must be YYYY-MM-DD", allocation.ErrInvalidStudent))
			return
		}
		student.AdmissionDate = admitted
	}

	if err := h.engine.RegisterStudent(c.Request.Context(), student); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, student)
}
