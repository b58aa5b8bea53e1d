package api

import (
	"errors"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hostel-allocation-backend/internal/allocation"
	"hostel-allocation-backend/internal/export"
	"hostel-allocation-backend/internal/occupancy"
	"hostel-allocation-backend/internal/pending"
	"hostel-allocation-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	engine    *allocation.Engine
	occupancy *occupancy.Aggregator
	pending   *pending.Queue
	reports   *export.Reporter
	webpush   *webpush.Options
	log       *zap.Logger
}

// NewHandler creates a new API handler. Read views are built over the
// store's connection and always see committed rows.
func NewHandler(s store.Store, engine *allocation.Engine, webpushOptions *webpush.Options, log *zap.Logger) *Handler {
	agg := occupancy.New(s.DB())
	return &Handler{
		store:     s,
		engine:    engine,
		occupancy: agg,
		pending:   pending.New(s.DB()),
		reports:   export.NewReporter(agg, log),
		webpush:   webpushOptions,
		log:       log,
	}
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// fail maps err onto an HTTP status through its allocation error kind.
// Internal errors are logged and never echoed to the client.
func (h *Handler) fail(c *gin.Context, err error) {
	kind, code := allocation.Classify(err)
	if kind == allocation.KindInternal && errors.Is(err, occupancy.ErrNotFound) {
		kind, code = allocation.KindNotFound, "NOT_FOUND"
	}

	var status int
	switch kind {
	case allocation.KindValidation:
		status = http.StatusBadRequest
	case allocation.KindNotFound:
		status = http.StatusNotFound
	case allocation.KindConflict:
		status = http.StatusConflict
	default:
		_ = c.Error(err)
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: "internal error", Code: code})
		return
	}
	c.AbortWithStatusJSON(status, errorResponse{Error: err.Error(), Code: code})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
}

// Healthz reports liveness and database reachability.
func (h *Handler) Healthz(c *gin.Context) {
	sqlDB, err := h.store.DB().DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
