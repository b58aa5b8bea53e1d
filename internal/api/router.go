package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"hostel-allocation-backend/internal/mw"
)

// RouterOptions carries the cross-cutting pieces of the HTTP surface. Zero
// values switch the matching middleware off.
type RouterOptions struct {
	Logger          *zap.Logger
	Metrics         http.Handler
	RateLimitPerSec float64
	RateLimitBurst  int
	CacheTTL        time.Duration
	Idempotency     mw.ResponseStore
	IdempotencyTTL  time.Duration
}

// NewRouter creates and configures a new Gin router.
func NewRouter(h *Handler, opts RouterOptions) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(mw.Logger(log), gin.Recovery())

	r.GET("/healthz", h.Healthz)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	api := r.Group("/api")
	if opts.RateLimitPerSec > 0 {
		api.Use(mw.RateLimiter(mw.NewIPRateLimiter(rate.Limit(opts.RateLimitPerSec), opts.RateLimitBurst, 10*time.Minute)))
	}

	// The hostel listing is cached; every write below flushes it.
	var caching gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if opts.CacheTTL > 0 {
		caching = mw.Cache(cache.New(opts.CacheTTL, 2*opts.CacheTTL), opts.CacheTTL)
	}

	writes := api.Group("", caching)
	if opts.Idempotency != nil {
		writes.Use(mw.Idempotency(opts.Idempotency, opts.IdempotencyTTL, log))
	}
	{
		writes.POST("/hostels", h.CreateHostel)
		writes.PATCH("/hostels/:id", h.UpdateHostel)
		writes.POST("/hostels/:id/rooms", h.CreateRoom)
		writes.DELETE("/rooms/:id", h.DeleteRoom)

		writes.POST("/allocations", h.Allocate)
		writes.POST("/allocations/transfer", h.Transfer)
		writes.POST("/allocations/vacate", h.Vacate)

		writes.POST("/students", h.RegisterStudent)
	}

	api.GET("/hostels", caching, h.ListHostels)
	api.GET("/hostels/:id/occupancy", h.HostelOccupancy)
	api.GET("/hostels/:id/rooms", h.HostelRooms)
	api.GET("/hostels/:id/export", h.ExportHostel)

	api.GET("/rooms/available", h.AvailableRooms)
	api.GET("/rooms/:id/occupancy", h.RoomOccupancy)
	api.GET("/rooms/:id/residents", h.RoomResidents)

	api.GET("/students/:id/allocations", h.History)
	api.GET("/pending", h.Pending)

	api.GET("/subscriptions", h.GetSubscription)
	api.PUT("/subscriptions", h.PutSubscription)
	api.DELETE("/subscriptions", h.DeleteSubscription)
	api.GET("/vapid_public_key", h.GetVAPIDPublicKey)

	return r
}
