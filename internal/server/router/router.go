package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockledger/internal/server/handlers"
)

// HeaderRequestID carries the request correlation id.
const HeaderRequestID = "X-Request-ID"

// Handlers groups the HTTP adapters mounted by the router.
type Handlers struct {
	Batches     *handlers.BatchHandler
	Allocations *handlers.AllocationHandler
}

// New wires the Gin engine with required routes and middlewares. A nil
// gatherer leaves /metrics unmounted.
func New(h Handlers, gatherer prometheus.Gatherer, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestIDMiddleware())
	r.Use(zapLoggerMiddleware(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1", handlers.Tenant())
	{
		api.POST("/batches", h.Batches.Create)
		api.GET("/batches/:batchID/availability", h.Batches.Availability)
		api.POST("/batches/:batchID/losses", h.Batches.ApplyLosses)
		api.POST("/batches/:batchID/archive", h.Batches.Archive)
		api.GET("/batches/:batchID/history", h.Batches.History)

		api.POST("/batches/:batchID/allocations", h.Allocations.Allocate)
		api.GET("/batches/:batchID/allocations", h.Allocations.ListForBatch)
		api.POST("/batches/:batchID/transfers", h.Allocations.Transfer)
		api.PATCH("/allocations/:allocationID", h.Allocations.Update)

		api.POST("/houses", h.Allocations.CreateHouse)
		api.GET("/houses/:houseID/allocations", h.Allocations.ListForHouse)
	}

	if logger != nil {
		logger.Info("router initialized")
	}

	return r
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

func zapLoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString("request_id")),
			zap.String("farm_id", handlers.FarmID(c)))
	}
}
